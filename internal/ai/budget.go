package ai

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// BudgetChecker checks and records per-learner token usage against a daily
// budget.
type BudgetChecker interface {
	// Check returns true if the learner has budget remaining.
	Check(ctx context.Context, learnerID string) (bool, error)
	// Record records token usage for a learner.
	Record(ctx context.Context, learnerID string, tokens int) error
	// Usage returns current usage and the budget for a learner.
	Usage(ctx context.Context, learnerID string) (used int64, budget int64, err error)
}

// InMemoryBudget is an in-memory budget tracker for development and tests.
// A zero limit means unlimited.
type InMemoryBudget struct {
	mu      sync.RWMutex
	limit   int64
	budgets map[string]int64 // learner -> budget override
	usage   map[string]int64 // learner -> tokens used
}

// NewInMemoryBudget creates a new in-memory budget tracker with a default
// per-learner limit.
func NewInMemoryBudget(limit int64) *InMemoryBudget {
	return &InMemoryBudget{
		limit:   limit,
		budgets: make(map[string]int64),
		usage:   make(map[string]int64),
	}
}

// SetBudget overrides the token budget for one learner.
func (b *InMemoryBudget) SetBudget(learnerID string, tokens int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.budgets[learnerID] = tokens
}

func (b *InMemoryBudget) budgetFor(learnerID string) int64 {
	if v, ok := b.budgets[learnerID]; ok {
		return v
	}
	return b.limit
}

func (b *InMemoryBudget) Check(_ context.Context, learnerID string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	budget := b.budgetFor(learnerID)
	if budget <= 0 {
		return true, nil
	}
	return b.usage[learnerID] < budget, nil
}

func (b *InMemoryBudget) Record(_ context.Context, learnerID string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage[learnerID] += int64(tokens)
	return nil
}

func (b *InMemoryBudget) Usage(_ context.Context, learnerID string) (int64, int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.usage[learnerID], b.budgetFor(learnerID), nil
}

// RedisBudget tracks usage in Redis with one counter per learner per UTC day.
type RedisBudget struct {
	client *redis.Client
	limit  int64
	prefix string
	now    func() time.Time
}

// NewRedisBudget creates a Redis-backed daily budget. A zero limit means
// unlimited.
func NewRedisBudget(client *redis.Client, limit int64) *RedisBudget {
	return &RedisBudget{
		client: client,
		limit:  limit,
		prefix: "ai_budget",
		now:    time.Now,
	}
}

func (b *RedisBudget) key(learnerID string) string {
	return b.prefix + ":" + b.now().UTC().Format("2006-01-02") + ":" + learnerID
}

func (b *RedisBudget) Check(ctx context.Context, learnerID string) (bool, error) {
	if b.limit <= 0 {
		return true, nil
	}
	used, _, err := b.Usage(ctx, learnerID)
	if err != nil {
		return false, err
	}
	return used < b.limit, nil
}

func (b *RedisBudget) Record(ctx context.Context, learnerID string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}
	key := b.key(learnerID)
	pipe := b.client.TxPipeline()
	pipe.IncrBy(ctx, key, int64(tokens))
	pipe.Expire(ctx, key, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record token usage: %w", err)
	}
	return nil
}

func (b *RedisBudget) Usage(ctx context.Context, learnerID string) (int64, int64, error) {
	raw, err := b.client.Get(ctx, b.key(learnerID)).Result()
	if err == redis.Nil {
		return 0, b.limit, nil
	}
	if err != nil {
		return 0, b.limit, fmt.Errorf("get token usage: %w", err)
	}
	used, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, b.limit, fmt.Errorf("parse token usage: %w", err)
	}
	return used, b.limit, nil
}
