package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Router selects a provider based on task type and availability. Providers
// are tried in registration order, except that a task with a preferred
// provider tries that one first.
type Router struct {
	providers map[string]Provider
	fallback  []string // ordered fallback chain
	preferred map[TaskType]string
	budget    BudgetChecker
	mu        sync.RWMutex
}

// NewRouter creates a new AI router.
func NewRouter() *Router {
	return &Router{
		providers: make(map[string]Provider),
		preferred: make(map[TaskType]string),
	}
}

// Register adds a provider to the router.
func (r *Router) Register(name string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; !exists {
		r.fallback = append(r.fallback, name)
	}
	r.providers[name] = provider
}

// Prefer routes a task to the named provider first.
func (r *Router) Prefer(task TaskType, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preferred[task] = name
}

// SetBudget enables per-learner token budgeting.
func (r *Router) SetBudget(b BudgetChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.budget = b
}

func (r *Router) order(task TaskType) []string {
	names := slices.Clone(r.fallback)
	if p, ok := r.preferred[task]; ok {
		if i := slices.Index(names, p); i > 0 {
			names = append([]string{p}, slices.Delete(names, i, i+1)...)
		}
	}
	return names
}

// Complete routes a request to the best available provider.
func (r *Router) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.budget != nil && req.LearnerID != "" {
		ok, err := r.budget.Check(ctx, req.LearnerID)
		if err != nil {
			slog.Warn("budget check failed, allowing request",
				"learner_id", req.LearnerID,
				"error", err,
			)
		} else if !ok {
			return CompletionResponse{}, ErrBudgetExceeded
		}
	}

	var errs []error
	for _, name := range r.order(req.Task) {
		provider := r.providers[name]

		resp, err := provider.Complete(ctx, req)
		if err != nil {
			var apiErr *APIError
			slog.Warn("AI provider failed, trying next",
				"provider", name,
				"task", req.Task.String(),
				"temporary", errors.As(err, &apiErr) && apiErr.Temporary(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		resp.Provider = name

		slog.Debug("AI request completed",
			"provider", name,
			"task", req.Task.String(),
			"model", resp.Model,
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)

		if r.budget != nil && req.LearnerID != "" {
			if err := r.budget.Record(ctx, req.LearnerID, resp.TotalTokens()); err != nil {
				slog.Warn("failed to record token usage",
					"learner_id", req.LearnerID,
					"error", err,
				)
			}
		}
		return resp, nil
	}

	if len(errs) == 0 {
		return CompletionResponse{}, fmt.Errorf("no AI providers registered")
	}
	return CompletionResponse{}, fmt.Errorf("all AI providers failed: %w", errors.Join(errs...))
}

// HasProvider returns true if at least one provider is registered.
func (r *Router) HasProvider() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) > 0
}

// HealthCheck reports healthy when at least one provider answers.
func (r *Router) HealthCheck(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.providers) == 0 {
		return fmt.Errorf("no AI providers registered")
	}
	var errs []error
	for _, name := range r.fallback {
		err := r.providers[name].HealthCheck(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return errors.Join(errs...)
}
