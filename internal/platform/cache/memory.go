package cache

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Store for single-instance deployments and tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	sets    map[string]map[string]int64
	now     func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		sets:    make(map[string]map[string]int64),
		now:     time.Now,
	}
}

// SetClock replaces the clock used for expiry. Used by tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) live(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return e, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return e, false
	}
	return e, true
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return nil, ErrMiss
	}
	return slices.Clone(e.value), nil
}

func (m *Memory) set(key string, value []byte, ttl time.Duration) {
	e := memoryEntry{value: slices.Clone(value)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(key, value, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.set(key, value, ttl)
	return true, nil
}

func (m *Memory) Touch(_ context.Context, set, member string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[set]
	if !ok {
		s = make(map[string]int64)
		m.sets[set] = s
	}
	s[member] = at.Unix()
	return nil
}

func (m *Memory) MembersSince(_ context.Context, set string, since time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type scored struct {
		member string
		score  int64
	}
	var out []scored
	for member, score := range m.sets[set] {
		if score >= since.Unix() {
			out = append(out, scored{member, score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score < out[j].score
		}
		return out[i].member < out[j].member
	})
	members := make([]string, len(out))
	for i, s := range out {
		members[i] = s.member
	}
	return members, nil
}

func (m *Memory) PruneBefore(_ context.Context, set string, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for member, score := range m.sets[set] {
		if score < before.Unix() {
			delete(m.sets[set], member)
			n++
		}
	}
	return n, nil
}

func (m *Memory) HealthCheck(context.Context) error { return nil }
