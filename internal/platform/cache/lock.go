package cache

import (
	"context"
	"time"
)

// Lock is a best-effort mutual-exclusion lease held for at most its TTL.
// It keeps two engine instances from sweeping at the same time.
type Lock struct {
	store Store
	key   string
	ttl   time.Duration
}

// NewLock creates a lease on key.
func NewLock(store Store, key string, ttl time.Duration) *Lock {
	return &Lock{store: store, key: key, ttl: ttl}
}

// TryAcquire takes the lease if nobody holds it.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	return l.store.SetNX(ctx, l.key, []byte(time.Now().UTC().Format(time.RFC3339)), l.ttl)
}

// Release drops the lease.
func (l *Lock) Release(ctx context.Context) error {
	return l.store.Delete(ctx, l.key)
}
