package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid-redis", "redis://localhost:6379", false},
		{"valid-with-db", "redis://localhost:6379/0", false},
		{"empty", "", true},
		{"bad-scheme", "http://localhost:6379", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}

	ctx := t.Context()
	_, err := New(ctx, "redis://localhost:59999")
	if err == nil {
		t.Fatal("New() should return error for unreachable host")
	}
}

// runStoreContract exercises behaviour shared by every Store.
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	if _, err := s.Get(ctx, "summary:missing"); !errors.Is(err, ErrMiss) {
		t.Errorf("Get(missing) error = %v, want ErrMiss", err)
	}

	if err := s.Set(ctx, "summary:l1", []byte(`{"a":1}`), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := s.Get(ctx, "summary:l1")
	if err != nil || string(got) != `{"a":1}` {
		t.Errorf("Get() = %q, %v", got, err)
	}
	if err := s.Delete(ctx, "summary:l1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "summary:l1"); !errors.Is(err, ErrMiss) {
		t.Errorf("Get after Delete error = %v, want ErrMiss", err)
	}

	ok, err := s.SetNX(ctx, "lock:sweep", []byte("a"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX() = %v, %v", ok, err)
	}
	ok, err = s.SetNX(ctx, "lock:sweep", []byte("b"), time.Minute)
	if err != nil || ok {
		t.Errorf("second SetNX() = %v, %v; want false", ok, err)
	}

	for i, id := range []string{"l3", "l1", "l2"} {
		if err := s.Touch(ctx, "active", id, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatal(err)
		}
	}
	members, err := s.MembersSince(ctx, "active", base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 || members[0] != "l1" || members[1] != "l2" {
		t.Errorf("MembersSince() = %v, want [l1 l2]", members)
	}

	n, err := s.PruneBefore(ctx, "active", base.Add(time.Hour))
	if err != nil || n != 1 {
		t.Errorf("PruneBefore() = %d, %v; want 1", n, err)
	}
	members, _ = s.MembersSince(ctx, "active", base.Add(-24*time.Hour))
	if len(members) != 2 {
		t.Errorf("members after prune = %v", members)
	}
}

func TestMemory(t *testing.T) {
	runStoreContract(t, NewMemory())
}

func TestMemory_Expiry(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })
	ctx := context.Background()

	_ = m.Set(ctx, "k", []byte("v"), time.Minute)
	now = now.Add(time.Minute)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Errorf("Get after TTL error = %v, want ErrMiss", err)
	}
	ok, _ := m.SetNX(ctx, "k", []byte("v2"), 0)
	if !ok {
		t.Error("SetNX should succeed on an expired key")
	}
}

func TestLock(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := NewLock(m, "lock:sweep", time.Minute)
	b := NewLock(m, "lock:sweep", time.Minute)

	if ok, _ := a.TryAcquire(ctx); !ok {
		t.Fatal("first acquire failed")
	}
	if ok, _ := b.TryAcquire(ctx); ok {
		t.Fatal("second acquire should fail while held")
	}
	if err := a.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, _ := b.TryAcquire(ctx); !ok {
		t.Error("acquire after release failed")
	}
}

func TestRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := t.Context()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	endpoint, err := ctr.Endpoint(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(ctx, "redis://"+endpoint)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	runStoreContract(t, c)
}
