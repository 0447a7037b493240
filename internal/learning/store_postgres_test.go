package learning_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/p-n-ai/pai-lingo/internal/learning"
	"github.com/p-n-ai/pai-lingo/internal/platform/database"
)

func newPostgresPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := postgres.Run(ctx, "postgres:17-alpine",
		postgres.WithDatabase("pai_lingo"),
		postgres.WithUsername("pai"),
		postgres.WithPassword("pai"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = ctr.Terminate(context.Background())
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString() error = %v", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New() error = %v", err)
	}
	t.Cleanup(pool.Close)

	if err := database.Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return pool
}

func TestPostgresStore_Contract(t *testing.T) {
	pool := newPostgresPool(t)

	store, err := learning.NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	runStoreContract(t, store)

	t.Run("event logger", func(t *testing.T) {
		logger := learning.NewPostgresEventLogger(pool)
		err := logger.LogEvent(learning.Event{
			LearnerID: "contract-events",
			EventType: learning.EventLessonCompleted,
			Data:      map[string]any{"unit_id": "u1"},
		})
		if err != nil {
			t.Fatalf("LogEvent() error = %v", err)
		}

		var n int
		if err := pool.QueryRow(context.Background(),
			`SELECT COUNT(*) FROM learning_events WHERE learner_id = $1 AND data->>'unit_id' = 'u1'`,
			"contract-events",
		).Scan(&n); err != nil {
			t.Fatalf("count events: %v", err)
		}
		if n != 1 {
			t.Errorf("events = %d, want 1", n)
		}
	})
}

func TestNewPostgresStore_NilPool(t *testing.T) {
	if _, err := learning.NewPostgresStore(nil); err == nil {
		t.Fatal("expected error for nil pool")
	}
}
