// Package scheduler drives the periodic sweep and the activity-index
// retention job. Core packages hold no timers; this package calls them.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/p-n-ai/pai-lingo/internal/orchestrator"
	"github.com/p-n-ai/pai-lingo/internal/platform/cache"
)

const (
	DefaultSweepInterval     = 4 * time.Hour
	DefaultLookback          = 7 * 24 * time.Hour
	DefaultRetention         = 30 * 24 * time.Hour
	DefaultRetentionInterval = 24 * time.Hour
)

// ErrLocked is returned by Tick when another instance holds the sweep lock.
var ErrLocked = errors.New("sweep already running")

// Sweeper is the engine surface the scheduler drives.
type Sweeper interface {
	ActiveLearners(ctx context.Context, lookback time.Duration) ([]string, error)
	Sweep(ctx context.Context, learnerIDs []string) orchestrator.SweepReport
	PruneActivity(ctx context.Context, retention time.Duration) (int64, error)
}

// Config holds scheduler settings. Zero durations use the defaults.
type Config struct {
	Sweeper           Sweeper
	Lock              *cache.Lock // optional cross-instance lock
	SweepInterval     time.Duration
	Lookback          time.Duration // how far back a learner counts as active
	Retention         time.Duration // activity-index entries older than this are pruned
	RetentionInterval time.Duration
	Location          *time.Location
}

// Runner schedules sweep and retention jobs.
type Runner struct {
	sweeper           Sweeper
	lock              *cache.Lock
	sweepInterval     time.Duration
	lookback          time.Duration
	retention         time.Duration
	retentionInterval time.Duration
	scheduler         *gocron.Scheduler
}

// New creates a runner. Jobs start with Start.
func New(cfg Config) *Runner {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	r := &Runner{
		sweeper:           cfg.Sweeper,
		lock:              cfg.Lock,
		sweepInterval:     orDefault(cfg.SweepInterval, DefaultSweepInterval),
		lookback:          orDefault(cfg.Lookback, DefaultLookback),
		retention:         orDefault(cfg.Retention, DefaultRetention),
		retentionInterval: orDefault(cfg.RetentionInterval, DefaultRetentionInterval),
		scheduler:         gocron.NewScheduler(loc),
	}
	r.scheduler.SingletonModeAll()
	return r
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Start schedules both jobs and runs them in the background until ctx is
// done or Stop is called. Each sweep is bounded by the sweep interval.
func (r *Runner) Start(ctx context.Context) error {
	if _, err := r.scheduler.Every(r.sweepInterval).Do(func() {
		tctx, cancel := context.WithTimeout(ctx, r.sweepInterval)
		defer cancel()
		if _, err := r.Tick(tctx); err != nil && !errors.Is(err, ErrLocked) {
			slog.Error("scheduled sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	if _, err := r.scheduler.Every(r.retentionInterval).Do(func() {
		if _, err := r.Prune(ctx); err != nil {
			slog.Error("retention prune failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule retention: %w", err)
	}

	r.scheduler.StartAsync()
	slog.Info("scheduler started",
		"sweep_interval", r.sweepInterval.String(),
		"lookback", r.lookback.String(),
		"retention_interval", r.retentionInterval.String(),
	)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// Stop halts all jobs.
func (r *Runner) Stop() {
	if r.scheduler.IsRunning() {
		r.scheduler.Stop()
	}
}

// Tick runs one sweep over recently active learners.
func (r *Runner) Tick(ctx context.Context) (orchestrator.SweepReport, error) {
	if r.lock != nil {
		ok, err := r.lock.TryAcquire(ctx)
		if err != nil {
			return orchestrator.SweepReport{}, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			slog.Info("sweep skipped, lock held elsewhere")
			return orchestrator.SweepReport{}, ErrLocked
		}
		defer func() {
			if err := r.lock.Release(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("release sweep lock failed", "error", err)
			}
		}()
	}

	start := time.Now()
	learners, err := r.sweeper.ActiveLearners(ctx, r.lookback)
	if err != nil {
		return orchestrator.SweepReport{}, err
	}
	report := r.sweeper.Sweep(ctx, learners)
	slog.Info("sweep finished",
		"processed", report.Processed,
		"skipped", report.Skipped,
		"remedials", report.Remedials,
		"offered", report.Offered,
		"generated", report.Generated,
		"failed", len(report.Failed),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}

// Prune removes learners inactive beyond the retention window from the
// activity index.
func (r *Runner) Prune(ctx context.Context) (int64, error) {
	n, err := r.sweeper.PruneActivity(ctx, r.retention)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("activity index pruned", "removed", n)
	}
	return n, nil
}
