package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/p-n-ai/pai-lingo/internal/learning"
)

// SweepReport summarizes one sweep tick.
type SweepReport struct {
	Processed int
	// Skipped counts learners not visited because the context ended.
	Skipped   int
	Remedials int
	Offered   int
	Generated int
	Failed    map[string]error
}

// Sweep re-runs the deferred work for each learner: remedial checks,
// deferred assessment offers, retries of course starts and of pending
// chapter generation. A sweep is not learner activity.
// Learners are independent; one learner's failure is recorded in the report
// and never aborts the batch. Cancellation is honoured between learners.
func (o *Orchestrator) Sweep(ctx context.Context, learnerIDs []string) SweepReport {
	report := SweepReport{Failed: make(map[string]error)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(o.concurrency)

	seen := make(map[string]bool, len(learnerIDs))
	for _, id := range learnerIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		if ctx.Err() != nil {
			mu.Lock()
			report.Skipped++
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				report.Skipped++
				mu.Unlock()
				return nil
			}
			stats, err := o.sweepLearner(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			report.Processed++
			report.Remedials += stats.Remedials
			report.Offered += stats.Offered
			report.Generated += stats.Generated
			if err != nil {
				report.Failed[id] = err
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}

func (o *Orchestrator) sweepLearner(ctx context.Context, learnerID string) (SweepReport, error) {
	var stats SweepReport
	var errs []error

	ids, err := o.remedial.OnMistakeRecorded(ctx, learnerID)
	stats.Remedials = len(ids)
	if err != nil {
		errs = append(errs, fmt.Errorf("remedial: %w", err))
	}

	offered, err := o.offerDeferred(ctx, learnerID)
	stats.Offered = len(offered)
	if err != nil {
		errs = append(errs, fmt.Errorf("gate: %w", err))
	}
	bridge, err := o.gate.OnBridgeCompleted(ctx, learnerID)
	if bridge.Offer {
		stats.Offered++
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("bridge: %w", err))
	}

	n, err := o.retryCourseRequests(ctx, learnerID)
	stats.Generated += n
	if err != nil {
		errs = append(errs, fmt.Errorf("course request: %w", err))
	}

	type pending struct {
		r     learning.ChapterRange
		level string
	}
	var todo []pending
	err = o.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		todo = nil
		ranges, err := o.gate.PendingGeneration(ctx, tx)
		if err != nil {
			return err
		}
		for _, r := range ranges {
			level, err := o.levelBefore(ctx, tx, r)
			if err != nil {
				return err
			}
			todo = append(todo, pending{r: r, level: level})
		}
		return nil
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("pending generation: %w", err))
	}
	for _, p := range todo {
		ids, err := o.generate(ctx, learnerID, p.level, p.r, learning.KindChapter)
		stats.Generated += len(ids)
		if err != nil {
			errs = append(errs, fmt.Errorf("generate %s: %w", p.r.Key(), err))
		}
	}

	if _, err := o.RefreshSummary(ctx, learnerID); err != nil {
		errs = append(errs, err)
	}

	err = errors.Join(errs...)
	if err != nil {
		slog.Warn("sweep failed for learner",
			"learner_id", learnerID,
			"error", err,
		)
	}
	return stats, err
}
