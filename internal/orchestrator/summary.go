package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-lingo/internal/learning"
	"github.com/p-n-ai/pai-lingo/internal/platform/cache"
)

const (
	summaryKeyPrefix = "learn:summary:"
	// ActiveSet is the sorted set of learners scored by last activity.
	ActiveSet = "learn:active"
)

// Summary returns the learner's progress aggregate, from cache when present.
func (o *Orchestrator) Summary(ctx context.Context, learnerID string) (learning.ProgressSummary, error) {
	if o.cache != nil {
		b, err := o.cache.Get(ctx, summaryKeyPrefix+learnerID)
		if err == nil {
			var s learning.ProgressSummary
			if err := json.Unmarshal(b, &s); err == nil {
				return s, nil
			}
		} else if !errors.Is(err, cache.ErrMiss) {
			slog.Warn("summary cache read failed", "learner_id", learnerID, "error", err)
		}
	}
	return o.RefreshSummary(ctx, learnerID)
}

// RefreshSummary recomputes the progress aggregate and caches it. Cache
// failures are logged and do not fail the call. It does not count as learner
// activity.
func (o *Orchestrator) RefreshSummary(ctx context.Context, learnerID string) (learning.ProgressSummary, error) {
	now := o.now()
	var s learning.ProgressSummary
	err := o.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		var err error
		s, err = learning.Summarize(ctx, tx, now, o.policy)
		return err
	})
	if err != nil {
		return s, fmt.Errorf("summarize progress: %w", err)
	}
	if o.cache == nil {
		return s, nil
	}

	if b, err := json.Marshal(s); err == nil {
		if err := o.cache.Set(ctx, summaryKeyPrefix+learnerID, b, o.summaryTTL); err != nil {
			slog.Warn("summary cache write failed", "learner_id", learnerID, "error", err)
		}
	}
	return s, nil
}

// markActive scores the learner in the activity index at the current time.
// Only learner-initiated calls mark activity; the sweep never does.
func (o *Orchestrator) markActive(ctx context.Context, learnerID string) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Touch(ctx, ActiveSet, learnerID, o.now()); err != nil {
		slog.Warn("activity index write failed", "learner_id", learnerID, "error", err)
	}
}

// ActiveLearners returns learners active within the lookback window.
func (o *Orchestrator) ActiveLearners(ctx context.Context, lookback time.Duration) ([]string, error) {
	if o.cache == nil {
		return nil, fmt.Errorf("no activity index configured")
	}
	ids, err := o.cache.MembersSince(ctx, ActiveSet, o.now().Add(-lookback))
	if err != nil {
		return nil, fmt.Errorf("list active learners: %w", err)
	}
	return ids, nil
}

// PruneActivity drops learners inactive for longer than retention from the
// activity index.
func (o *Orchestrator) PruneActivity(ctx context.Context, retention time.Duration) (int64, error) {
	if o.cache == nil {
		return 0, nil
	}
	n, err := o.cache.PruneBefore(ctx, ActiveSet, o.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune activity index: %w", err)
	}
	return n, nil
}
