// Package streak tracks daily activity continuity.
package streak

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/p-n-ai/pai-lingo/internal/learning"
)

// Tracker updates a learner's streak on qualifying activity.
type Tracker struct {
	store learning.Store
	loc   *time.Location
}

// NewTracker creates a tracker measuring day boundaries in loc. A nil loc
// uses UTC.
func NewTracker(store learning.Store, loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{store: store, loc: loc}
}

// OnQualifyingActivity records activity at now. Activity on the day after
// the last one extends the streak, a longer gap restarts it at 1, and
// activity on the same (or an earlier) day changes nothing.
func (t *Tracker) OnQualifyingActivity(ctx context.Context, learnerID string, now time.Time) (learning.StreakState, error) {
	var out learning.StreakState
	err := t.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		var err error
		out, err = t.Apply(ctx, tx, now)
		return err
	})
	if err != nil {
		return out, fmt.Errorf("update streak: %w", err)
	}
	return out, nil
}

// Apply performs the streak update inside an existing transaction.
func (t *Tracker) Apply(ctx context.Context, tx learning.Tx, now time.Time) (learning.StreakState, error) {
	current, err := tx.Streak(ctx)
	if errors.Is(err, learning.ErrNotFound) {
		s := learning.StreakState{
			LearnerID:        tx.LearnerID(),
			CurrentStreak:    1,
			LongestStreak:    1,
			LastActivityDate: now,
		}
		return s, tx.SaveStreak(ctx, &s)
	}
	if err != nil {
		return learning.StreakState{}, err
	}

	s := *current
	switch delta := DaysBetween(s.LastActivityDate, now, t.loc); {
	case delta <= 0:
		return s, nil
	case delta == 1:
		s.CurrentStreak++
	default:
		s.CurrentStreak = 1
	}
	if s.CurrentStreak > s.LongestStreak {
		s.LongestStreak = s.CurrentStreak
	}
	s.LastActivityDate = now
	return s, tx.SaveStreak(ctx, &s)
}

// DaysBetween returns the number of calendar days from a to b in loc.
func DaysBetween(a, b time.Time, loc *time.Location) int {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
