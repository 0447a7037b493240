// Package mastery decides when lessons and chapters become complete.
package mastery

import (
	"context"
	"fmt"
	"time"

	"github.com/p-n-ai/pai-lingo/internal/learning"
)

// Result describes completions caused by one grading event.
type Result struct {
	LessonCompleted  bool
	ChapterCompleted bool
	// Unit is the unit owning the graded exercise, after evaluation.
	Unit *learning.LearningUnit
	// Chapter is the chapter-level unit that completed, if any. It is the
	// owning unit itself when that unit has no parent.
	Chapter *learning.LearningUnit
}

// Tracker re-evaluates unit completion after grading events.
type Tracker struct {
	now func() time.Time
}

// NewTracker creates a tracker. A nil clock defaults to time.Now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// OnExerciseGraded re-evaluates the unit owning exerciseID and, if that unit
// completes, its parent. Completion is monotonic: a completed unit is never
// re-opened. A failed completion write is returned to the caller so the
// surrounding transaction rolls back.
func (t *Tracker) OnExerciseGraded(ctx context.Context, tx learning.Tx, exerciseID string) (Result, error) {
	var res Result

	ex, err := tx.Exercise(ctx, exerciseID)
	if err != nil {
		return res, fmt.Errorf("get exercise: %w", err)
	}
	unit, err := tx.Unit(ctx, ex.UnitID)
	if err != nil {
		return res, fmt.Errorf("get unit: %w", err)
	}
	res.Unit = unit

	completed, err := t.evaluate(ctx, tx, unit)
	if err != nil {
		return res, err
	}
	if !completed {
		return res, nil
	}

	if unit.Kind == learning.KindLesson {
		res.LessonCompleted = true
	} else {
		res.ChapterCompleted = true
		res.Chapter = unit
	}

	if unit.ParentID == "" {
		return res, nil
	}
	parent, err := tx.Unit(ctx, unit.ParentID)
	if err != nil {
		return res, fmt.Errorf("get parent unit: %w", err)
	}
	parentDone, err := t.evaluate(ctx, tx, parent)
	if err != nil {
		return res, err
	}
	if parentDone && parent.Kind != learning.KindLesson {
		res.ChapterCompleted = true
		res.Chapter = parent
	}
	return res, nil
}

// evaluate completes u when it is eligible and reports whether it completed
// during this call.
func (t *Tracker) evaluate(ctx context.Context, tx learning.Tx, u *learning.LearningUnit) (bool, error) {
	if u.IsCompleted {
		return false, nil
	}
	eligible, err := Eligible(ctx, tx, u)
	if err != nil {
		return false, err
	}
	if !eligible {
		return false, nil
	}

	at := t.now()
	if err := tx.CompleteUnit(ctx, u.ID, at); err != nil {
		return false, fmt.Errorf("complete unit %s: %w", u.ID, err)
	}
	u.IsCompleted = true
	u.CompletedAt = &at
	return true, nil
}

// Eligible reports whether u satisfies its completion rule. A unit without
// children needs at least one exercise and all of them correct. A unit with
// children needs every child complete, and every direct exercise correct.
func Eligible(ctx context.Context, tx learning.Tx, u *learning.LearningUnit) (bool, error) {
	children, err := tx.Children(ctx, u.ID)
	if err != nil {
		return false, fmt.Errorf("list children: %w", err)
	}
	if len(children) == 0 {
		return u.AllExercisesCorrect(), nil
	}
	for _, c := range children {
		if !c.IsCompleted {
			return false, nil
		}
	}
	for _, e := range u.Exercises {
		if e.Outcome != learning.OutcomeCorrect {
			return false, nil
		}
	}
	return true, nil
}
