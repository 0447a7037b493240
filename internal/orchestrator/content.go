package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/p-n-ai/pai-lingo/internal/learning"
	"github.com/p-n-ai/pai-lingo/internal/synthesis"
)

// StartResult describes chapters created for a new learner.
type StartResult struct {
	Range    learning.ChapterRange
	Chapters []string
	Notice   string
}

// StartCourse creates the first section of chapters at the given level. It
// does nothing when the learner already has chapters. When synthesis fails
// the request is recorded and retried by the sweep.
func (o *Orchestrator) StartCourse(ctx context.Context, learnerID, level string) (StartResult, error) {
	if level == "" {
		level = o.policy.DefaultLevel
	}
	return o.start(ctx, learning.CourseRequest{
		Kind:  learning.KindChapter,
		Level: level,
		Range: o.policy.RangeOf(1),
	}, learnerID)
}

// StartBridge creates a bridge course of n chapters for a learner moving
// between levels. Finishing every bridge chapter offers the bridge final.
func (o *Orchestrator) StartBridge(ctx context.Context, learnerID, level string, n int) (StartResult, error) {
	if n < 1 {
		return StartResult{}, fmt.Errorf("bridge needs at least one chapter, got %d", n)
	}
	if level == "" {
		level = o.policy.DefaultLevel
	}
	return o.start(ctx, learning.CourseRequest{
		Kind:  learning.KindBridge,
		Level: level,
		Range: learning.ChapterRange{From: 1, To: n},
	}, learnerID)
}

func (o *Orchestrator) start(ctx context.Context, req learning.CourseRequest, learnerID string) (StartResult, error) {
	o.markActive(ctx, learnerID)
	res := StartResult{Range: req.Range}
	ids, err := o.generate(ctx, learnerID, req.Level, req.Range, req.Kind)
	if errors.Is(err, synthesis.ErrContentPending) {
		o.stepFailed(learnerID, "generate", err, &res.Notice)
		req.RequestedAt = o.now()
		if err := o.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
			return tx.SaveCourseRequest(ctx, &req)
		}); err != nil {
			return res, fmt.Errorf("record course request: %w", err)
		}
		return res, nil
	}
	if err != nil {
		return res, err
	}
	if err := o.fulfil(ctx, learnerID, req.Kind); err != nil {
		return res, err
	}
	res.Chapters = ids
	return res, nil
}

// retryCourseRequests generates the chapters of every recorded course
// request and drops the requests that are now satisfied.
func (o *Orchestrator) retryCourseRequests(ctx context.Context, learnerID string) (int, error) {
	var reqs []learning.CourseRequest
	err := o.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		var err error
		reqs, err = tx.CourseRequests(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list course requests: %w", err)
	}

	var generated int
	var errs []error
	for _, req := range reqs {
		ids, err := o.generate(ctx, learnerID, req.Level, req.Range, req.Kind)
		generated += len(ids)
		if err != nil {
			errs = append(errs, fmt.Errorf("generate %s %s: %w", req.Kind, req.Range.Key(), err))
			continue
		}
		if err := o.fulfil(ctx, learnerID, req.Kind); err != nil {
			errs = append(errs, err)
		}
	}
	return generated, errors.Join(errs...)
}

func (o *Orchestrator) fulfil(ctx context.Context, learnerID string, kind learning.UnitKind) error {
	err := o.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		return tx.DeleteCourseRequest(ctx, kind)
	})
	if err != nil {
		return fmt.Errorf("clear course request: %w", err)
	}
	return nil
}

// generate synthesizes chapters for r outside the learner transaction and
// stores them unless chapters of that kind already exist for r.
func (o *Orchestrator) generate(ctx context.Context, learnerID, level string, r learning.ChapterRange, kind learning.UnitKind) ([]string, error) {
	if o.synth == nil {
		return nil, fmt.Errorf("no synthesizer configured: %w", synthesis.ErrContentPending)
	}
	if exists, err := o.hasContent(ctx, learnerID, r, kind); err != nil || exists {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(ctx, o.policy.SynthesisTimeout)
	chapters, err := o.synth.SynthesizeCurriculum(sctx, level, r)
	cancel()
	if err == nil {
		err = synthesis.Validate(chapters, r)
	}
	if err != nil {
		learning.Emit(o.events, learnerID, learning.EventContentPending, map[string]any{
			"kind":  "curriculum",
			"range": r.Key(),
		})
		if errors.Is(err, synthesis.ErrContentPending) {
			return nil, fmt.Errorf("synthesize chapters %s: %w", r.Key(), err)
		}
		return nil, fmt.Errorf("synthesize chapters %s: %w: %w", r.Key(), synthesis.ErrContentPending, err)
	}

	var ids []string
	err = o.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		ids = nil
		existing, err := content(ctx, tx, r, kind)
		if err != nil || len(existing) > 0 {
			return err
		}
		for _, c := range chapters {
			id, err := o.storeChapter(ctx, tx, c, level, kind)
			if err != nil {
				return fmt.Errorf("store chapter %d: %w", c.Number, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store chapters %s: %w", r.Key(), err)
	}
	if len(ids) > 0 {
		learning.Emit(o.events, learnerID, learning.EventChaptersUnlocked, map[string]any{
			"range":     r.Key(),
			"unit_ids":  ids,
			"generated": true,
		})
		slog.Info("chapters generated",
			"learner_id", learnerID,
			"range", r.Key(),
			"kind", string(kind),
			"count", len(ids),
		)
	}
	return ids, nil
}

func (o *Orchestrator) hasContent(ctx context.Context, learnerID string, r learning.ChapterRange, kind learning.UnitKind) (bool, error) {
	var exists bool
	err := o.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		units, err := content(ctx, tx, r, kind)
		exists = len(units) > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("check chapters %s: %w", r.Key(), err)
	}
	return exists, nil
}

// content returns the existing chapters of kind within r. Bridge courses
// are created once, so any bridge chapter counts.
func content(ctx context.Context, tx learning.Tx, r learning.ChapterRange, kind learning.UnitKind) ([]learning.LearningUnit, error) {
	if kind == learning.KindBridge {
		return tx.UnitsByKind(ctx, learning.KindBridge)
	}
	return tx.Chapters(ctx, r)
}

func (o *Orchestrator) storeChapter(ctx context.Context, tx learning.Tx, c synthesis.ChapterContent, level string, kind learning.UnitKind) (string, error) {
	now := o.now()
	chapter := &learning.LearningUnit{
		Kind:      kind,
		Number:    c.Number,
		Title:     c.Title,
		Level:     level,
		CreatedAt: now,
	}
	if err := tx.CreateUnit(ctx, chapter); err != nil {
		return "", err
	}
	for i, l := range c.Lessons {
		lesson := &learning.LearningUnit{
			Kind:         learning.KindLesson,
			ParentID:     chapter.ID,
			Number:       i + 1,
			Title:        l.Title,
			Level:        level,
			FlashcardIDs: l.Flashcards,
			CreatedAt:    now,
			Exercises:    synthesis.ExerciseUnits(l.Exercises, c.Title),
		}
		if err := tx.CreateUnit(ctx, lesson); err != nil {
			return "", fmt.Errorf("store lesson %d: %w", i+1, err)
		}
	}
	return chapter.ID, nil
}

// levelBefore returns the level of the chapters preceding r.
func (o *Orchestrator) levelBefore(ctx context.Context, tx learning.Tx, r learning.ChapterRange) (string, error) {
	prev := learning.ChapterRange{From: max(r.From-r.Len(), 1), To: r.From - 1}
	if prev.To < 1 {
		return o.policy.DefaultLevel, nil
	}
	chapters, err := tx.Chapters(ctx, prev)
	if err != nil {
		return "", err
	}
	for i := len(chapters) - 1; i >= 0; i-- {
		if chapters[i].Level != "" {
			return chapters[i].Level, nil
		}
	}
	return o.policy.DefaultLevel, nil
}
