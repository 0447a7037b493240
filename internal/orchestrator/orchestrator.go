// Package orchestrator sequences the engine's components for each learner
// activity. The primary action runs in one learner transaction; follow-up
// steps run afterwards, each isolated so that a failure is logged and never
// undoes or blocks the primary result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/p-n-ai/pai-lingo/internal/gate"
	"github.com/p-n-ai/pai-lingo/internal/grading"
	"github.com/p-n-ai/pai-lingo/internal/learning"
	"github.com/p-n-ai/pai-lingo/internal/mastery"
	"github.com/p-n-ai/pai-lingo/internal/platform/cache"
	"github.com/p-n-ai/pai-lingo/internal/remedial"
	"github.com/p-n-ai/pai-lingo/internal/srs"
	"github.com/p-n-ai/pai-lingo/internal/streak"
	"github.com/p-n-ai/pai-lingo/internal/synthesis"
)

const (
	defaultSummaryTTL       = 24 * time.Hour
	defaultSweepConcurrency = 4
)

// ErrLocked is returned when answering an exercise in a locked chapter.
var ErrLocked = errors.New("unit is locked")

// Config holds dependencies for the orchestrator.
type Config struct {
	Store       learning.Store
	Synthesizer synthesis.Synthesizer
	Grader      grading.Grader       // defaults to grading.NormalizedMatch
	Events      learning.EventLogger // defaults to a no-op logger
	Cache       cache.Store          // optional: summaries and the activity index
	Policy      learning.Policy
	Now         func() time.Time

	SummaryTTL       time.Duration // summary cache lifetime (default 24h)
	SweepConcurrency int           // learners swept in parallel (default 4)
}

// Orchestrator is the single entry point for learner activity.
type Orchestrator struct {
	store  learning.Store
	synth  synthesis.Synthesizer
	grader grading.Grader
	events learning.EventLogger
	cache  cache.Store
	policy learning.Policy
	now    func() time.Time

	mastery  *mastery.Tracker
	gate     *gate.Gate
	remedial *remedial.Trigger
	srs      *srs.Scheduler
	streak   *streak.Tracker

	summaryTTL  time.Duration
	concurrency int
}

// New creates an orchestrator and the components it drives.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	policy := cfg.Policy.WithDefaults()
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	grader := cfg.Grader
	if grader == nil {
		grader = grading.NormalizedMatch{}
	}
	events := cfg.Events
	if events == nil {
		events = learning.NopEventLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ttl := cfg.SummaryTTL
	if ttl == 0 {
		ttl = defaultSummaryTTL
	}
	concurrency := cfg.SweepConcurrency
	if concurrency <= 0 {
		concurrency = defaultSweepConcurrency
	}

	return &Orchestrator{
		store:   cfg.Store,
		synth:   cfg.Synthesizer,
		grader:  grader,
		events:  events,
		cache:   cfg.Cache,
		policy:  policy,
		now:     now,
		mastery: mastery.NewTracker(now),
		gate: gate.New(gate.Config{
			Store:       cfg.Store,
			Synthesizer: cfg.Synthesizer,
			Events:      events,
			Policy:      policy,
			Now:         now,
		}),
		remedial: remedial.New(remedial.Config{
			Store:       cfg.Store,
			Synthesizer: cfg.Synthesizer,
			Events:      events,
			Policy:      policy,
			Now:         now,
		}),
		srs:         srs.NewScheduler(cfg.Store, policy.ReviewBatchSize),
		streak:      streak.NewTracker(cfg.Store, policy.Location),
		summaryTTL:  ttl,
		concurrency: concurrency,
	}, nil
}

// Gate exposes the section gate for retakes and inspection.
func (o *Orchestrator) Gate() *gate.Gate { return o.gate }

// Result describes the effects of one exercise submission.
type Result struct {
	Correct bool
	// Unchanged is set when the exercise was already answered correctly and
	// nothing was recorded.
	Unchanged        bool
	LessonCompleted  bool
	ChapterCompleted bool
	Unit             *learning.LearningUnit
	Chapter          *learning.LearningUnit
	IssuedCards      []string
	// Gate is set when the completed chapter's section is sealed.
	Gate      *gate.Requirement
	Remedials []string
	Streak    *learning.StreakState
	Summary   *learning.ProgressSummary
	// Notice is a learner-facing message when content could not be produced.
	Notice string
}

// SubmitAnswer grades a free-text answer and records the result.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, learnerID, exerciseID, answer string) (Result, error) {
	var ex *learning.Exercise
	err := o.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		var err error
		ex, err = tx.Exercise(ctx, exerciseID)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("get exercise: %w", err)
	}
	if ex.Outcome == learning.OutcomeCorrect {
		return Result{Correct: true, Unchanged: true}, nil
	}

	correct, err := o.grader.Grade(ctx, *ex, answer)
	if err != nil {
		return Result{}, fmt.Errorf("grade exercise %s: %w", exerciseID, err)
	}
	return o.RecordExerciseResult(ctx, learnerID, exerciseID, correct)
}

// RecordExerciseResult stores a graded outcome. The outcome, any mistake and
// resulting completions commit together; the gate, streak, remedial and
// summary steps follow in that order.
func (o *Orchestrator) RecordExerciseResult(ctx context.Context, learnerID, exerciseID string, correct bool) (Result, error) {
	var res Result
	var mistake bool
	now := o.now()

	err := o.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		res, mistake = Result{Correct: correct}, false

		ex, err := tx.Exercise(ctx, exerciseID)
		if err != nil {
			return err
		}
		unit, err := tx.Unit(ctx, ex.UnitID)
		if err != nil {
			return fmt.Errorf("get unit: %w", err)
		}
		res.Unit = unit
		top, err := o.topUnit(ctx, tx, unit)
		if err != nil {
			return err
		}
		if unit.Locked || top.Locked {
			return fmt.Errorf("exercise %s: %w", exerciseID, ErrLocked)
		}
		if ex.Outcome == learning.OutcomeCorrect {
			res.Correct, res.Unchanged = true, true
			return nil
		}

		outcome := learning.OutcomeIncorrect
		if correct {
			outcome = learning.OutcomeCorrect
		}
		if err := tx.SaveExerciseResult(ctx, ex.ID, outcome); err != nil {
			return fmt.Errorf("save exercise result: %w", err)
		}

		if !correct {
			m := &learning.Mistake{
				Topic:     topicOf(ex, unit, top),
				Source:    sourceOf(top),
				SourceRef: ex.ID,
				CreatedAt: now,
			}
			if err := tx.AddMistake(ctx, m); err != nil {
				return fmt.Errorf("add mistake: %w", err)
			}
			mistake = true
			return nil
		}

		mr, err := o.mastery.OnExerciseGraded(ctx, tx, ex.ID)
		if err != nil {
			return err
		}
		res.Unit = mr.Unit
		res.LessonCompleted = mr.LessonCompleted
		res.ChapterCompleted = mr.ChapterCompleted
		res.Chapter = mr.Chapter

		var cards []string
		if mr.LessonCompleted {
			cards = append(cards, mr.Unit.FlashcardIDs...)
		}
		if mr.Chapter != nil {
			cards = append(cards, mr.Chapter.FlashcardIDs...)
		}
		if len(cards) > 0 {
			issued, err := o.srs.Issue(ctx, tx, cards, now)
			if err != nil {
				return fmt.Errorf("issue flashcards: %w", err)
			}
			res.IssuedCards = issued
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("record exercise %s: %w", exerciseID, err)
	}
	if res.Unchanged {
		return res, nil
	}

	if res.LessonCompleted {
		learning.Emit(o.events, learnerID, learning.EventLessonCompleted, map[string]any{
			"unit_id": res.Unit.ID,
			"cards":   len(res.IssuedCards),
		})
	}
	if res.Chapter != nil {
		learning.Emit(o.events, learnerID, learning.EventChapterCompleted, map[string]any{
			"unit_id": res.Chapter.ID,
			"kind":    string(res.Chapter.Kind),
			"number":  res.Chapter.Number,
		})
	}

	o.gateStep(ctx, learnerID, &res)
	res.Streak = o.streakStep(ctx, learnerID, &res.Notice)
	if mistake {
		res.Remedials = o.remedialStep(ctx, learnerID, &res.Notice)
	}
	res.Summary = o.summaryStep(ctx, learnerID)
	return res, nil
}

// topUnit returns the unit's parent, or the unit itself when it has none.
func (o *Orchestrator) topUnit(ctx context.Context, tx learning.Tx, u *learning.LearningUnit) (*learning.LearningUnit, error) {
	if u.ParentID == "" {
		return u, nil
	}
	p, err := tx.Unit(ctx, u.ParentID)
	if err != nil {
		return nil, fmt.Errorf("get parent unit: %w", err)
	}
	return p, nil
}

func topicOf(ex *learning.Exercise, unit, top *learning.LearningUnit) string {
	for _, t := range []string{ex.Topic, unit.Topic, top.Topic, top.Title} {
		if t != "" {
			return t
		}
	}
	return "general"
}

func sourceOf(top *learning.LearningUnit) learning.MistakeSource {
	if top.Kind == learning.KindBridge {
		return learning.SourceBridgeExercise
	}
	return learning.SourceExercise
}

func (o *Orchestrator) gateStep(ctx context.Context, learnerID string, res *Result) {
	if res.Chapter == nil {
		return
	}
	var req gate.Requirement
	var err error
	switch res.Chapter.Kind {
	case learning.KindChapter:
		req, err = o.gate.OnSectionSealed(ctx, learnerID, o.gate.SectionOf(res.Chapter.Number))
	case learning.KindBridge:
		req, err = o.gate.OnBridgeCompleted(ctx, learnerID)
	case learning.KindRemedial:
		// A finished remedial may release an offer it was holding back.
		var offered []gate.Requirement
		offered, err = o.offerDeferred(ctx, learnerID)
		if len(offered) > 0 {
			req = offered[0]
		}
	default:
		return
	}
	if err != nil {
		o.stepFailed(learnerID, "gate", err, &res.Notice)
	}
	if req.Sealed {
		res.Gate = &req
	}
}

// offerDeferred offers assessments for sealed sections that have none yet.
func (o *Orchestrator) offerDeferred(ctx context.Context, learnerID string) ([]gate.Requirement, error) {
	var sections []int
	err := o.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		var err error
		sections, err = o.gate.UnofferedSections(ctx, tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list unoffered sections: %w", err)
	}

	var offered []gate.Requirement
	var errs []error
	for _, s := range sections {
		req, err := o.gate.OnSectionSealed(ctx, learnerID, s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if req.Offer {
			offered = append(offered, req)
		}
	}
	return offered, errors.Join(errs...)
}

func (o *Orchestrator) streakStep(ctx context.Context, learnerID string, notice *string) *learning.StreakState {
	st, err := o.streak.OnQualifyingActivity(ctx, learnerID, o.now())
	if err != nil {
		o.stepFailed(learnerID, "streak", err, notice)
		return nil
	}
	return &st
}

func (o *Orchestrator) remedialStep(ctx context.Context, learnerID string, notice *string) []string {
	ids, err := o.remedial.OnMistakeRecorded(ctx, learnerID)
	if err != nil {
		o.stepFailed(learnerID, "remedial", err, notice)
	}
	return ids
}

// summaryStep records learner activity and refreshes the cached summary.
func (o *Orchestrator) summaryStep(ctx context.Context, learnerID string) *learning.ProgressSummary {
	o.markActive(ctx, learnerID)
	s, err := o.RefreshSummary(ctx, learnerID)
	if err != nil {
		o.stepFailed(learnerID, "summary", err, nil)
		return nil
	}
	return &s
}

// stepFailed logs a follow-up failure and sets the pending-content notice
// when the failure was a synthesis failure.
func (o *Orchestrator) stepFailed(learnerID, step string, err error, notice *string) {
	slog.Warn("activity step failed",
		"learner_id", learnerID,
		"step", step,
		"error", err,
	)
	if notice != nil && errors.Is(err, synthesis.ErrContentPending) {
		*notice = synthesis.PendingNotice
	}
}
