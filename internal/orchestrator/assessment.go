package orchestrator

import (
	"context"
	"fmt"

	"github.com/p-n-ai/pai-lingo/internal/gate"
	"github.com/p-n-ai/pai-lingo/internal/learning"
)

// TestMistake is one wrong answer on a gate assessment.
type TestMistake struct {
	Topic       string
	QuestionRef string
}

// AssessmentResult describes the effects of submitting an assessment.
type AssessmentResult struct {
	Outcome gate.Outcome
	// Generated lists chapters created for the next range.
	Generated []string
	Remedials []string
	Streak    *learning.StreakState
	Summary   *learning.ProgressSummary
	Notice    string
}

// SubmitAssessment scores an assessment and records its wrong answers as
// mistakes in the same transaction. When a pass needs new chapters they are
// generated afterwards; a generation failure leaves a notice and is retried
// by the sweep.
func (o *Orchestrator) SubmitAssessment(ctx context.Context, learnerID, assessmentID string, score int, mistakes []TestMistake) (AssessmentResult, error) {
	var res AssessmentResult
	now := o.now()

	err := o.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		out, err := o.gate.SubmitTx(ctx, tx, assessmentID, score)
		if err != nil {
			return err
		}
		res.Outcome = out
		for _, tm := range mistakes {
			if learning.TopicKey(tm.Topic) == "" {
				continue
			}
			m := &learning.Mistake{
				Topic:     tm.Topic,
				Source:    learning.SourceTest,
				SourceRef: assessmentID + "#" + tm.QuestionRef,
				CreatedAt: now,
			}
			if err := tx.AddMistake(ctx, m); err != nil {
				return fmt.Errorf("add test mistake: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("submit assessment %s: %w", assessmentID, err)
	}
	o.gate.Announce(learnerID, res.Outcome)

	if next := res.Outcome.Generate; next != nil {
		ids, err := o.generate(ctx, learnerID, res.Outcome.Level, *next, learning.KindChapter)
		if err != nil {
			o.stepFailed(learnerID, "generate", err, &res.Notice)
		}
		res.Generated = ids
	}

	res.Streak = o.streakStep(ctx, learnerID, &res.Notice)
	if len(mistakes) > 0 {
		res.Remedials = o.remedialStep(ctx, learnerID, &res.Notice)
	}
	res.Summary = o.summaryStep(ctx, learnerID)
	return res, nil
}

// Retake offers a new attempt for a failed assessment range.
func (o *Orchestrator) Retake(ctx context.Context, learnerID, rangeKey string) (gate.Requirement, error) {
	return o.gate.Retake(ctx, learnerID, rangeKey)
}
