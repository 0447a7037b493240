package orchestrator

import (
	"context"

	"github.com/p-n-ai/pai-lingo/internal/learning"
)

// ReviewResult describes the effects of one flashcard review.
type ReviewResult struct {
	State   learning.FlashcardReviewState
	Streak  *learning.StreakState
	Summary *learning.ProgressSummary
}

// SubmitReview applies a review to a card. Persisting the review is the
// primary action; streak and summary follow.
func (o *Orchestrator) SubmitReview(ctx context.Context, learnerID, cardID string, correct bool) (ReviewResult, error) {
	st, err := o.srs.OnReviewSubmitted(ctx, learnerID, cardID, correct, o.now())
	if err != nil {
		return ReviewResult{}, err
	}
	res := ReviewResult{State: st}
	res.Streak = o.streakStep(ctx, learnerID, nil)
	res.Summary = o.summaryStep(ctx, learnerID)
	return res, nil
}

// DueDeck returns the cards due for review now.
func (o *Orchestrator) DueDeck(ctx context.Context, learnerID string) ([]learning.FlashcardReviewState, error) {
	return o.srs.DueDeck(ctx, learnerID, o.now())
}
