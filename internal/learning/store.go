package learning

import (
	"context"
	"time"
)

// Store gives per-learner transactional access to the learner aggregate.
//
// WithLearner runs fn with exclusive access to one learner's state. Writes
// made through tx become visible only if fn returns nil; otherwise none of
// them are applied. Concurrent calls for the same learner are serialized,
// calls for different learners never wait on each other.
type Store interface {
	WithLearner(ctx context.Context, learnerID string, fn func(tx Tx) error) error
}

// Tx is the set of reads and writes available inside WithLearner. Every
// method is implicitly scoped to the transaction's learner.
type Tx interface {
	LearnerID() string

	// Unit returns a unit with its exercises ordered by position.
	Unit(ctx context.Context, id string) (*LearningUnit, error)
	// Children returns the units whose parent is parentID, ordered by number.
	Children(ctx context.Context, parentID string) ([]LearningUnit, error)
	// Chapters returns regular chapters numbered within r, ordered by number.
	Chapters(ctx context.Context, r ChapterRange) ([]LearningUnit, error)
	// UnitsByKind returns all units of a kind with their exercises.
	UnitsByKind(ctx context.Context, kind UnitKind) ([]LearningUnit, error)
	// CreateUnit stores u and its exercises, assigning missing IDs.
	CreateUnit(ctx context.Context, u *LearningUnit) error
	// CompleteUnit sets the completion flag and timestamp together.
	CompleteUnit(ctx context.Context, id string, at time.Time) error
	UnlockUnits(ctx context.Context, ids []string) error

	Exercise(ctx context.Context, id string) (*Exercise, error)
	// SaveExerciseResult stores the outcome and increments the attempt counter.
	SaveExerciseResult(ctx context.Context, id string, outcome Outcome) error

	AddMistake(ctx context.Context, m *Mistake) error
	// UnaddressedMistakes returns open mistakes ordered by creation time.
	UnaddressedMistakes(ctx context.Context) ([]Mistake, error)
	MarkMistakesAddressed(ctx context.Context, ids []string) error

	Assessment(ctx context.Context, id string) (*GateAssessment, error)
	// Assessments returns every attempt for a range ordered by attempt.
	Assessments(ctx context.Context, r ChapterRange) ([]GateAssessment, error)
	AllAssessments(ctx context.Context) ([]GateAssessment, error)
	CreateAssessment(ctx context.Context, a *GateAssessment) error
	CompleteAssessment(ctx context.Context, id string, score int, passed bool, at time.Time) error

	ReviewState(ctx context.Context, cardID string) (*FlashcardReviewState, error)
	SaveReviewState(ctx context.Context, s *FlashcardReviewState) error
	// DueReviews returns states with NextDueAt <= now ordered by due time
	// then card ID, at most limit of them.
	DueReviews(ctx context.Context, now time.Time, limit int) ([]FlashcardReviewState, error)
	CountDueReviews(ctx context.Context, now time.Time) (int, error)

	Streak(ctx context.Context) (*StreakState, error)
	SaveStreak(ctx context.Context, s *StreakState) error

	// CourseRequests returns unfulfilled course requests, oldest first.
	CourseRequests(ctx context.Context) ([]CourseRequest, error)
	// SaveCourseRequest stores r, replacing any request of the same kind.
	SaveCourseRequest(ctx context.Context, r *CourseRequest) error
	DeleteCourseRequest(ctx context.Context, kind UnitKind) error
}

// OpenBlockers returns incomplete remedial chapters that block progress.
func OpenBlockers(ctx context.Context, tx Tx) ([]LearningUnit, error) {
	remedials, err := tx.UnitsByKind(ctx, KindRemedial)
	if err != nil {
		return nil, err
	}
	var open []LearningUnit
	for _, u := range remedials {
		if u.IsOpenBlocker() {
			open = append(open, u)
		}
	}
	return open, nil
}
