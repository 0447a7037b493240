package learning

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProgressSummary is a derived per-learner progress aggregate. It is never
// authoritative and can be recomputed from the store at any time.
type ProgressSummary struct {
	LearnerID          string    `json:"learner_id"`
	ChaptersCompleted  int       `json:"chapters_completed"`
	ChaptersTotal      int       `json:"chapters_total"`
	LessonsCompleted   int       `json:"lessons_completed"`
	ExercisesAttempted int       `json:"exercises_attempted"`
	ExercisesCorrect   int       `json:"exercises_correct"`
	Accuracy           float64   `json:"accuracy"`
	CurrentSection     int       `json:"current_section"`
	OpenRemedials      int       `json:"open_remedials"`
	AssessmentsPassed  int       `json:"assessments_passed"`
	DueReviews         int       `json:"due_reviews"`
	CurrentStreak      int       `json:"current_streak"`
	LongestStreak      int       `json:"longest_streak"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Summarize computes the progress aggregate for the transaction's learner.
func Summarize(ctx context.Context, tx Tx, now time.Time, policy Policy) (ProgressSummary, error) {
	policy = policy.WithDefaults()
	s := ProgressSummary{LearnerID: tx.LearnerID(), UpdatedAt: now}

	chapters, err := tx.UnitsByKind(ctx, KindChapter)
	if err != nil {
		return s, fmt.Errorf("list chapters: %w", err)
	}
	firstOpen, last := 0, 0
	for _, c := range chapters {
		s.ChaptersTotal++
		if c.IsCompleted {
			s.ChaptersCompleted++
		} else if firstOpen == 0 || c.Number < firstOpen {
			firstOpen = c.Number
		}
		if c.Number > last {
			last = c.Number
		}
		countExercises(&s, c.Exercises)
	}
	switch {
	case firstOpen > 0:
		s.CurrentSection = policy.SectionOf(firstOpen)
	case last > 0:
		s.CurrentSection = policy.SectionOf(last)
	}

	lessons, err := tx.UnitsByKind(ctx, KindLesson)
	if err != nil {
		return s, fmt.Errorf("list lessons: %w", err)
	}
	for _, l := range lessons {
		if l.IsCompleted {
			s.LessonsCompleted++
		}
		countExercises(&s, l.Exercises)
	}

	for _, kind := range []UnitKind{KindRemedial, KindBridge} {
		units, err := tx.UnitsByKind(ctx, kind)
		if err != nil {
			return s, fmt.Errorf("list %s units: %w", kind, err)
		}
		for _, u := range units {
			if u.IsOpenBlocker() {
				s.OpenRemedials++
			}
			countExercises(&s, u.Exercises)
		}
	}
	if s.ExercisesAttempted > 0 {
		s.Accuracy = float64(s.ExercisesCorrect) / float64(s.ExercisesAttempted)
	}

	assessments, err := tx.AllAssessments(ctx)
	if err != nil {
		return s, fmt.Errorf("list assessments: %w", err)
	}
	for _, a := range assessments {
		if a.Passed {
			s.AssessmentsPassed++
		}
	}

	s.DueReviews, err = tx.CountDueReviews(ctx, now)
	if err != nil {
		return s, fmt.Errorf("count due reviews: %w", err)
	}

	streak, err := tx.Streak(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return s, fmt.Errorf("get streak: %w", err)
	default:
		s.CurrentStreak = streak.CurrentStreak
		s.LongestStreak = streak.LongestStreak
	}
	return s, nil
}

func countExercises(s *ProgressSummary, exercises []Exercise) {
	for _, e := range exercises {
		if e.Outcome == OutcomeUnattempted {
			continue
		}
		s.ExercisesAttempted++
		if e.Outcome == OutcomeCorrect {
			s.ExercisesCorrect++
		}
	}
}
