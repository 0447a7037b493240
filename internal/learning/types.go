// Package learning holds the learner aggregate: learning units, exercises,
// mistakes, gate assessments, flashcard review state and streaks, together
// with the per-learner transactional store the engine runs against.
package learning

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when an entity does not exist for the learner.
var ErrNotFound = errors.New("not found")

// UnitKind tags the concrete variant of a LearningUnit.
type UnitKind string

const (
	KindLesson   UnitKind = "lesson"
	KindChapter  UnitKind = "chapter"
	KindRemedial UnitKind = "remedial"
	KindBridge   UnitKind = "bridge"
)

// Valid reports whether k is a known unit kind.
func (k UnitKind) Valid() bool {
	switch k {
	case KindLesson, KindChapter, KindRemedial, KindBridge:
		return true
	}
	return false
}

// Outcome is the tri-state grading result of an exercise.
type Outcome string

const (
	OutcomeUnattempted Outcome = "unattempted"
	OutcomeCorrect     Outcome = "correct"
	OutcomeIncorrect   Outcome = "incorrect"
)

// Exercise belongs to exactly one LearningUnit.
type Exercise struct {
	ID        string  `json:"id"`
	UnitID    string  `json:"unit_id"`
	LearnerID string  `json:"learner_id"`
	Position  int     `json:"position"`
	Topic     string  `json:"topic,omitempty"`
	Prompt    string  `json:"prompt"`
	Answer    string  `json:"answer"`
	Outcome   Outcome `json:"outcome"`
	Attempts  int     `json:"attempts"`
}

// LearningUnit is any completable content node. Lessons, chapters, remedial
// chapters and bridge chapters share this shape; Topic, MistakeIDs,
// IsRequired and BlocksProgress are only meaningful for remedial chapters.
type LearningUnit struct {
	ID             string     `json:"id"`
	LearnerID      string     `json:"learner_id"`
	Kind           UnitKind   `json:"kind"`
	ParentID       string     `json:"parent_id,omitempty"`
	Number         int        `json:"number"`
	Title          string     `json:"title"`
	Level          string     `json:"level,omitempty"`
	Topic          string     `json:"topic,omitempty"`
	MistakeIDs     []string   `json:"mistake_ids,omitempty"`
	FlashcardIDs   []string   `json:"flashcard_ids,omitempty"`
	IsRequired     bool       `json:"is_required"`
	BlocksProgress bool       `json:"blocks_progress"`
	Locked         bool       `json:"locked"`
	IsCompleted    bool       `json:"is_completed"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Exercises      []Exercise `json:"exercises,omitempty"`
}

// AllExercisesCorrect reports whether the unit has at least one exercise and
// every exercise was answered correctly.
func (u *LearningUnit) AllExercisesCorrect() bool {
	if len(u.Exercises) == 0 {
		return false
	}
	for _, e := range u.Exercises {
		if e.Outcome != OutcomeCorrect {
			return false
		}
	}
	return true
}

// IsOpenBlocker reports whether the unit is an incomplete remedial chapter
// that holds back progress.
func (u *LearningUnit) IsOpenBlocker() bool {
	return u.Kind == KindRemedial && u.BlocksProgress && !u.IsCompleted
}

// ChapterRange is an inclusive range of chapter numbers.
type ChapterRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Key returns the natural key of the range, e.g. "6-10".
func (r ChapterRange) Key() string {
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// Len returns the number of chapters in the range.
func (r ChapterRange) Len() int {
	if r.To < r.From {
		return 0
	}
	return r.To - r.From + 1
}

// Contains reports whether chapter number n is inside the range.
func (r ChapterRange) Contains(n int) bool {
	return n >= r.From && n <= r.To
}

// Next returns the range of the same length immediately after r.
func (r ChapterRange) Next() ChapterRange {
	return ChapterRange{From: r.To + 1, To: r.To + r.Len()}
}

// ParseRange parses a key produced by ChapterRange.Key.
func ParseRange(key string) (ChapterRange, error) {
	from, to, ok := strings.Cut(key, "-")
	if !ok {
		return ChapterRange{}, fmt.Errorf("invalid chapter range %q", key)
	}
	f, err := strconv.Atoi(from)
	if err != nil {
		return ChapterRange{}, fmt.Errorf("invalid chapter range %q: %w", key, err)
	}
	t, err := strconv.Atoi(to)
	if err != nil {
		return ChapterRange{}, fmt.Errorf("invalid chapter range %q: %w", key, err)
	}
	if f < 1 || t < f {
		return ChapterRange{}, fmt.Errorf("invalid chapter range %q", key)
	}
	return ChapterRange{From: f, To: t}, nil
}

// AssessmentKind distinguishes progress tests from bridge final tests.
type AssessmentKind string

const (
	AssessmentProgress    AssessmentKind = "progress"
	AssessmentBridgeFinal AssessmentKind = "bridge_final"
)

// GateAssessment is a scored test over a chapter range. Once CompletedAt is
// set the assessment is never regraded.
type GateAssessment struct {
	ID             string         `json:"id"`
	LearnerID      string         `json:"learner_id"`
	Kind           AssessmentKind `json:"kind"`
	Range          ChapterRange   `json:"range"`
	Attempt        int            `json:"attempt"`
	TotalQuestions int            `json:"total_questions"`
	PassingScore   int            `json:"passing_score"`
	Score          int            `json:"score"`
	Passed         bool           `json:"passed"`
	CreatedAt      time.Time      `json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// Completed reports whether the assessment has been submitted.
func (a *GateAssessment) Completed() bool {
	return a.CompletedAt != nil
}

// MistakeSource records where a wrong answer came from.
type MistakeSource string

const (
	SourceExercise       MistakeSource = "exercise"
	SourceTest           MistakeSource = "test"
	SourceBridgeExercise MistakeSource = "bridge_exercise"
)

// Mistake is an immutable record of one incorrect answer.
type Mistake struct {
	ID          string        `json:"id"`
	LearnerID   string        `json:"learner_id"`
	Topic       string        `json:"topic"`
	Source      MistakeSource `json:"source"`
	SourceRef   string        `json:"source_ref"`
	IsAddressed bool          `json:"is_addressed"`
	CreatedAt   time.Time     `json:"created_at"`
}

// FlashcardReviewState is the spaced-repetition state of one card for one learner.
type FlashcardReviewState struct {
	LearnerID       string     `json:"learner_id"`
	CardID          string     `json:"card_id"`
	Interval        int        `json:"interval"`
	EaseFactor      float64    `json:"ease_factor"`
	RepetitionCount int        `json:"repetition_count"`
	NextDueAt       time.Time  `json:"next_due_at"`
	TotalReviews    int        `json:"total_reviews"`
	CorrectReviews  int        `json:"correct_reviews"`
	LastReviewedAt  *time.Time `json:"last_reviewed_at,omitempty"`
}

// StreakState tracks daily activity continuity.
// CourseRequest records a course or bridge whose chapters could not be
// generated yet. It is retried by the sweep until the chapters exist.
type CourseRequest struct {
	LearnerID   string       `json:"learner_id"`
	Kind        UnitKind     `json:"kind"`
	Level       string       `json:"level"`
	Range       ChapterRange `json:"range"`
	RequestedAt time.Time    `json:"requested_at"`
}

type StreakState struct {
	LearnerID        string    `json:"learner_id"`
	CurrentStreak    int       `json:"current_streak"`
	LongestStreak    int       `json:"longest_streak"`
	LastActivityDate time.Time `json:"last_activity_date"`
}
