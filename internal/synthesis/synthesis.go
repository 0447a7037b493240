// Package synthesis defines the content-synthesis collaborator the engine
// calls to obtain chapters, remedial chapters and assessment questions, with
// catalog-backed and LLM-backed implementations.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/p-n-ai/pai-lingo/internal/learning"
)

// ErrContentPending is returned when content could not be produced now and
// the caller should retry later.
var ErrContentPending = errors.New("content pending")

// PendingNotice is the learner-facing message shown when synthesis fails.
const PendingNotice = "could not generate your next content yet, will retry"

// ExerciseContent is one synthesized exercise.
type ExerciseContent struct {
	Topic  string `json:"topic" yaml:"topic"`
	Prompt string `json:"prompt" yaml:"prompt"`
	Answer string `json:"answer" yaml:"answer"`
}

// LessonContent is one synthesized lesson with its exercises and the
// flashcards issued when it completes.
type LessonContent struct {
	Title      string            `json:"title" yaml:"title"`
	Exercises  []ExerciseContent `json:"exercises" yaml:"exercises"`
	Flashcards []string          `json:"flashcards,omitempty" yaml:"flashcards"`
}

// ChapterContent is one synthesized chapter.
type ChapterContent struct {
	Number  int             `json:"number" yaml:"number"`
	Title   string          `json:"title" yaml:"title"`
	Lessons []LessonContent `json:"lessons" yaml:"lessons"`
}

// RemedialContent is a synthesized review chapter for one topic.
type RemedialContent struct {
	Title     string            `json:"title" yaml:"title"`
	Exercises []ExerciseContent `json:"exercises" yaml:"exercises"`
}

// MistakeSample gives the synthesizer context about what went wrong.
type MistakeSample struct {
	Topic     string `json:"topic"`
	Source    string `json:"source"`
	SourceRef string `json:"source_ref"`
}

// Question is one gate-assessment question.
type Question struct {
	Topic  string `json:"topic" yaml:"topic"`
	Prompt string `json:"prompt" yaml:"prompt"`
	Answer string `json:"answer" yaml:"answer"`
}

// Synthesizer produces learning content. Implementations may be slow and
// must honour ctx cancellation.
type Synthesizer interface {
	SynthesizeCurriculum(ctx context.Context, level string, r learning.ChapterRange) ([]ChapterContent, error)
	SynthesizeRemedial(ctx context.Context, topic string, samples []MistakeSample) (RemedialContent, error)
	SynthesizeAssessment(ctx context.Context, r learning.ChapterRange) ([]Question, error)
}

// Validate checks chapters against the requested range. Every chapter must
// fall inside r, numbers must be unique, and each lesson needs at least one
// exercise.
func Validate(chapters []ChapterContent, r learning.ChapterRange) error {
	if len(chapters) == 0 {
		return fmt.Errorf("no chapters for range %s", r.Key())
	}
	seen := make(map[int]bool, len(chapters))
	for _, c := range chapters {
		if !r.Contains(c.Number) {
			return fmt.Errorf("chapter %d outside range %s", c.Number, r.Key())
		}
		if seen[c.Number] {
			return fmt.Errorf("duplicate chapter %d", c.Number)
		}
		seen[c.Number] = true
		if len(c.Lessons) == 0 {
			return fmt.Errorf("chapter %d has no lessons", c.Number)
		}
		for i, l := range c.Lessons {
			if len(l.Exercises) == 0 {
				return fmt.Errorf("chapter %d lesson %d has no exercises", c.Number, i+1)
			}
		}
	}
	return nil
}

// ExerciseUnits converts synthesized exercises into stored exercises,
// defaulting an empty topic.
func ExerciseUnits(exercises []ExerciseContent, defaultTopic string) []learning.Exercise {
	out := make([]learning.Exercise, 0, len(exercises))
	for i, e := range exercises {
		topic := strings.TrimSpace(e.Topic)
		if topic == "" {
			topic = defaultTopic
		}
		out = append(out, learning.Exercise{
			Position: i + 1,
			Topic:    topic,
			Prompt:   e.Prompt,
			Answer:   e.Answer,
			Outcome:  learning.OutcomeUnattempted,
		})
	}
	return out
}
