package synthesis

import (
	"context"
	"fmt"
	"sync"

	"github.com/p-n-ai/pai-lingo/internal/learning"
)

// MockSynthesizer is a deterministic test double. Each chapter gets
// LessonsPerChapter lessons with ExercisesPerLesson exercises; every exercise
// answer is "ok".
type MockSynthesizer struct {
	LessonsPerChapter  int
	ExercisesPerLesson int
	Questions          int

	CurriculumErr error
	RemedialErr   error
	AssessmentErr error

	mu              sync.Mutex
	CurriculumCalls []learning.ChapterRange
	RemedialCalls   []string
	AssessmentCalls []learning.ChapterRange
}

// NewMockSynthesizer creates a mock with one lesson of two exercises per
// chapter and five assessment questions.
func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{LessonsPerChapter: 1, ExercisesPerLesson: 2, Questions: 5}
}

func (m *MockSynthesizer) SynthesizeCurriculum(ctx context.Context, level string, r learning.ChapterRange) ([]ChapterContent, error) {
	m.mu.Lock()
	m.CurriculumCalls = append(m.CurriculumCalls, r)
	err := m.CurriculumErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var chapters []ChapterContent
	for n := r.From; n <= r.To; n++ {
		c := ChapterContent{Number: n, Title: fmt.Sprintf("%s chapter %d", level, n)}
		for l := 1; l <= max(m.LessonsPerChapter, 1); l++ {
			lesson := LessonContent{
				Title:      fmt.Sprintf("Lesson %d.%d", n, l),
				Flashcards: []string{fmt.Sprintf("card-%d-%d", n, l)},
			}
			for e := 1; e <= max(m.ExercisesPerLesson, 1); e++ {
				lesson.Exercises = append(lesson.Exercises, ExerciseContent{
					Topic:  fmt.Sprintf("topic-%d", n),
					Prompt: fmt.Sprintf("exercise %d.%d.%d", n, l, e),
					Answer: "ok",
				})
			}
			c.Lessons = append(c.Lessons, lesson)
		}
		chapters = append(chapters, c)
	}
	return chapters, nil
}

func (m *MockSynthesizer) SynthesizeRemedial(ctx context.Context, topic string, samples []MistakeSample) (RemedialContent, error) {
	m.mu.Lock()
	m.RemedialCalls = append(m.RemedialCalls, topic)
	err := m.RemedialErr
	m.mu.Unlock()
	if err != nil {
		return RemedialContent{}, err
	}
	if err := ctx.Err(); err != nil {
		return RemedialContent{}, err
	}

	rc := RemedialContent{Title: "Review: " + topic}
	for i := range max(len(samples), 1) {
		rc.Exercises = append(rc.Exercises, ExerciseContent{
			Topic:  topic,
			Prompt: fmt.Sprintf("review %s %d", topic, i+1),
			Answer: "ok",
		})
	}
	return rc, nil
}

func (m *MockSynthesizer) SynthesizeAssessment(ctx context.Context, r learning.ChapterRange) ([]Question, error) {
	m.mu.Lock()
	m.AssessmentCalls = append(m.AssessmentCalls, r)
	err := m.AssessmentErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qs := make([]Question, 0, m.Questions)
	for i := 1; i <= m.Questions; i++ {
		qs = append(qs, Question{
			Topic:  fmt.Sprintf("topic-%d", r.From+(i-1)%r.Len()),
			Prompt: fmt.Sprintf("question %d for %s", i, r.Key()),
			Answer: "ok",
		})
	}
	return qs, nil
}

// SetCurriculumErr changes the curriculum failure under lock.
func (m *MockSynthesizer) SetCurriculumErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CurriculumErr = err
}

// SetRemedialErr changes the remedial failure under lock.
func (m *MockSynthesizer) SetRemedialErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemedialErr = err
}

// SetAssessmentErr changes the assessment failure under lock.
func (m *MockSynthesizer) SetAssessmentErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AssessmentErr = err
}

// Calls returns copies of the recorded calls.
func (m *MockSynthesizer) Calls() (curriculum []learning.ChapterRange, remedial []string, assessment []learning.ChapterRange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]learning.ChapterRange{}, m.CurriculumCalls...),
		append([]string{}, m.RemedialCalls...),
		append([]learning.ChapterRange{}, m.AssessmentCalls...)
}
