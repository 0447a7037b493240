// Package grading decides whether a learner's free-text answer matches an
// exercise's expected answer.
package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/p-n-ai/pai-lingo/internal/ai"
	"github.com/p-n-ai/pai-lingo/internal/learning"
)

// ErrNoExpectedAnswer is returned when an exercise has no answer to compare with.
var ErrNoExpectedAnswer = errors.New("exercise has no expected answer")

// Grader judges an answer to an exercise.
type Grader interface {
	Grade(ctx context.Context, ex learning.Exercise, answer string) (bool, error)
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'", "`", "'")

// Normalize folds case and width, unifies apostrophes, drops surrounding
// punctuation and collapses whitespace.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	s = apostrophes.Replace(s)
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '\'')
	})
	return strings.Join(strings.Fields(s), " ")
}

// Alternatives splits an expected answer on "|" into its accepted forms.
func Alternatives(expected string) []string {
	var out []string
	for _, a := range strings.Split(expected, "|") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// NormalizedMatch accepts an answer equal to any alternative after Normalize.
type NormalizedMatch struct{}

func (NormalizedMatch) Grade(_ context.Context, ex learning.Exercise, answer string) (bool, error) {
	alts := Alternatives(ex.Answer)
	if len(alts) == 0 {
		return false, fmt.Errorf("exercise %s: %w", ex.ID, ErrNoExpectedAnswer)
	}
	got := Normalize(answer)
	if got == "" {
		return false, nil
	}
	for _, a := range alts {
		if Normalize(a) == got {
			return true, nil
		}
	}
	return false, nil
}

// LLMGrader tries NormalizedMatch first and asks a language model only when
// the answer does not match literally, so paraphrases can be accepted.
// Model failures fall back to the literal verdict.
type LLMGrader struct {
	client   ai.Completer
	language string
}

// NewLLMGrader creates a grader for answers in the given language.
func NewLLMGrader(client ai.Completer, language string) *LLMGrader {
	return &LLMGrader{client: client, language: language}
}

func (g *LLMGrader) Grade(ctx context.Context, ex learning.Exercise, answer string) (bool, error) {
	ok, err := NormalizedMatch{}.Grade(ctx, ex, answer)
	if err != nil || ok || g.client == nil || strings.TrimSpace(answer) == "" {
		return ok, err
	}

	prompt := fmt.Sprintf(
		"Exercise (%s): %s\nAccepted answers: %s\nLearner answer: %s\n"+
			"Is the learner answer correct and equivalent in meaning and grammar? "+
			`Respond with JSON: {"correct":bool}`,
		g.language, ex.Prompt, strings.Join(Alternatives(ex.Answer), " / "), answer,
	)
	resp, err := g.client.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: "You grade language exercises strictly. Reply with a single JSON object."},
			{Role: "user", Content: prompt},
		},
		Task:      ai.TaskGrading,
		JSONMode:  true,
		LearnerID: ex.LearnerID,
	})
	if err != nil {
		slog.Warn("llm grading failed, using literal match",
			"exercise_id", ex.ID,
			"error", err,
		)
		return false, nil
	}

	var verdict struct {
		Correct bool `json:"correct"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &verdict); err != nil {
		slog.Warn("llm grading returned invalid json",
			"exercise_id", ex.ID,
			"error", err,
		)
		return false, nil
	}
	return verdict.Correct, nil
}

// MockGrader returns a fixed verdict.
type MockGrader struct {
	Correct bool
	Err     error
}

func (m MockGrader) Grade(context.Context, learning.Exercise, string) (bool, error) {
	return m.Correct, m.Err
}
