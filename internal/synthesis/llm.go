package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/p-n-ai/pai-lingo/internal/ai"
	"github.com/p-n-ai/pai-lingo/internal/learning"
)

const exerciseSchema = `{
  "type": "object",
  "required": ["prompt", "answer"],
  "properties": {
    "topic": {"type": "string"},
    "prompt": {"type": "string", "minLength": 1},
    "answer": {"type": "string", "minLength": 1}
  }
}`

const curriculumSchema = `{
  "type": "object",
  "required": ["chapters"],
  "properties": {
    "chapters": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["number", "title", "lessons"],
        "properties": {
          "number": {"type": "integer", "minimum": 1},
          "title": {"type": "string", "minLength": 1},
          "lessons": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["title", "exercises"],
              "properties": {
                "title": {"type": "string"},
                "flashcards": {"type": "array", "items": {"type": "string"}},
                "exercises": {"type": "array", "minItems": 1, "items": ` + exerciseSchema + `}
              }
            }
          }
        }
      }
    }
  }
}`

const remedialSchema = `{
  "type": "object",
  "required": ["title", "exercises"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "exercises": {"type": "array", "minItems": 1, "items": ` + exerciseSchema + `}
  }
}`

const assessmentSchema = `{
  "type": "object",
  "required": ["questions"],
  "properties": {
    "questions": {"type": "array", "minItems": 1, "items": ` + exerciseSchema + `}
  }
}`

// LLMSynthesizer asks a language model for content and validates the JSON
// it returns against a schema before accepting it.
type LLMSynthesizer struct {
	client    ai.Completer
	language  string
	questions int

	curriculum *gojsonschema.Schema
	remedial   *gojsonschema.Schema
	assessment *gojsonschema.Schema
}

// NewLLMSynthesizer creates a synthesizer teaching the given target language
// and requesting the given number of assessment questions.
func NewLLMSynthesizer(client ai.Completer, language string, questions int) (*LLMSynthesizer, error) {
	if client == nil {
		return nil, fmt.Errorf("ai client is nil")
	}
	if questions <= 0 {
		questions = learning.DefaultAssessmentQuestions
	}
	s := &LLMSynthesizer{client: client, language: language, questions: questions}

	var err error
	if s.curriculum, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(curriculumSchema)); err != nil {
		return nil, fmt.Errorf("compile curriculum schema: %w", err)
	}
	if s.remedial, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(remedialSchema)); err != nil {
		return nil, fmt.Errorf("compile remedial schema: %w", err)
	}
	if s.assessment, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(assessmentSchema)); err != nil {
		return nil, fmt.Errorf("compile assessment schema: %w", err)
	}
	return s, nil
}

func (s *LLMSynthesizer) SynthesizeCurriculum(ctx context.Context, level string, r learning.ChapterRange) ([]ChapterContent, error) {
	prompt := fmt.Sprintf(
		"Write %s course chapters %d to %d for CEFR level %s. "+
			"Each chapter has lessons; each lesson has short exercises with one expected answer "+
			"and a list of flashcard identifiers for the vocabulary it introduces. "+
			`Respond with JSON: {"chapters":[{"number":int,"title":str,"lessons":[{"title":str,"flashcards":[str],"exercises":[{"topic":str,"prompt":str,"answer":str}]}]}]}`,
		s.language, r.From, r.To, level,
	)

	var out struct {
		Chapters []ChapterContent `json:"chapters"`
	}
	if err := s.complete(ctx, ai.TaskCurriculum, prompt, s.curriculum, &out); err != nil {
		return nil, err
	}
	if err := Validate(out.Chapters, r); err != nil {
		return nil, fmt.Errorf("invalid curriculum: %w", err)
	}
	return out.Chapters, nil
}

func (s *LLMSynthesizer) SynthesizeRemedial(ctx context.Context, topic string, samples []MistakeSample) (RemedialContent, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "A %s learner keeps making mistakes on %q.", s.language, topic)
	if len(samples) > 0 {
		b.WriteString(" Recent mistakes came from:")
		for _, m := range samples {
			fmt.Fprintf(&b, " %s %s;", m.Source, m.SourceRef)
		}
	}
	b.WriteString(" Write a short review chapter with focused exercises on this topic. ")
	b.WriteString(`Respond with JSON: {"title":str,"exercises":[{"topic":str,"prompt":str,"answer":str}]}`)

	var out RemedialContent
	if err := s.complete(ctx, ai.TaskRemedial, b.String(), s.remedial, &out); err != nil {
		return RemedialContent{}, err
	}
	return out, nil
}

func (s *LLMSynthesizer) SynthesizeAssessment(ctx context.Context, r learning.ChapterRange) ([]Question, error) {
	prompt := fmt.Sprintf(
		"Write a %d-question %s progress test covering chapters %d to %d. "+
			`Respond with JSON: {"questions":[{"topic":str,"prompt":str,"answer":str}]}`,
		s.questions, s.language, r.From, r.To,
	)

	var out struct {
		Questions []Question `json:"questions"`
	}
	if err := s.complete(ctx, ai.TaskAssessment, prompt, s.assessment, &out); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

func (s *LLMSynthesizer) complete(ctx context.Context, task ai.TaskType, prompt string, schema *gojsonschema.Schema, out any) error {
	resp, err := s.client.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: "You write language-learning content. Reply with a single JSON object and nothing else."},
			{Role: "user", Content: prompt},
		},
		Task:     task,
		JSONMode: true,
	})
	if err != nil {
		return fmt.Errorf("%s completion: %w", task, err)
	}

	body := extractJSON(resp.Content)
	result, err := schema.Validate(gojsonschema.NewStringLoader(body))
	if err != nil {
		return fmt.Errorf("parse %s response: %w", task, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%s response failed schema: %s", task, strings.Join(msgs, "; "))
	}

	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("decode %s response: %w", task, err)
	}
	return nil
}

// extractJSON strips a markdown code fence some models wrap JSON in.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
