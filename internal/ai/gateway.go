// Package ai provides a provider-agnostic completion gateway with task-based
// routing, used to synthesize learning content.
package ai

import (
	"context"
	"errors"
)

// ErrBudgetExceeded is returned when a learner has used up their token budget.
var ErrBudgetExceeded = errors.New("token budget exceeded")

// TaskType defines the kind of AI task for routing purposes.
type TaskType int

const (
	TaskCurriculum TaskType = iota
	TaskRemedial
	TaskAssessment
	TaskGrading
)

func (t TaskType) String() string {
	switch t {
	case TaskCurriculum:
		return "curriculum"
	case TaskRemedial:
		return "remedial"
	case TaskAssessment:
		return "assessment"
	case TaskGrading:
		return "grading"
	default:
		return "unknown"
	}
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to an AI completion.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Task        TaskType  `json:"task,omitempty"`
	// JSONMode asks the provider to return a single JSON object.
	JSONMode bool `json:"json_mode,omitempty"`
	// LearnerID attributes token usage for budgeting. Empty skips the budget.
	LearnerID string `json:"learner_id,omitempty"`
}

// CompletionResponse is the output from an AI completion.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	Provider     string `json:"provider,omitempty"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// TotalTokens returns the sum of input and output tokens.
func (r CompletionResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// ModelInfo describes an available model.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MaxTokens   int    `json:"max_tokens"`
	Description string `json:"description"`
}

// Provider is the interface all AI providers must implement.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	Models() []ModelInfo
	HealthCheck(ctx context.Context) error
}

// Completer is satisfied by Router and by single providers.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}
