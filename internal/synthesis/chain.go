package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/p-n-ai/pai-lingo/internal/learning"
)

// Chain tries each synthesizer in order and returns the first success.
type Chain []Synthesizer

func (c Chain) SynthesizeCurriculum(ctx context.Context, level string, r learning.ChapterRange) ([]ChapterContent, error) {
	return first(ctx, c, "curriculum", func(s Synthesizer) ([]ChapterContent, error) {
		return s.SynthesizeCurriculum(ctx, level, r)
	})
}

func (c Chain) SynthesizeRemedial(ctx context.Context, topic string, samples []MistakeSample) (RemedialContent, error) {
	return first(ctx, c, "remedial", func(s Synthesizer) (RemedialContent, error) {
		return s.SynthesizeRemedial(ctx, topic, samples)
	})
}

func (c Chain) SynthesizeAssessment(ctx context.Context, r learning.ChapterRange) ([]Question, error) {
	return first(ctx, c, "assessment", func(s Synthesizer) ([]Question, error) {
		return s.SynthesizeAssessment(ctx, r)
	})
}

func first[T any](ctx context.Context, chain Chain, kind string, call func(Synthesizer) (T, error)) (T, error) {
	var zero T
	var errs []error
	for i, s := range chain {
		v, err := call(s)
		if err == nil {
			return v, nil
		}
		slog.Debug("synthesizer failed, trying next",
			"kind", kind,
			"index", i,
			"error", err,
		)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return zero, fmt.Errorf("no synthesizers configured: %w", ErrContentPending)
	}
	return zero, fmt.Errorf("%s synthesis failed: %w", kind, errors.Join(append(errs, ErrContentPending)...))
}
