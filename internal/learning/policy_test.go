package learning_test

import (
	"testing"
	"time"

	"github.com/p-n-ai/pai-lingo/internal/learning"
)

func TestPolicy_WithDefaults(t *testing.T) {
	p := learning.Policy{SectionSize: 3}.WithDefaults()
	if p.SectionSize != 3 {
		t.Errorf("SectionSize = %d, want 3", p.SectionSize)
	}
	if p.MistakeThreshold != 2 {
		t.Errorf("MistakeThreshold = %d, want 2", p.MistakeThreshold)
	}
	if p.ReviewBatchSize != 20 {
		t.Errorf("ReviewBatchSize = %d, want 20", p.ReviewBatchSize)
	}
	if p.PassingScore != 80 {
		t.Errorf("PassingScore = %d, want 80", p.PassingScore)
	}
	if p.SynthesisTimeout != 60*time.Second {
		t.Errorf("SynthesisTimeout = %v, want 60s", p.SynthesisTimeout)
	}
	if p.Location != time.UTC {
		t.Errorf("Location = %v, want UTC", p.Location)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*learning.Policy)
	}{
		{"negative section size", func(p *learning.Policy) { p.SectionSize = -1 }},
		{"zero threshold", func(p *learning.Policy) { p.MistakeThreshold = 0 }},
		{"passing score over 100", func(p *learning.Policy) { p.PassingScore = 101 }},
		{"negative timeout", func(p *learning.Policy) { p.SynthesisTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := learning.DefaultPolicy()
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

func TestPolicy_Sections(t *testing.T) {
	p := learning.DefaultPolicy()

	tests := []struct {
		chapter int
		section int
	}{
		{1, 1}, {5, 1}, {6, 2}, {10, 2}, {11, 3}, {0, 0},
	}
	for _, tt := range tests {
		if got := p.SectionOf(tt.chapter); got != tt.section {
			t.Errorf("SectionOf(%d) = %d, want %d", tt.chapter, got, tt.section)
		}
	}

	if got := p.RangeOf(2); got != (learning.ChapterRange{From: 6, To: 10}) {
		t.Errorf("RangeOf(2) = %+v, want 6-10", got)
	}
}
