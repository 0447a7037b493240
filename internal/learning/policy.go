package learning

import (
	"fmt"
	"time"
)

const (
	DefaultSectionSize         = 5
	DefaultMistakeThreshold    = 2
	DefaultReviewBatchSize     = 20
	DefaultPassingScore        = 80
	DefaultAssessmentQuestions = 20
	DefaultSynthesisTimeout    = 60 * time.Second
	DefaultLevel               = "A1"
)

// Policy holds the tunable thresholds of the engine.
type Policy struct {
	SectionSize         int            // chapters per gated section
	MistakeThreshold    int            // unaddressed mistakes per topic before a remedial chapter
	ReviewBatchSize     int            // max cards returned by a review-deck query
	PassingScore        int            // gate assessment pass mark, in percent
	AssessmentQuestions int            // questions requested for a new gate assessment
	SynthesisTimeout    time.Duration  // bound on a single content-synthesis call
	DefaultLevel        string         // level used when a learner has no chapters yet
	Location            *time.Location // calendar used for streak day boundaries
}

// DefaultPolicy returns the reference thresholds.
func DefaultPolicy() Policy {
	return Policy{
		SectionSize:         DefaultSectionSize,
		MistakeThreshold:    DefaultMistakeThreshold,
		ReviewBatchSize:     DefaultReviewBatchSize,
		PassingScore:        DefaultPassingScore,
		AssessmentQuestions: DefaultAssessmentQuestions,
		SynthesisTimeout:    DefaultSynthesisTimeout,
		DefaultLevel:        DefaultLevel,
		Location:            time.UTC,
	}
}

// WithDefaults fills zero fields from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.SectionSize == 0 {
		p.SectionSize = d.SectionSize
	}
	if p.MistakeThreshold == 0 {
		p.MistakeThreshold = d.MistakeThreshold
	}
	if p.ReviewBatchSize == 0 {
		p.ReviewBatchSize = d.ReviewBatchSize
	}
	if p.PassingScore == 0 {
		p.PassingScore = d.PassingScore
	}
	if p.AssessmentQuestions == 0 {
		p.AssessmentQuestions = d.AssessmentQuestions
	}
	if p.SynthesisTimeout == 0 {
		p.SynthesisTimeout = d.SynthesisTimeout
	}
	if p.DefaultLevel == "" {
		p.DefaultLevel = d.DefaultLevel
	}
	if p.Location == nil {
		p.Location = d.Location
	}
	return p
}

// Validate rejects thresholds the engine cannot work with.
func (p Policy) Validate() error {
	if p.SectionSize < 1 {
		return fmt.Errorf("section size must be positive, got %d", p.SectionSize)
	}
	if p.MistakeThreshold < 1 {
		return fmt.Errorf("mistake threshold must be positive, got %d", p.MistakeThreshold)
	}
	if p.ReviewBatchSize < 1 {
		return fmt.Errorf("review batch size must be positive, got %d", p.ReviewBatchSize)
	}
	if p.PassingScore < 0 || p.PassingScore > 100 {
		return fmt.Errorf("passing score must be within 0-100, got %d", p.PassingScore)
	}
	if p.SynthesisTimeout < 0 {
		return fmt.Errorf("synthesis timeout must not be negative")
	}
	return nil
}

// SectionOf returns the 1-based section holding chapter number n.
func (p Policy) SectionOf(n int) int {
	if n < 1 {
		return 0
	}
	return (n-1)/p.SectionSize + 1
}

// RangeOf returns the chapter range of a 1-based section.
func (p Policy) RangeOf(section int) ChapterRange {
	from := (section-1)*p.SectionSize + 1
	return ChapterRange{From: from, To: from + p.SectionSize - 1}
}
