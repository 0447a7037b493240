// Package gate decides when a learner may advance past a section of
// chapters. A section is sealed when all of its chapters are complete; a
// sealed section is offered a gate assessment, and passing that assessment
// unlocks or requests the next section.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/p-n-ai/pai-lingo/internal/learning"
	"github.com/p-n-ai/pai-lingo/internal/synthesis"
)

var (
	// ErrAssessmentCompleted is returned when submitting an assessment that
	// already has a result.
	ErrAssessmentCompleted = errors.New("assessment already completed")
	// ErrNotSealed is returned when a retake is requested for a range whose
	// assessment cannot be retaken.
	ErrNotSealed = errors.New("section not sealed")
	// ErrNoRetake is returned when the latest attempt was passed or is still open.
	ErrNoRetake = errors.New("retake not allowed")
)

// Config holds dependencies for the gate.
type Config struct {
	Store       learning.Store
	Synthesizer synthesis.Synthesizer
	Events      learning.EventLogger
	Policy      learning.Policy
	Now         func() time.Time
}

// Gate evaluates section sealing and manages gate assessments.
type Gate struct {
	store  learning.Store
	synth  synthesis.Synthesizer
	events learning.EventLogger
	policy learning.Policy
	now    func() time.Time
}

// New creates a gate.
func New(cfg Config) *Gate {
	events := cfg.Events
	if events == nil {
		events = learning.NopEventLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Gate{
		store:  cfg.Store,
		synth:  cfg.Synthesizer,
		events: events,
		policy: cfg.Policy.WithDefaults(),
		now:    now,
	}
}

// Requirement is the gate's answer to a sealing check.
type Requirement struct {
	Section int
	Range   learning.ChapterRange
	Sealed  bool
	// Offer is true when this call created a new assessment.
	Offer      bool
	Assessment *learning.GateAssessment
	Questions  []synthesis.Question
	// BlockedBy lists open remedial chapters deferring the offer.
	BlockedBy []string
}

// Outcome is the result of submitting an assessment.
type Outcome struct {
	Assessment learning.GateAssessment
	Passed     bool
	// Unlocked lists pre-generated chapters of the next range that were
	// unlocked in place.
	Unlocked []string
	// Generate is set when the next range has no chapters yet and content
	// must be synthesized for it.
	Generate *learning.ChapterRange
	// Level is the level of the assessed chapters, for generation.
	Level string
}

// SectionOf returns the section holding chapter number n.
func (g *Gate) SectionOf(n int) int { return g.policy.SectionOf(n) }

// RangeOf returns the chapter range of a section.
func (g *Gate) RangeOf(section int) learning.ChapterRange { return g.policy.RangeOf(section) }

// IsSectionSealed reports whether the section has at least one chapter and
// all of its chapters are complete. It always reads current chapter state.
func (g *Gate) IsSectionSealed(ctx context.Context, tx learning.Tx, section int) (bool, error) {
	if section < 1 {
		return false, nil
	}
	chapters, err := tx.Chapters(ctx, g.policy.RangeOf(section))
	if err != nil {
		return false, fmt.Errorf("list chapters: %w", err)
	}
	return allComplete(chapters), nil
}

func allComplete(units []learning.LearningUnit) bool {
	if len(units) == 0 {
		return false
	}
	for _, u := range units {
		if !u.IsCompleted {
			return false
		}
	}
	return true
}

// OnSectionSealed offers a gate assessment the first time a sealed section
// is observed. Questions are synthesized outside the learner transaction;
// when synthesis fails nothing is stored and the error wraps
// synthesis.ErrContentPending.
func (g *Gate) OnSectionSealed(ctx context.Context, learnerID string, section int) (Requirement, error) {
	req := Requirement{Section: section, Range: g.policy.RangeOf(section)}

	proceed, err := g.precheck(ctx, learnerID, &req)
	if err != nil || !proceed {
		return req, err
	}

	questions, err := g.synthesize(ctx, learnerID, req.Range)
	if err != nil {
		return req, err
	}

	var created bool
	err = g.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		// State may have moved while questions were being synthesized.
		req.Sealed, req.BlockedBy, req.Assessment = false, nil, nil
		ok, err := g.checkOffer(ctx, tx, &req)
		if err != nil || !ok {
			return err
		}
		a, err := g.createAttempt(ctx, tx, learning.AssessmentProgress, req.Range, 1, len(questions))
		if err != nil {
			return err
		}
		req.Assessment = a
		created = true
		return nil
	})
	if err != nil {
		return req, fmt.Errorf("offer assessment for %s: %w", req.Range.Key(), err)
	}
	if created {
		req.Offer = true
		req.Questions = questions
		learning.Emit(g.events, learnerID, learning.EventAssessmentOffered, map[string]any{
			"assessment_id": req.Assessment.ID,
			"range":         req.Range.Key(),
			"attempt":       req.Assessment.Attempt,
		})
		slog.Info("gate assessment offered",
			"learner_id", learnerID,
			"range", req.Range.Key(),
			"assessment_id", req.Assessment.ID,
		)
	}
	return req, nil
}

// precheck runs the offer conditions in a short transaction and reports
// whether synthesis should proceed.
func (g *Gate) precheck(ctx context.Context, learnerID string, req *Requirement) (bool, error) {
	var proceed bool
	err := g.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		var err error
		proceed, err = g.checkOffer(ctx, tx, req)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("check section %d: %w", req.Section, err)
	}
	return proceed, nil
}

// checkOffer fills req from current state and reports whether a new
// assessment should be created.
func (g *Gate) checkOffer(ctx context.Context, tx learning.Tx, req *Requirement) (bool, error) {
	sealed, err := g.IsSectionSealed(ctx, tx, req.Section)
	if err != nil {
		return false, err
	}
	req.Sealed = sealed
	if !sealed {
		return false, nil
	}

	all, err := tx.Assessments(ctx, req.Range)
	if err != nil {
		return false, fmt.Errorf("list assessments: %w", err)
	}
	if existing := ofKind(all, learning.AssessmentProgress); len(existing) > 0 {
		latest := existing[len(existing)-1]
		req.Assessment = &latest
		return false, nil
	}

	blockers, err := learning.OpenBlockers(ctx, tx)
	if err != nil {
		return false, fmt.Errorf("list open remedials: %w", err)
	}
	for _, b := range blockers {
		req.BlockedBy = append(req.BlockedBy, b.ID)
	}
	return len(blockers) == 0, nil
}

func ofKind(assessments []learning.GateAssessment, kind learning.AssessmentKind) []learning.GateAssessment {
	var out []learning.GateAssessment
	for _, a := range assessments {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func (g *Gate) synthesize(ctx context.Context, learnerID string, r learning.ChapterRange) ([]synthesis.Question, error) {
	if g.synth == nil {
		return nil, fmt.Errorf("no synthesizer configured: %w", synthesis.ErrContentPending)
	}
	sctx, cancel := context.WithTimeout(ctx, g.policy.SynthesisTimeout)
	defer cancel()

	questions, err := g.synth.SynthesizeAssessment(sctx, r)
	if err == nil && len(questions) == 0 {
		err = errors.New("no questions returned")
	}
	if err != nil {
		learning.Emit(g.events, learnerID, learning.EventContentPending, map[string]any{
			"kind":  "assessment",
			"range": r.Key(),
		})
		if errors.Is(err, synthesis.ErrContentPending) {
			return nil, fmt.Errorf("synthesize assessment for %s: %w", r.Key(), err)
		}
		return nil, fmt.Errorf("synthesize assessment for %s: %w: %w", r.Key(), synthesis.ErrContentPending, err)
	}
	return questions, nil
}

func (g *Gate) createAttempt(ctx context.Context, tx learning.Tx, kind learning.AssessmentKind, r learning.ChapterRange, attempt, questions int) (*learning.GateAssessment, error) {
	if questions <= 0 {
		questions = g.policy.AssessmentQuestions
	}
	a := &learning.GateAssessment{
		Kind:           kind,
		Range:          r,
		Attempt:        attempt,
		TotalQuestions: questions,
		PassingScore:   g.policy.PassingScore,
		CreatedAt:      g.now(),
	}
	if err := tx.CreateAssessment(ctx, a); err != nil {
		return nil, fmt.Errorf("create assessment: %w", err)
	}
	return a, nil
}

// Submit records a score for an open assessment. A score at or above the
// passing mark passes. Passing unlocks the next range's chapters in place
// when they exist, or asks for them to be generated. Failing changes no
// chapter state.
func (g *Gate) Submit(ctx context.Context, learnerID, assessmentID string, score int) (Outcome, error) {
	var out Outcome
	err := g.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		var err error
		out, err = g.SubmitTx(ctx, tx, assessmentID, score)
		return err
	})
	if err != nil {
		return out, fmt.Errorf("submit assessment %s: %w", assessmentID, err)
	}
	g.Announce(learnerID, out)
	return out, nil
}

// Announce emits the events for an outcome produced by SubmitTx.
func (g *Gate) Announce(learnerID string, out Outcome) {
	eventType := learning.EventAssessmentFailed
	if out.Passed {
		eventType = learning.EventAssessmentPassed
	}
	learning.Emit(g.events, learnerID, eventType, map[string]any{
		"assessment_id": out.Assessment.ID,
		"range":         out.Assessment.Range.Key(),
		"score":         out.Assessment.Score,
		"attempt":       out.Assessment.Attempt,
	})
	if len(out.Unlocked) > 0 {
		learning.Emit(g.events, learnerID, learning.EventChaptersUnlocked, map[string]any{
			"range":    out.Assessment.Range.Next().Key(),
			"unit_ids": out.Unlocked,
		})
	}
}

// SubmitTx is Submit inside an existing transaction. It emits no events.
func (g *Gate) SubmitTx(ctx context.Context, tx learning.Tx, assessmentID string, score int) (Outcome, error) {
	var out Outcome

	a, err := tx.Assessment(ctx, assessmentID)
	if err != nil {
		return out, err
	}
	if a.Completed() {
		return out, ErrAssessmentCompleted
	}
	if score < 0 || score > 100 {
		return out, fmt.Errorf("score must be within 0-100, got %d", score)
	}

	passed := score >= a.PassingScore
	at := g.now()
	if err := tx.CompleteAssessment(ctx, a.ID, score, passed, at); err != nil {
		return out, err
	}
	a.Score, a.Passed, a.CompletedAt = score, passed, &at
	out.Assessment = *a
	out.Passed = passed

	if !passed || a.Kind != learning.AssessmentProgress {
		return out, nil
	}

	current, err := tx.Chapters(ctx, a.Range)
	if err != nil {
		return out, fmt.Errorf("list chapters: %w", err)
	}
	out.Level = levelOf(current, g.policy.DefaultLevel)

	next := a.Range.Next()
	upcoming, err := tx.Chapters(ctx, next)
	if err != nil {
		return out, fmt.Errorf("list next chapters: %w", err)
	}
	if len(upcoming) == 0 {
		out.Generate = &next
		return out, nil
	}

	var locked []string
	for _, c := range upcoming {
		if c.Locked {
			locked = append(locked, c.ID)
		}
	}
	if err := tx.UnlockUnits(ctx, locked); err != nil {
		return out, fmt.Errorf("unlock chapters: %w", err)
	}
	out.Unlocked = locked
	return out, nil
}

func levelOf(chapters []learning.LearningUnit, fallback string) string {
	for i := len(chapters) - 1; i >= 0; i-- {
		if chapters[i].Level != "" {
			return chapters[i].Level
		}
	}
	return fallback
}

// Retake creates the next attempt for a range whose latest attempt was
// completed and failed. Completed attempts are never regraded.
func (g *Gate) Retake(ctx context.Context, learnerID, rangeKey string) (Requirement, error) {
	r, err := learning.ParseRange(rangeKey)
	if err != nil {
		return Requirement{}, err
	}
	req := Requirement{Section: g.policy.SectionOf(r.From), Range: r}

	var latest learning.GateAssessment
	err = g.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		var err error
		latest, err = g.retakeable(ctx, tx, r)
		return err
	})
	if err != nil {
		return req, fmt.Errorf("retake %s: %w", rangeKey, err)
	}

	questions, err := g.synthesize(ctx, learnerID, r)
	if err != nil {
		return req, err
	}

	err = g.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		current, err := g.retakeable(ctx, tx, r)
		if err != nil {
			return err
		}
		a, err := g.createAttempt(ctx, tx, current.Kind, r, current.Attempt+1, len(questions))
		if err != nil {
			return err
		}
		req.Assessment = a
		return nil
	})
	if err != nil {
		return req, fmt.Errorf("retake %s: %w", rangeKey, err)
	}

	req.Sealed = true
	req.Offer = true
	req.Questions = questions
	learning.Emit(g.events, learnerID, learning.EventAssessmentOffered, map[string]any{
		"assessment_id": req.Assessment.ID,
		"range":         r.Key(),
		"attempt":       req.Assessment.Attempt,
		"previous":      latest.ID,
	})
	return req, nil
}

func (g *Gate) retakeable(ctx context.Context, tx learning.Tx, r learning.ChapterRange) (learning.GateAssessment, error) {
	all, err := tx.Assessments(ctx, r)
	if err != nil {
		return learning.GateAssessment{}, fmt.Errorf("list assessments: %w", err)
	}
	attempts := ofKind(all, learning.AssessmentProgress)
	if len(attempts) == 0 {
		attempts = ofKind(all, learning.AssessmentBridgeFinal)
	}
	if len(attempts) == 0 {
		return learning.GateAssessment{}, ErrNotSealed
	}
	latest := attempts[len(attempts)-1]
	if !latest.Completed() || latest.Passed {
		return latest, ErrNoRetake
	}
	return latest, nil
}

// PendingGeneration returns ranges following a passed progress assessment
// that still have no chapters. They are retried by the sweep.
func (g *Gate) PendingGeneration(ctx context.Context, tx learning.Tx) ([]learning.ChapterRange, error) {
	assessments, err := tx.AllAssessments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	seen := make(map[learning.ChapterRange]bool)
	var pending []learning.ChapterRange
	for _, a := range assessments {
		if !a.Passed || a.Kind != learning.AssessmentProgress {
			continue
		}
		next := a.Range.Next()
		if seen[next] {
			continue
		}
		seen[next] = true
		chapters, err := tx.Chapters(ctx, next)
		if err != nil {
			return nil, fmt.Errorf("list chapters: %w", err)
		}
		if len(chapters) == 0 {
			pending = append(pending, next)
		}
	}
	return pending, nil
}

// OnBridgeCompleted offers the bridge final test once every bridge chapter is
// complete. Bridge chapters do not belong to numbered sections, so the test
// covers the bridge chapters' own number range.
func (g *Gate) OnBridgeCompleted(ctx context.Context, learnerID string) (Requirement, error) {
	var req Requirement
	var proceed bool
	check := func(tx learning.Tx) error {
		req.Sealed, req.Assessment, proceed = false, nil, false
		bridges, err := tx.UnitsByKind(ctx, learning.KindBridge)
		if err != nil {
			return fmt.Errorf("list bridge chapters: %w", err)
		}
		var top []learning.LearningUnit
		for _, b := range bridges {
			if b.ParentID == "" {
				top = append(top, b)
			}
		}
		if !allComplete(top) {
			return nil
		}
		req.Sealed = true
		req.Range = learning.ChapterRange{From: top[0].Number, To: top[len(top)-1].Number}
		existing, err := tx.Assessments(ctx, req.Range)
		if err != nil {
			return fmt.Errorf("list assessments: %w", err)
		}
		if finals := ofKind(existing, learning.AssessmentBridgeFinal); len(finals) > 0 {
			latest := finals[len(finals)-1]
			req.Assessment = &latest
		}
		proceed = req.Assessment == nil
		return nil
	}

	if err := g.store.WithLearner(ctx, learnerID, check); err != nil {
		return req, fmt.Errorf("check bridge: %w", err)
	}
	if !proceed {
		return req, nil
	}

	questions, err := g.synthesize(ctx, learnerID, req.Range)
	if err != nil {
		return req, err
	}

	err = g.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		if err := check(tx); err != nil || !proceed {
			return err
		}
		a, err := g.createAttempt(ctx, tx, learning.AssessmentBridgeFinal, req.Range, 1, len(questions))
		if err != nil {
			return err
		}
		req.Assessment = a
		return nil
	})
	if err != nil {
		return req, fmt.Errorf("offer bridge final: %w", err)
	}
	if proceed {
		req.Offer = true
		req.Questions = questions
		learning.Emit(g.events, learnerID, learning.EventAssessmentOffered, map[string]any{
			"assessment_id": req.Assessment.ID,
			"range":         req.Range.Key(),
			"kind":          string(learning.AssessmentBridgeFinal),
		})
	}
	return req, nil
}

// UnofferedSections returns sealed sections that have no progress
// assessment yet, in ascending order. An offer deferred by an open remedial
// chapter shows up here until it is made.
func (g *Gate) UnofferedSections(ctx context.Context, tx learning.Tx) ([]int, error) {
	chapters, err := tx.UnitsByKind(ctx, learning.KindChapter)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	bySection := make(map[int][]learning.LearningUnit)
	var order []int
	for _, c := range chapters {
		s := g.policy.SectionOf(c.Number)
		if s < 1 {
			continue
		}
		if _, ok := bySection[s]; !ok {
			order = append(order, s)
		}
		bySection[s] = append(bySection[s], c)
	}
	slices.Sort(order)

	var out []int
	for _, s := range order {
		if !allComplete(bySection[s]) {
			continue
		}
		existing, err := tx.Assessments(ctx, g.policy.RangeOf(s))
		if err != nil {
			return nil, fmt.Errorf("list assessments: %w", err)
		}
		if len(ofKind(existing, learning.AssessmentProgress)) == 0 {
			out = append(out, s)
		}
	}
	return out, nil
}
