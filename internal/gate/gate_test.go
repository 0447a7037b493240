package gate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/p-n-ai/pai-lingo/internal/gate"
	"github.com/p-n-ai/pai-lingo/internal/learning"
	"github.com/p-n-ai/pai-lingo/internal/synthesis"
)

var now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	store  *learning.MemoryStore
	synth  *synthesis.MockSynthesizer
	events *learning.MemoryEventLogger
	gate   *gate.Gate
}

func newHarness() *harness {
	h := &harness{
		store:  learning.NewMemoryStore(),
		synth:  synthesis.NewMockSynthesizer(),
		events: learning.NewMemoryEventLogger(),
	}
	h.gate = gate.New(gate.Config{
		Store:       h.store,
		Synthesizer: h.synth,
		Events:      h.events,
		Policy:      learning.DefaultPolicy(),
		Now:         func() time.Time { return now },
	})
	return h
}

// seedChapters creates chapters from..to; the first `completed` of them are
// complete and chapters in later sections are locked.
func (h *harness) seedChapters(t *testing.T, from, to, completed int) map[int]string {
	t.Helper()
	ctx := context.Background()
	ids := make(map[int]string)
	err := h.store.WithLearner(ctx, "l1", func(tx learning.Tx) error {
		for n := from; n <= to; n++ {
			c := &learning.LearningUnit{Kind: learning.KindChapter, Number: n, Level: "A2", Locked: n > 5}
			if n-from < completed {
				c.IsCompleted = true
				c.CompletedAt = &now
			}
			if err := tx.CreateUnit(ctx, c); err != nil {
				return err
			}
			ids[n] = c.ID
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return ids
}

func (h *harness) sealed(t *testing.T, section int) bool {
	t.Helper()
	var got bool
	_ = h.store.WithLearner(context.Background(), "l1", func(tx learning.Tx) error {
		var err error
		got, err = h.gate.IsSectionSealed(context.Background(), tx, section)
		if err != nil {
			t.Fatalf("IsSectionSealed() error = %v", err)
		}
		return nil
	})
	return got
}

func TestIsSectionSealed(t *testing.T) {
	h := newHarness()
	if h.sealed(t, 1) {
		t.Error("empty section must not be sealed")
	}

	ids := h.seedChapters(t, 1, 5, 4)
	if h.sealed(t, 1) {
		t.Error("section with an incomplete chapter must not be sealed")
	}

	_ = h.store.WithLearner(context.Background(), "l1", func(tx learning.Tx) error {
		return tx.CompleteUnit(context.Background(), ids[5], now)
	})
	if !h.sealed(t, 1) {
		t.Error("section with all chapters complete should be sealed")
	}
	if h.sealed(t, 0) {
		t.Error("section 0 must never be sealed")
	}
}

func TestIsSectionSealed_ShortFinalSectionAndOtherKinds(t *testing.T) {
	h := newHarness()
	h.seedChapters(t, 6, 7, 2)
	_ = h.store.WithLearner(context.Background(), "l1", func(tx learning.Tx) error {
		return tx.CreateUnit(context.Background(), &learning.LearningUnit{Kind: learning.KindRemedial, Number: 8, BlocksProgress: true})
	})
	if !h.sealed(t, 2) {
		t.Error("short final section with all chapters complete should be sealed; remedials do not count")
	}
}

func TestOnSectionSealed_OffersOnce(t *testing.T) {
	h := newHarness()
	h.seedChapters(t, 1, 5, 5)
	ctx := context.Background()

	req, err := h.gate.OnSectionSealed(ctx, "l1", 1)
	if err != nil {
		t.Fatalf("OnSectionSealed() error = %v", err)
	}
	if !req.Sealed || !req.Offer || req.Assessment == nil {
		t.Fatalf("requirement = %+v, want a new offer", req)
	}
	if req.Assessment.Range.Key() != "1-5" || req.Assessment.Attempt != 1 {
		t.Errorf("assessment = %+v", req.Assessment)
	}
	if req.Assessment.TotalQuestions != 5 || req.Assessment.PassingScore != 80 {
		t.Errorf("questions/passing = %d/%d, want 5/80", req.Assessment.TotalQuestions, req.Assessment.PassingScore)
	}
	if len(req.Questions) != 5 {
		t.Errorf("len(Questions) = %d, want 5", len(req.Questions))
	}

	again, err := h.gate.OnSectionSealed(ctx, "l1", 1)
	if err != nil {
		t.Fatalf("second OnSectionSealed() error = %v", err)
	}
	if again.Offer {
		t.Error("second observation must not create another offer")
	}
	if again.Assessment == nil || again.Assessment.ID != req.Assessment.ID {
		t.Errorf("second observation should return the existing assessment")
	}
	if got := len(h.events.OfType(learning.EventAssessmentOffered)); got != 1 {
		t.Errorf("assessment_offered events = %d, want 1", got)
	}
	if _, _, calls := h.synth.Calls(); len(calls) != 1 {
		t.Errorf("synthesis calls = %d, want 1", len(calls))
	}
}

func TestOnSectionSealed_NotSealed(t *testing.T) {
	h := newHarness()
	h.seedChapters(t, 1, 5, 3)

	req, err := h.gate.OnSectionSealed(context.Background(), "l1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if req.Sealed || req.Offer || req.Assessment != nil {
		t.Errorf("requirement = %+v, want nothing", req)
	}
}

func TestOnSectionSealed_SynthesisFailurePersistsNothing(t *testing.T) {
	h := newHarness()
	h.seedChapters(t, 1, 5, 5)
	h.synth.SetAssessmentErr(errors.New("llm down"))
	ctx := context.Background()

	_, err := h.gate.OnSectionSealed(ctx, "l1", 1)
	if !errors.Is(err, synthesis.ErrContentPending) {
		t.Fatalf("error = %v, want ErrContentPending", err)
	}
	_ = h.store.WithLearner(ctx, "l1", func(tx learning.Tx) error {
		all, _ := tx.AllAssessments(ctx)
		if len(all) != 0 {
			t.Errorf("assessments = %d, want 0 after failed synthesis", len(all))
		}
		return nil
	})

	h.synth.SetAssessmentErr(nil)
	req, err := h.gate.OnSectionSealed(ctx, "l1", 1)
	if err != nil || !req.Offer {
		t.Fatalf("retry = %+v, %v; want offer", req, err)
	}
}

func TestOnSectionSealed_DeferredByOpenRemedial(t *testing.T) {
	h := newHarness()
	h.seedChapters(t, 1, 5, 5)
	ctx := context.Background()
	var remedialID string
	_ = h.store.WithLearner(ctx, "l1", func(tx learning.Tx) error {
		u := &learning.LearningUnit{Kind: learning.KindRemedial, Topic: "articles", IsRequired: true, BlocksProgress: true}
		err := tx.CreateUnit(ctx, u)
		remedialID = u.ID
		return err
	})

	req, err := h.gate.OnSectionSealed(ctx, "l1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if req.Offer || len(req.BlockedBy) != 1 || req.BlockedBy[0] != remedialID {
		t.Errorf("requirement = %+v, want deferral by %s", req, remedialID)
	}
	if _, _, calls := h.synth.Calls(); len(calls) != 0 {
		t.Error("no questions should be synthesized while blocked")
	}
}

func offer(t *testing.T, h *harness) *learning.GateAssessment {
	t.Helper()
	req, err := h.gate.OnSectionSealed(context.Background(), "l1", 1)
	if err != nil || req.Assessment == nil {
		t.Fatalf("offer: %+v, %v", req, err)
	}
	return req.Assessment
}

func TestSubmit_PassingThreshold(t *testing.T) {
	tests := []struct {
		score      int
		wantPassed bool
	}{
		{80, true},
		{79, false},
		{100, true},
		{0, false},
	}
	for _, tt := range tests {
		h := newHarness()
		ids := h.seedChapters(t, 1, 10, 5)
		a := offer(t, h)

		out, err := h.gate.Submit(context.Background(), "l1", a.ID, tt.score)
		if err != nil {
			t.Fatalf("score %d: Submit() error = %v", tt.score, err)
		}
		if out.Passed != tt.wantPassed {
			t.Errorf("score %d: Passed = %v, want %v", tt.score, out.Passed, tt.wantPassed)
		}
		if !out.Assessment.Completed() {
			t.Errorf("score %d: assessment not completed", tt.score)
		}

		_ = h.store.WithLearner(context.Background(), "l1", func(tx learning.Tx) error {
			u, _ := tx.Unit(context.Background(), ids[6])
			if u.Locked == tt.wantPassed {
				t.Errorf("score %d: chapter 6 locked = %v", tt.score, u.Locked)
			}
			return nil
		})
	}
}

func TestSubmit_RejectsOutOfRangeScore(t *testing.T) {
	h := newHarness()
	h.seedChapters(t, 1, 10, 5)
	a := offer(t, h)

	for _, score := range []int{-1, 101, 800} {
		if _, err := h.gate.Submit(context.Background(), "l1", a.ID, score); err == nil {
			t.Errorf("Submit(%d) should fail", score)
		}
	}
	out, err := h.gate.Submit(context.Background(), "l1", a.ID, 80)
	if err != nil {
		t.Fatalf("assessment should still be open after rejected scores: %v", err)
	}
	if !out.Passed || out.Assessment.Score != 80 {
		t.Errorf("Outcome = %+v, want a pass at 80", out)
	}
}

func TestSubmit_PassUnlocksInPlace(t *testing.T) {
	h := newHarness()
	h.seedChapters(t, 1, 10, 5)
	a := offer(t, h)

	out, err := h.gate.Submit(context.Background(), "l1", a.ID, 90)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Unlocked) != 5 {
		t.Errorf("Unlocked = %d chapters, want 5", len(out.Unlocked))
	}
	if out.Generate != nil {
		t.Errorf("Generate = %+v, want nil when chapters exist", out.Generate)
	}
	if len(h.events.OfType(learning.EventChaptersUnlocked)) != 1 {
		t.Error("chapters_unlocked event not emitted")
	}
}

func TestSubmit_PassRequestsGeneration(t *testing.T) {
	h := newHarness()
	h.seedChapters(t, 1, 5, 5)
	a := offer(t, h)

	out, err := h.gate.Submit(context.Background(), "l1", a.ID, 85)
	if err != nil {
		t.Fatal(err)
	}
	if out.Generate == nil || out.Generate.Key() != "6-10" {
		t.Fatalf("Generate = %+v, want 6-10", out.Generate)
	}
	if out.Level != "A2" {
		t.Errorf("Level = %q, want A2", out.Level)
	}

	_ = h.store.WithLearner(context.Background(), "l1", func(tx learning.Tx) error {
		pending, err := h.gate.PendingGeneration(context.Background(), tx)
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) != 1 || pending[0].Key() != "6-10" {
			t.Errorf("PendingGeneration() = %+v, want [6-10]", pending)
		}
		return nil
	})
}

func TestSubmit_CompletedAssessmentIsImmutable(t *testing.T) {
	h := newHarness()
	h.seedChapters(t, 1, 5, 5)
	a := offer(t, h)
	ctx := context.Background()

	if _, err := h.gate.Submit(ctx, "l1", a.ID, 50); err != nil {
		t.Fatal(err)
	}
	_, err := h.gate.Submit(ctx, "l1", a.ID, 95)
	if !errors.Is(err, gate.ErrAssessmentCompleted) {
		t.Fatalf("error = %v, want ErrAssessmentCompleted", err)
	}
	_ = h.store.WithLearner(ctx, "l1", func(tx learning.Tx) error {
		got, _ := tx.Assessment(ctx, a.ID)
		if got.Score != 50 || got.Passed {
			t.Errorf("assessment regraded: %+v", got)
		}
		return nil
	})
}

func TestSubmit_UnknownAssessment(t *testing.T) {
	h := newHarness()
	_, err := h.gate.Submit(context.Background(), "l1", "missing", 90)
	if !errors.Is(err, learning.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestRetake(t *testing.T) {
	h := newHarness()
	h.seedChapters(t, 1, 5, 5)
	a := offer(t, h)
	ctx := context.Background()

	if _, err := h.gate.Retake(ctx, "l1", "1-5"); !errors.Is(err, gate.ErrNoRetake) {
		t.Fatalf("retake of open attempt: error = %v, want ErrNoRetake", err)
	}

	if _, err := h.gate.Submit(ctx, "l1", a.ID, 40); err != nil {
		t.Fatal(err)
	}
	req, err := h.gate.Retake(ctx, "l1", "1-5")
	if err != nil {
		t.Fatalf("Retake() error = %v", err)
	}
	if req.Assessment.Attempt != 2 || req.Assessment.ID == a.ID {
		t.Errorf("retake = %+v, want a new attempt 2", req.Assessment)
	}

	if _, err := h.gate.Submit(ctx, "l1", req.Assessment.ID, 80); err != nil {
		t.Fatal(err)
	}
	if _, err := h.gate.Retake(ctx, "l1", "1-5"); !errors.Is(err, gate.ErrNoRetake) {
		t.Errorf("retake after pass: error = %v, want ErrNoRetake", err)
	}
	if _, err := h.gate.Retake(ctx, "l1", "6-10"); !errors.Is(err, gate.ErrNotSealed) {
		t.Errorf("retake of unoffered range: error = %v, want ErrNotSealed", err)
	}
	if _, err := h.gate.Retake(ctx, "l1", "bogus"); err == nil {
		t.Error("expected error for malformed range key")
	}
}

func TestOnBridgeCompleted(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	var second string
	_ = h.store.WithLearner(ctx, "l1", func(tx learning.Tx) error {
		b1 := &learning.LearningUnit{Kind: learning.KindBridge, Number: 1, IsCompleted: true, CompletedAt: &now}
		b2 := &learning.LearningUnit{Kind: learning.KindBridge, Number: 2}
		if err := tx.CreateUnit(ctx, b1); err != nil {
			return err
		}
		err := tx.CreateUnit(ctx, b2)
		second = b2.ID
		return err
	})

	req, err := h.gate.OnBridgeCompleted(ctx, "l1")
	if err != nil {
		t.Fatal(err)
	}
	if req.Offer {
		t.Fatal("bridge final offered before all bridge chapters completed")
	}

	_ = h.store.WithLearner(ctx, "l1", func(tx learning.Tx) error {
		return tx.CompleteUnit(ctx, second, now)
	})
	req, err = h.gate.OnBridgeCompleted(ctx, "l1")
	if err != nil {
		t.Fatal(err)
	}
	if !req.Offer || req.Assessment.Kind != learning.AssessmentBridgeFinal || req.Range.Key() != "1-2" {
		t.Errorf("requirement = %+v, want bridge final over 1-2", req)
	}

	out, err := h.gate.Submit(ctx, "l1", req.Assessment.ID, 90)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Passed || out.Generate != nil {
		t.Errorf("bridge outcome = %+v, want pass without generation", out)
	}

	again, _ := h.gate.OnBridgeCompleted(ctx, "l1")
	if again.Offer {
		t.Error("bridge final offered twice")
	}
}

func TestSectionHelpers(t *testing.T) {
	g := gate.New(gate.Config{Policy: learning.Policy{SectionSize: 4}})
	if g.SectionOf(5) != 2 {
		t.Errorf("SectionOf(5) = %d, want 2", g.SectionOf(5))
	}
	if r := g.RangeOf(2); r.Key() != "5-8" {
		t.Errorf("RangeOf(2) = %s, want 5-8", r.Key())
	}
}

func TestUnofferedSections(t *testing.T) {
	h := newHarness()
	h.seedChapters(t, 1, 12, 10)
	ctx := context.Background()

	unoffered := func() []int {
		var got []int
		_ = h.store.WithLearner(ctx, "l1", func(tx learning.Tx) error {
			var err error
			got, err = h.gate.UnofferedSections(ctx, tx)
			if err != nil {
				t.Fatal(err)
			}
			return nil
		})
		return got
	}

	if got := unoffered(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("UnofferedSections() = %v, want [1 2]", got)
	}
	if _, err := h.gate.OnSectionSealed(ctx, "l1", 1); err != nil {
		t.Fatal(err)
	}
	if got := unoffered(); len(got) != 1 || got[0] != 2 {
		t.Errorf("UnofferedSections() = %v, want [2]", got)
	}
}
