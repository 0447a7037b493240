package ai

import (
	"context"
	"testing"
)

func TestInMemoryBudget_NoBudgetSet(t *testing.T) {
	b := NewInMemoryBudget(0)

	ok, err := b.Check(context.Background(), "learner1")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !ok {
		t.Error("Check() = false, want true (no budget means unlimited)")
	}
}

func TestInMemoryBudget_WithinBudget(t *testing.T) {
	ctx := context.Background()
	b := NewInMemoryBudget(1000)

	if err := b.Record(ctx, "learner1", 500); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	ok, err := b.Check(ctx, "learner1")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if !ok {
		t.Error("Check() = false, want true (500 < 1000)")
	}
}

func TestInMemoryBudget_OverBudget(t *testing.T) {
	ctx := context.Background()
	b := NewInMemoryBudget(0)
	b.SetBudget("learner1", 100)

	if err := b.Record(ctx, "learner1", 150); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	ok, _ := b.Check(ctx, "learner1")
	if ok {
		t.Error("Check() = true, want false (150 >= 100)")
	}

	// Other learners fall back to the default, which is unlimited here.
	ok, _ = b.Check(ctx, "learner2")
	if !ok {
		t.Error("Check(learner2) = false, want true")
	}
}

func TestInMemoryBudget_NegativeTokens(t *testing.T) {
	b := NewInMemoryBudget(10)
	if err := b.Record(context.Background(), "learner1", -1); err == nil {
		t.Error("Record() should reject negative tokens")
	}
}

func TestInMemoryBudget_Usage(t *testing.T) {
	ctx := context.Background()
	b := NewInMemoryBudget(5000)
	_ = b.Record(ctx, "learner1", 1200)
	_ = b.Record(ctx, "learner1", 300)

	used, budget, err := b.Usage(ctx, "learner1")
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if used != 1500 {
		t.Errorf("used = %d, want 1500", used)
	}
	if budget != 5000 {
		t.Errorf("budget = %d, want 5000", budget)
	}
}

func TestRedisBudget_UnlimitedSkipsRedis(t *testing.T) {
	b := NewRedisBudget(nil, 0)
	ok, err := b.Check(context.Background(), "learner1")
	if err != nil || !ok {
		t.Errorf("Check() = %v, %v; want true, nil", ok, err)
	}
}

func TestRedisBudget_KeyIsPerDay(t *testing.T) {
	b := NewRedisBudget(nil, 100)
	if got := b.key("learner1"); len(got) == 0 || got[:10] != "ai_budget:" {
		t.Errorf("key() = %q, want ai_budget prefix", got)
	}
}
