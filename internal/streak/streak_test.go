package streak_test

import (
	"context"
	"testing"
	"time"

	"github.com/p-n-ai/pai-lingo/internal/learning"
	"github.com/p-n-ai/pai-lingo/internal/streak"
)

func day(d, hour int) time.Time {
	return time.Date(2026, 4, d, hour, 0, 0, 0, time.UTC)
}

func TestOnQualifyingActivity(t *testing.T) {
	steps := []struct {
		name        string
		at          time.Time
		wantCurrent int
		wantLongest int
	}{
		{"first activity", day(1, 10), 1, 1},
		{"same day", day(1, 22), 1, 1},
		{"next day", day(2, 7), 2, 2},
		{"day after", day(3, 23), 3, 3},
		{"gap resets", day(6, 9), 1, 3},
		{"continues again", day(7, 9), 2, 3},
		{"earlier timestamp ignored", day(5, 9), 2, 3},
	}

	store := learning.NewMemoryStore()
	tracker := streak.NewTracker(store, time.UTC)
	for _, step := range steps {
		got, err := tracker.OnQualifyingActivity(context.Background(), "l1", step.at)
		if err != nil {
			t.Fatalf("%s: error = %v", step.name, err)
		}
		if got.CurrentStreak != step.wantCurrent || got.LongestStreak != step.wantLongest {
			t.Errorf("%s: streak = %d/%d, want %d/%d",
				step.name, got.CurrentStreak, got.LongestStreak, step.wantCurrent, step.wantLongest)
		}
	}
}

func TestOnQualifyingActivity_SameDayDoesNotWrite(t *testing.T) {
	store := learning.NewMemoryStore()
	tracker := streak.NewTracker(store, nil)
	ctx := context.Background()

	if _, err := tracker.OnQualifyingActivity(ctx, "l1", day(1, 8)); err != nil {
		t.Fatal(err)
	}
	store.InjectFault("SaveStreak", context.DeadlineExceeded)
	defer store.InjectFault("SaveStreak", nil)

	got, err := tracker.OnQualifyingActivity(ctx, "l1", day(1, 20))
	if err != nil {
		t.Fatalf("same-day activity should not write, got error %v", err)
	}
	if got.CurrentStreak != 1 {
		t.Errorf("CurrentStreak = %d, want 1", got.CurrentStreak)
	}
}

func TestDaysBetween_UsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	// 14:00 UTC and 16:00 UTC are the same UTC day but different JST days.
	a := time.Date(2026, 4, 1, 14, 0, 0, 0, time.UTC)
	b := time.Date(2026, 4, 1, 16, 0, 0, 0, time.UTC)

	if got := streak.DaysBetween(a, b, time.UTC); got != 0 {
		t.Errorf("UTC delta = %d, want 0", got)
	}
	if got := streak.DaysBetween(a, b, tokyo); got != 1 {
		t.Errorf("JST delta = %d, want 1", got)
	}
}

func TestDaysBetween_AcrossMonths(t *testing.T) {
	a := time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC)
	b := time.Date(2026, 2, 1, 1, 0, 0, 0, time.UTC)
	if got := streak.DaysBetween(a, b, time.UTC); got != 1 {
		t.Errorf("delta = %d, want 1", got)
	}
}
