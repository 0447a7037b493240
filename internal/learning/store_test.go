package learning_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/p-n-ai/pai-lingo/internal/learning"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// runStoreContract exercises behavior every Store implementation must share.
func runStoreContract(t *testing.T, store learning.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("units and exercises", func(t *testing.T) {
		var chapterID, lessonID string
		err := store.WithLearner(ctx, "contract-units", func(tx learning.Tx) error {
			chapter := &learning.LearningUnit{Kind: learning.KindChapter, Number: 1, Title: "Greetings", Level: "A1"}
			if err := tx.CreateUnit(ctx, chapter); err != nil {
				return err
			}
			lesson := &learning.LearningUnit{
				Kind:         learning.KindLesson,
				ParentID:     chapter.ID,
				Number:       1,
				Title:        "Hello",
				FlashcardIDs: []string{"card-hello"},
				Exercises: []learning.Exercise{
					{Prompt: "hello", Answer: "hola", Topic: "greetings"},
					{Prompt: "bye", Answer: "adiós", Topic: "greetings"},
				},
			}
			if err := tx.CreateUnit(ctx, lesson); err != nil {
				return err
			}
			chapterID, lessonID = chapter.ID, lesson.ID
			return nil
		})
		if err != nil {
			t.Fatalf("create units: %v", err)
		}

		err = store.WithLearner(ctx, "contract-units", func(tx learning.Tx) error {
			lesson, err := tx.Unit(ctx, lessonID)
			if err != nil {
				return err
			}
			if len(lesson.Exercises) != 2 {
				return fmt.Errorf("exercises = %d, want 2", len(lesson.Exercises))
			}
			if lesson.Exercises[0].Position != 1 || lesson.Exercises[0].Outcome != learning.OutcomeUnattempted {
				return fmt.Errorf("first exercise = %+v", lesson.Exercises[0])
			}
			if len(lesson.FlashcardIDs) != 1 {
				return fmt.Errorf("flashcard ids = %v", lesson.FlashcardIDs)
			}
			children, err := tx.Children(ctx, chapterID)
			if err != nil {
				return err
			}
			if len(children) != 1 || children[0].ID != lessonID {
				return fmt.Errorf("children = %+v", children)
			}
			if err := tx.SaveExerciseResult(ctx, lesson.Exercises[0].ID, learning.OutcomeCorrect); err != nil {
				return err
			}
			e, err := tx.Exercise(ctx, lesson.Exercises[0].ID)
			if err != nil {
				return err
			}
			if e.Outcome != learning.OutcomeCorrect || e.Attempts != 1 {
				return fmt.Errorf("exercise after save = %+v", e)
			}
			if err := tx.CompleteUnit(ctx, lessonID, t0); err != nil {
				return err
			}
			done, err := tx.Unit(ctx, lessonID)
			if err != nil {
				return err
			}
			if !done.IsCompleted || done.CompletedAt == nil || !done.CompletedAt.Equal(t0) {
				return fmt.Errorf("completion = %v at %v", done.IsCompleted, done.CompletedAt)
			}
			chapters, err := tx.Chapters(ctx, learning.ChapterRange{From: 1, To: 5})
			if err != nil {
				return err
			}
			if len(chapters) != 1 || chapters[0].ID != chapterID {
				return fmt.Errorf("chapters = %+v", chapters)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		err := store.WithLearner(ctx, "contract-missing", func(tx learning.Tx) error {
			if _, err := tx.Unit(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, learning.ErrNotFound) {
				return fmt.Errorf("Unit() error = %v, want ErrNotFound", err)
			}
			if _, err := tx.Streak(ctx); !errors.Is(err, learning.ErrNotFound) {
				return fmt.Errorf("Streak() error = %v, want ErrNotFound", err)
			}
			if _, err := tx.ReviewState(ctx, "nope"); !errors.Is(err, learning.ErrNotFound) {
				return fmt.Errorf("ReviewState() error = %v, want ErrNotFound", err)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("rollback on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.WithLearner(ctx, "contract-rollback", func(tx learning.Tx) error {
			if err := tx.AddMistake(ctx, &learning.Mistake{Topic: "articles", Source: learning.SourceExercise}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("WithLearner() error = %v, want boom", err)
		}
		err = store.WithLearner(ctx, "contract-rollback", func(tx learning.Tx) error {
			open, err := tx.UnaddressedMistakes(ctx)
			if err != nil {
				return err
			}
			if len(open) != 0 {
				return fmt.Errorf("mistakes after rollback = %d, want 0", len(open))
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("mistakes keep creation order", func(t *testing.T) {
		err := store.WithLearner(ctx, "contract-mistakes", func(tx learning.Tx) error {
			for i, topic := range []string{"b", "a", "c"} {
				m := &learning.Mistake{Topic: topic, Source: learning.SourceExercise, CreatedAt: t0.Add(time.Duration(i) * time.Second)}
				if err := tx.AddMistake(ctx, m); err != nil {
					return err
				}
			}
			open, err := tx.UnaddressedMistakes(ctx)
			if err != nil {
				return err
			}
			if len(open) != 3 || open[0].Topic != "b" || open[2].Topic != "c" {
				return fmt.Errorf("mistakes = %+v", open)
			}
			if err := tx.MarkMistakesAddressed(ctx, []string{open[0].ID}); err != nil {
				return err
			}
			open, err = tx.UnaddressedMistakes(ctx)
			if err != nil {
				return err
			}
			if len(open) != 2 {
				return fmt.Errorf("open mistakes = %d, want 2", len(open))
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("assessments", func(t *testing.T) {
		r := learning.ChapterRange{From: 1, To: 5}
		err := store.WithLearner(ctx, "contract-assessments", func(tx learning.Tx) error {
			a := &learning.GateAssessment{Kind: learning.AssessmentProgress, Range: r, Attempt: 1, TotalQuestions: 20, PassingScore: 80}
			if err := tx.CreateAssessment(ctx, a); err != nil {
				return err
			}
			if err := tx.CompleteAssessment(ctx, a.ID, 64, true, t0); err != nil {
				return err
			}
			if err := tx.CompleteAssessment(ctx, a.ID, 10, false, t0); err == nil {
				return fmt.Errorf("second CompleteAssessment() should fail")
			}
			got, err := tx.Assessments(ctx, r)
			if err != nil {
				return err
			}
			if len(got) != 1 || !got[0].Completed() || got[0].Score != 64 || !got[0].Passed {
				return fmt.Errorf("assessments = %+v", got)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("due reviews ordered and capped", func(t *testing.T) {
		err := store.WithLearner(ctx, "contract-reviews", func(tx learning.Tx) error {
			states := []learning.FlashcardReviewState{
				{CardID: "c", EaseFactor: 2.5, NextDueAt: t0.Add(-time.Hour)},
				{CardID: "a", EaseFactor: 2.5, NextDueAt: t0.Add(-time.Hour)},
				{CardID: "b", EaseFactor: 2.5, NextDueAt: t0.Add(-2 * time.Hour)},
				{CardID: "future", EaseFactor: 2.5, NextDueAt: t0.Add(time.Hour)},
			}
			for i := range states {
				if err := tx.SaveReviewState(ctx, &states[i]); err != nil {
					return err
				}
			}
			due, err := tx.DueReviews(ctx, t0, 2)
			if err != nil {
				return err
			}
			if len(due) != 2 || due[0].CardID != "b" || due[1].CardID != "a" {
				return fmt.Errorf("due = %+v", due)
			}
			n, err := tx.CountDueReviews(ctx, t0)
			if err != nil {
				return err
			}
			if n != 3 {
				return fmt.Errorf("CountDueReviews() = %d, want 3", n)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("streak round trip", func(t *testing.T) {
		err := store.WithLearner(ctx, "contract-streak", func(tx learning.Tx) error {
			if err := tx.SaveStreak(ctx, &learning.StreakState{CurrentStreak: 3, LongestStreak: 5, LastActivityDate: t0}); err != nil {
				return err
			}
			s, err := tx.Streak(ctx)
			if err != nil {
				return err
			}
			if s.CurrentStreak != 3 || s.LongestStreak != 5 || s.LearnerID != "contract-streak" {
				return fmt.Errorf("streak = %+v", s)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("course requests", func(t *testing.T) {
		err := store.WithLearner(ctx, "contract-requests", func(tx learning.Tx) error {
			if err := tx.SaveCourseRequest(ctx, &learning.CourseRequest{
				Kind: learning.KindBridge, Level: "B1", Range: learning.ChapterRange{From: 1, To: 3}, RequestedAt: t0.Add(time.Hour),
			}); err != nil {
				return err
			}
			if err := tx.SaveCourseRequest(ctx, &learning.CourseRequest{
				Kind: learning.KindChapter, Level: "A1", Range: learning.ChapterRange{From: 1, To: 5}, RequestedAt: t0,
			}); err != nil {
				return err
			}
			// Same kind replaces the earlier request.
			if err := tx.SaveCourseRequest(ctx, &learning.CourseRequest{
				Kind: learning.KindChapter, Level: "A2", Range: learning.ChapterRange{From: 1, To: 5}, RequestedAt: t0,
			}); err != nil {
				return err
			}
			got, err := tx.CourseRequests(ctx)
			if err != nil {
				return err
			}
			if len(got) != 2 || got[0].Kind != learning.KindChapter || got[0].Level != "A2" || got[1].Kind != learning.KindBridge {
				return fmt.Errorf("CourseRequests() = %+v", got)
			}
			if got[0].LearnerID != "contract-requests" || got[1].Range.To != 3 {
				return fmt.Errorf("CourseRequests() = %+v", got)
			}

			if err := tx.DeleteCourseRequest(ctx, learning.KindChapter); err != nil {
				return err
			}
			got, err = tx.CourseRequests(ctx)
			if err != nil {
				return err
			}
			if len(got) != 1 || got[0].Kind != learning.KindBridge {
				return fmt.Errorf("after delete CourseRequests() = %+v", got)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, learning.NewMemoryStore())
}

func TestMemoryStore_RequiresLearnerID(t *testing.T) {
	store := learning.NewMemoryStore()
	err := store.WithLearner(context.Background(), "", func(learning.Tx) error { return nil })
	if err == nil {
		t.Fatal("expected error for empty learner_id")
	}
}

func TestMemoryStore_InjectFaultRollsBackEarlierWrites(t *testing.T) {
	ctx := context.Background()
	store := learning.NewMemoryStore()

	var unitID string
	if err := store.WithLearner(ctx, "u1", func(tx learning.Tx) error {
		u := &learning.LearningUnit{Kind: learning.KindLesson, Exercises: []learning.Exercise{{Prompt: "p", Answer: "a"}}}
		err := tx.CreateUnit(ctx, u)
		unitID = u.ID
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	injected := errors.New("disk full")
	store.InjectFault("CompleteUnit", injected)
	err := store.WithLearner(ctx, "u1", func(tx learning.Tx) error {
		u, err := tx.Unit(ctx, unitID)
		if err != nil {
			return err
		}
		if err := tx.SaveExerciseResult(ctx, u.Exercises[0].ID, learning.OutcomeCorrect); err != nil {
			return err
		}
		return tx.CompleteUnit(ctx, unitID, t0)
	})
	if !errors.Is(err, injected) {
		t.Fatalf("error = %v, want injected fault", err)
	}
	store.InjectFault("CompleteUnit", nil)

	_ = store.WithLearner(ctx, "u1", func(tx learning.Tx) error {
		u, err := tx.Unit(ctx, unitID)
		if err != nil {
			t.Fatalf("Unit() error = %v", err)
		}
		if u.IsCompleted || u.CompletedAt != nil {
			t.Error("completion should not be visible after a failed transaction")
		}
		if u.Exercises[0].Outcome != learning.OutcomeUnattempted || u.Exercises[0].Attempts != 0 {
			t.Errorf("exercise = %+v, want untouched", u.Exercises[0])
		}
		return nil
	})
}

func TestMemoryStore_SerializesSameLearner(t *testing.T) {
	ctx := context.Background()
	store := learning.NewMemoryStore()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithLearner(ctx, "busy", func(tx learning.Tx) error {
				s, err := tx.Streak(ctx)
				if errors.Is(err, learning.ErrNotFound) {
					s = &learning.StreakState{}
				} else if err != nil {
					return err
				}
				s.CurrentStreak++
				return tx.SaveStreak(ctx, s)
			})
			if err != nil {
				t.Errorf("WithLearner() error = %v", err)
			}
		}()
	}
	wg.Wait()

	_ = store.WithLearner(ctx, "busy", func(tx learning.Tx) error {
		s, err := tx.Streak(ctx)
		if err != nil {
			t.Fatalf("Streak() error = %v", err)
		}
		if s.CurrentStreak != workers {
			t.Errorf("CurrentStreak = %d, want %d (lost update)", s.CurrentStreak, workers)
		}
		return nil
	})
}

func TestMemoryStore_CreateUnitRejectsUnknownParent(t *testing.T) {
	ctx := context.Background()
	store := learning.NewMemoryStore()
	err := store.WithLearner(ctx, "u1", func(tx learning.Tx) error {
		return tx.CreateUnit(ctx, &learning.LearningUnit{Kind: learning.KindLesson, ParentID: "missing"})
	})
	if !errors.Is(err, learning.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestOpenBlockers(t *testing.T) {
	ctx := context.Background()
	store := learning.NewMemoryStore()
	_ = store.WithLearner(ctx, "u1", func(tx learning.Tx) error {
		_ = tx.CreateUnit(ctx, &learning.LearningUnit{Kind: learning.KindRemedial, Topic: "articles", BlocksProgress: true, IsRequired: true})
		_ = tx.CreateUnit(ctx, &learning.LearningUnit{Kind: learning.KindRemedial, Topic: "verbs", BlocksProgress: true, IsCompleted: true, CompletedAt: &t0})
		_ = tx.CreateUnit(ctx, &learning.LearningUnit{Kind: learning.KindChapter, Number: 1})

		open, err := learning.OpenBlockers(ctx, tx)
		if err != nil {
			t.Fatalf("OpenBlockers() error = %v", err)
		}
		if len(open) != 1 || open[0].Topic != "articles" {
			t.Errorf("OpenBlockers() = %+v, want only articles", open)
		}
		return nil
	})
}
