// Package srs schedules flashcard reviews with the SM-2 spaced-repetition
// algorithm.
package srs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/p-n-ai/pai-lingo/internal/learning"
)

const (
	DefaultEase = 2.5
	MinEase     = 1.3

	easeGain = 0.1
	easeLoss = 0.2
)

// Review applies one SM-2 step to s and returns the new state. It does not
// touch storage.
//
// Correct answers advance the interval 1, 6, then round(interval * ease)
// days and raise the ease by 0.1. Incorrect answers reset the interval to 1
// day and lower the ease by 0.2, never below 1.3. Repetition count only grows
// on correct answers.
func Review(s learning.FlashcardReviewState, correct bool, now time.Time) learning.FlashcardReviewState {
	if s.EaseFactor == 0 {
		s.EaseFactor = DefaultEase
	}
	if s.EaseFactor < MinEase {
		s.EaseFactor = MinEase
	}

	if correct {
		switch s.RepetitionCount {
		case 0:
			s.Interval = 1
		case 1:
			s.Interval = 6
		default:
			s.Interval = int(math.Round(float64(s.Interval) * s.EaseFactor))
		}
		s.EaseFactor += easeGain
		s.RepetitionCount++
		s.CorrectReviews++
	} else {
		s.Interval = 1
		s.EaseFactor = math.Max(MinEase, s.EaseFactor-easeLoss)
	}
	s.EaseFactor = roundEase(s.EaseFactor)
	s.TotalReviews++

	reviewed := now
	s.LastReviewedAt = &reviewed
	s.NextDueAt = now.AddDate(0, 0, s.Interval)
	return s
}

func roundEase(e float64) float64 {
	return math.Round(e*100) / 100
}

// Initial returns the state of a newly issued card, due immediately.
func Initial(cardID string, now time.Time) learning.FlashcardReviewState {
	return learning.FlashcardReviewState{
		CardID:     cardID,
		Interval:   0,
		EaseFactor: DefaultEase,
		NextDueAt:  now,
	}
}

// Scheduler persists review steps and answers due-deck queries.
type Scheduler struct {
	store     learning.Store
	batchSize int
}

// NewScheduler creates a scheduler returning at most batchSize cards per
// deck query. A non-positive batchSize uses the default policy value.
func NewScheduler(store learning.Store, batchSize int) *Scheduler {
	if batchSize <= 0 {
		batchSize = learning.DefaultReviewBatchSize
	}
	return &Scheduler{store: store, batchSize: batchSize}
}

// OnReviewSubmitted applies one review to an issued card and persists the
// result. Reviewing a card that was never issued returns learning.ErrNotFound.
func (s *Scheduler) OnReviewSubmitted(ctx context.Context, learnerID, cardID string, correct bool, now time.Time) (learning.FlashcardReviewState, error) {
	var next learning.FlashcardReviewState
	err := s.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		current, err := tx.ReviewState(ctx, cardID)
		if err != nil {
			return err
		}
		next = Review(*current, correct, now)
		if err := tx.SaveReviewState(ctx, &next); err != nil {
			return fmt.Errorf("save review state: %w", err)
		}
		return nil
	})
	if err != nil {
		return next, fmt.Errorf("submit review for card %s: %w", cardID, err)
	}
	return next, nil
}

// Issue creates initial review state for cards the learner has not seen.
// Cards that already have state are left untouched. It returns the IDs of
// newly issued cards.
func (s *Scheduler) Issue(ctx context.Context, tx learning.Tx, cardIDs []string, now time.Time) ([]string, error) {
	var issued []string
	seen := make(map[string]bool, len(cardIDs))
	for _, id := range cardIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		_, err := tx.ReviewState(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, learning.ErrNotFound) {
			return issued, fmt.Errorf("get review state: %w", err)
		}
		st := Initial(id, now)
		if err := tx.SaveReviewState(ctx, &st); err != nil {
			return issued, fmt.Errorf("issue card %s: %w", id, err)
		}
		issued = append(issued, id)
	}
	return issued, nil
}

// DueDeck returns cards with NextDueAt at or before now, oldest first,
// capped at the batch size.
func (s *Scheduler) DueDeck(ctx context.Context, learnerID string, now time.Time) ([]learning.FlashcardReviewState, error) {
	var deck []learning.FlashcardReviewState
	err := s.store.WithLearner(ctx, learnerID, func(tx learning.Tx) error {
		var err error
		deck, err = tx.DueReviews(ctx, now, s.batchSize)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("due deck: %w", err)
	}
	return deck, nil
}
