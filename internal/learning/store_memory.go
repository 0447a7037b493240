package learning

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of Store. Each WithLearner call
// works on a copy of the learner's state and swaps it in on success.
type MemoryStore struct {
	learners map[string]*aggregate
	locks    map[string]*sync.Mutex
	faults   map[string]error
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory learner store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		learners: make(map[string]*aggregate),
		locks:    make(map[string]*sync.Mutex),
		faults:   make(map[string]error),
	}
}

// InjectFault makes the named write operation (e.g. "CompleteUnit") fail with
// err until cleared with a nil err. Used by tests.
func (s *MemoryStore) InjectFault(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *MemoryStore) fault(op string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.faults[op]
}

func (s *MemoryStore) WithLearner(ctx context.Context, learnerID string, fn func(tx Tx) error) error {
	if learnerID == "" {
		return fmt.Errorf("learner_id is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := s.learnerLock(learnerID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current := s.learners[learnerID]
	s.mu.RUnlock()

	work := current.clone()
	if err := fn(&memoryTx{store: s, learnerID: learnerID, agg: work}); err != nil {
		return err
	}

	s.mu.Lock()
	s.learners[learnerID] = work
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) learnerLock(learnerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[learnerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[learnerID] = l
	}
	return l
}

type aggregate struct {
	seq         int64
	units       map[string]LearningUnit
	unitSeq     map[string]int64
	exercises   map[string]Exercise
	mistakes    map[string]Mistake
	mistakeSeq  map[string]int64
	assessments map[string]GateAssessment
	reviews     map[string]FlashcardReviewState
	streak      *StreakState
	requests    map[UnitKind]CourseRequest
}

func (a *aggregate) clone() *aggregate {
	c := &aggregate{
		units:       make(map[string]LearningUnit),
		unitSeq:     make(map[string]int64),
		exercises:   make(map[string]Exercise),
		mistakes:    make(map[string]Mistake),
		mistakeSeq:  make(map[string]int64),
		assessments: make(map[string]GateAssessment),
		reviews:     make(map[string]FlashcardReviewState),
		requests:    make(map[UnitKind]CourseRequest),
	}
	if a == nil {
		return c
	}
	c.seq = a.seq
	for k, u := range a.units {
		u.MistakeIDs = slices.Clone(u.MistakeIDs)
		u.FlashcardIDs = slices.Clone(u.FlashcardIDs)
		u.CompletedAt = cloneTime(u.CompletedAt)
		c.units[k] = u
	}
	for k, v := range a.unitSeq {
		c.unitSeq[k] = v
	}
	for k, e := range a.exercises {
		c.exercises[k] = e
	}
	for k, m := range a.mistakes {
		c.mistakes[k] = m
	}
	for k, v := range a.mistakeSeq {
		c.mistakeSeq[k] = v
	}
	for k, as := range a.assessments {
		as.CompletedAt = cloneTime(as.CompletedAt)
		c.assessments[k] = as
	}
	for k, r := range a.reviews {
		r.LastReviewedAt = cloneTime(r.LastReviewedAt)
		c.reviews[k] = r
	}
	if a.streak != nil {
		st := *a.streak
		c.streak = &st
	}
	for k, r := range a.requests {
		c.requests[k] = r
	}
	return c
}

func (a *aggregate) next() int64 {
	a.seq++
	return a.seq
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type memoryTx struct {
	store     *MemoryStore
	learnerID string
	agg       *aggregate
}

func (t *memoryTx) LearnerID() string { return t.learnerID }

func (t *memoryTx) Unit(_ context.Context, id string) (*LearningUnit, error) {
	u, ok := t.agg.units[id]
	if !ok {
		return nil, fmt.Errorf("unit %s: %w", id, ErrNotFound)
	}
	u = t.withExercises(u)
	return &u, nil
}

func (t *memoryTx) withExercises(u LearningUnit) LearningUnit {
	u.MistakeIDs = slices.Clone(u.MistakeIDs)
	u.FlashcardIDs = slices.Clone(u.FlashcardIDs)
	u.CompletedAt = cloneTime(u.CompletedAt)
	u.Exercises = nil
	for _, e := range t.agg.exercises {
		if e.UnitID == u.ID {
			u.Exercises = append(u.Exercises, e)
		}
	}
	sort.Slice(u.Exercises, func(i, j int) bool {
		if u.Exercises[i].Position != u.Exercises[j].Position {
			return u.Exercises[i].Position < u.Exercises[j].Position
		}
		return u.Exercises[i].ID < u.Exercises[j].ID
	})
	return u
}

func (t *memoryTx) collect(match func(LearningUnit) bool) []LearningUnit {
	var out []LearningUnit
	for _, u := range t.agg.units {
		if match(u) {
			out = append(out, t.withExercises(u))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return t.agg.unitSeq[out[i].ID] < t.agg.unitSeq[out[j].ID]
	})
	return out
}

func (t *memoryTx) Children(_ context.Context, parentID string) ([]LearningUnit, error) {
	return t.collect(func(u LearningUnit) bool { return u.ParentID == parentID && parentID != "" }), nil
}

func (t *memoryTx) Chapters(_ context.Context, r ChapterRange) ([]LearningUnit, error) {
	return t.collect(func(u LearningUnit) bool { return u.Kind == KindChapter && r.Contains(u.Number) }), nil
}

func (t *memoryTx) UnitsByKind(_ context.Context, kind UnitKind) ([]LearningUnit, error) {
	return t.collect(func(u LearningUnit) bool { return u.Kind == kind }), nil
}

func (t *memoryTx) CreateUnit(_ context.Context, u *LearningUnit) error {
	if err := t.store.fault("CreateUnit"); err != nil {
		return err
	}
	if !u.Kind.Valid() {
		return fmt.Errorf("invalid unit kind %q", u.Kind)
	}
	if u.ParentID != "" {
		if _, ok := t.agg.units[u.ParentID]; !ok {
			return fmt.Errorf("parent unit %s: %w", u.ParentID, ErrNotFound)
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if _, exists := t.agg.units[u.ID]; exists {
		return fmt.Errorf("unit %s already exists", u.ID)
	}
	u.LearnerID = t.learnerID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	stored := *u
	stored.Exercises = nil
	stored.MistakeIDs = slices.Clone(u.MistakeIDs)
	stored.FlashcardIDs = slices.Clone(u.FlashcardIDs)
	t.agg.units[u.ID] = stored
	t.agg.unitSeq[u.ID] = t.agg.next()

	for i := range u.Exercises {
		e := &u.Exercises[i]
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		e.UnitID = u.ID
		e.LearnerID = t.learnerID
		if e.Position == 0 {
			e.Position = i + 1
		}
		if e.Outcome == "" {
			e.Outcome = OutcomeUnattempted
		}
		t.agg.exercises[e.ID] = *e
	}
	return nil
}

func (t *memoryTx) CompleteUnit(_ context.Context, id string, at time.Time) error {
	if err := t.store.fault("CompleteUnit"); err != nil {
		return err
	}
	u, ok := t.agg.units[id]
	if !ok {
		return fmt.Errorf("unit %s: %w", id, ErrNotFound)
	}
	u.IsCompleted = true
	u.CompletedAt = &at
	t.agg.units[id] = u
	return nil
}

func (t *memoryTx) UnlockUnits(_ context.Context, ids []string) error {
	if err := t.store.fault("UnlockUnits"); err != nil {
		return err
	}
	for _, id := range ids {
		u, ok := t.agg.units[id]
		if !ok {
			return fmt.Errorf("unit %s: %w", id, ErrNotFound)
		}
		u.Locked = false
		t.agg.units[id] = u
	}
	return nil
}

func (t *memoryTx) Exercise(_ context.Context, id string) (*Exercise, error) {
	e, ok := t.agg.exercises[id]
	if !ok {
		return nil, fmt.Errorf("exercise %s: %w", id, ErrNotFound)
	}
	return &e, nil
}

func (t *memoryTx) SaveExerciseResult(_ context.Context, id string, outcome Outcome) error {
	if err := t.store.fault("SaveExerciseResult"); err != nil {
		return err
	}
	e, ok := t.agg.exercises[id]
	if !ok {
		return fmt.Errorf("exercise %s: %w", id, ErrNotFound)
	}
	e.Outcome = outcome
	e.Attempts++
	t.agg.exercises[id] = e
	return nil
}

func (t *memoryTx) AddMistake(_ context.Context, m *Mistake) error {
	if err := t.store.fault("AddMistake"); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.LearnerID = t.learnerID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	t.agg.mistakes[m.ID] = *m
	t.agg.mistakeSeq[m.ID] = t.agg.next()
	return nil
}

func (t *memoryTx) UnaddressedMistakes(_ context.Context) ([]Mistake, error) {
	var out []Mistake
	for _, m := range t.agg.mistakes {
		if !m.IsAddressed {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return t.agg.mistakeSeq[out[i].ID] < t.agg.mistakeSeq[out[j].ID]
	})
	return out, nil
}

func (t *memoryTx) MarkMistakesAddressed(_ context.Context, ids []string) error {
	if err := t.store.fault("MarkMistakesAddressed"); err != nil {
		return err
	}
	for _, id := range ids {
		m, ok := t.agg.mistakes[id]
		if !ok {
			return fmt.Errorf("mistake %s: %w", id, ErrNotFound)
		}
		m.IsAddressed = true
		t.agg.mistakes[id] = m
	}
	return nil
}

func (t *memoryTx) Assessment(_ context.Context, id string) (*GateAssessment, error) {
	a, ok := t.agg.assessments[id]
	if !ok {
		return nil, fmt.Errorf("assessment %s: %w", id, ErrNotFound)
	}
	a.CompletedAt = cloneTime(a.CompletedAt)
	return &a, nil
}

func (t *memoryTx) Assessments(ctx context.Context, r ChapterRange) ([]GateAssessment, error) {
	all, _ := t.AllAssessments(ctx)
	var out []GateAssessment
	for _, a := range all {
		if a.Range == r {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *memoryTx) AllAssessments(_ context.Context) ([]GateAssessment, error) {
	out := make([]GateAssessment, 0, len(t.agg.assessments))
	for _, a := range t.agg.assessments {
		a.CompletedAt = cloneTime(a.CompletedAt)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Range.From != out[j].Range.From {
			return out[i].Range.From < out[j].Range.From
		}
		return out[i].Attempt < out[j].Attempt
	})
	return out, nil
}

func (t *memoryTx) CreateAssessment(_ context.Context, a *GateAssessment) error {
	if err := t.store.fault("CreateAssessment"); err != nil {
		return err
	}
	for _, existing := range t.agg.assessments {
		if existing.Kind == a.Kind && existing.Range == a.Range && existing.Attempt == a.Attempt {
			return fmt.Errorf("assessment for range %s attempt %d already exists", a.Range.Key(), a.Attempt)
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.LearnerID = t.learnerID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	t.agg.assessments[a.ID] = *a
	return nil
}

func (t *memoryTx) CompleteAssessment(_ context.Context, id string, score int, passed bool, at time.Time) error {
	if err := t.store.fault("CompleteAssessment"); err != nil {
		return err
	}
	a, ok := t.agg.assessments[id]
	if !ok {
		return fmt.Errorf("assessment %s: %w", id, ErrNotFound)
	}
	if a.CompletedAt != nil {
		return fmt.Errorf("assessment %s already completed", id)
	}
	a.Score = score
	a.Passed = passed
	a.CompletedAt = &at
	t.agg.assessments[id] = a
	return nil
}

func (t *memoryTx) ReviewState(_ context.Context, cardID string) (*FlashcardReviewState, error) {
	r, ok := t.agg.reviews[cardID]
	if !ok {
		return nil, fmt.Errorf("flashcard %s: %w", cardID, ErrNotFound)
	}
	r.LastReviewedAt = cloneTime(r.LastReviewedAt)
	return &r, nil
}

func (t *memoryTx) SaveReviewState(_ context.Context, s *FlashcardReviewState) error {
	if err := t.store.fault("SaveReviewState"); err != nil {
		return err
	}
	if s.CardID == "" {
		return fmt.Errorf("card_id is required")
	}
	r := *s
	r.LearnerID = t.learnerID
	r.LastReviewedAt = cloneTime(s.LastReviewedAt)
	t.agg.reviews[s.CardID] = r
	return nil
}

func (t *memoryTx) dueStates(now time.Time) []FlashcardReviewState {
	var due []FlashcardReviewState
	for _, r := range t.agg.reviews {
		if !r.NextDueAt.After(now) {
			r.LastReviewedAt = cloneTime(r.LastReviewedAt)
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextDueAt.Equal(due[j].NextDueAt) {
			return due[i].NextDueAt.Before(due[j].NextDueAt)
		}
		return due[i].CardID < due[j].CardID
	})
	return due
}

func (t *memoryTx) DueReviews(_ context.Context, now time.Time, limit int) ([]FlashcardReviewState, error) {
	due := t.dueStates(now)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (t *memoryTx) CountDueReviews(_ context.Context, now time.Time) (int, error) {
	return len(t.dueStates(now)), nil
}

func (t *memoryTx) Streak(_ context.Context) (*StreakState, error) {
	if t.agg.streak == nil {
		return nil, fmt.Errorf("streak: %w", ErrNotFound)
	}
	st := *t.agg.streak
	return &st, nil
}

func (t *memoryTx) SaveStreak(_ context.Context, s *StreakState) error {
	if err := t.store.fault("SaveStreak"); err != nil {
		return err
	}
	st := *s
	st.LearnerID = t.learnerID
	t.agg.streak = &st
	return nil
}

func (t *memoryTx) CourseRequests(_ context.Context) ([]CourseRequest, error) {
	out := make([]CourseRequest, 0, len(t.agg.requests))
	for _, r := range t.agg.requests {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

func (t *memoryTx) SaveCourseRequest(_ context.Context, r *CourseRequest) error {
	if err := t.store.fault("SaveCourseRequest"); err != nil {
		return err
	}
	r.LearnerID = t.learnerID
	t.agg.requests[r.Kind] = *r
	return nil
}

func (t *memoryTx) DeleteCourseRequest(_ context.Context, kind UnitKind) error {
	delete(t.agg.requests, kind)
	return nil
}
