package learning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresStore is a PostgreSQL-backed Store. Each WithLearner call runs in
// one transaction holding a transaction-scoped advisory lock on the learner.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresStore creates a PostgreSQL-backed learner store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool, timeout: dbTimeout}, nil
}

func (s *PostgresStore) WithLearner(ctx context.Context, learnerID string, fn func(tx Tx) error) error {
	if learnerID == "" {
		return fmt.Errorf("learner_id is required")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, learnerID); err != nil {
		return fmt.Errorf("lock learner: %w", err)
	}

	if err := fn(&pgTx{tx: tx, learnerID: learnerID, timeout: s.timeout}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgTx struct {
	tx        pgx.Tx
	learnerID string
	timeout   time.Duration
}

func (t *pgTx) LearnerID() string { return t.learnerID }

func (t *pgTx) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.timeout)
}

const unitColumns = `id, learner_id, kind, COALESCE(parent_id, ''), number, title, level, topic,
	mistake_ids, flashcard_ids, is_required, blocks_progress, locked, is_completed, completed_at, created_at`

func scanUnit(row pgx.Row) (LearningUnit, error) {
	var u LearningUnit
	var kind string
	err := row.Scan(
		&u.ID,
		&u.LearnerID,
		&kind,
		&u.ParentID,
		&u.Number,
		&u.Title,
		&u.Level,
		&u.Topic,
		&u.MistakeIDs,
		&u.FlashcardIDs,
		&u.IsRequired,
		&u.BlocksProgress,
		&u.Locked,
		&u.IsCompleted,
		&u.CompletedAt,
		&u.CreatedAt,
	)
	u.Kind = UnitKind(kind)
	return u, err
}

func (t *pgTx) Unit(ctx context.Context, id string) (*LearningUnit, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	u, err := scanUnit(t.tx.QueryRow(ctx,
		`SELECT `+unitColumns+` FROM learning_units WHERE id = $1 AND learner_id = $2`,
		id, t.learnerID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("unit %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get unit: %w", err)
	}
	units := []LearningUnit{u}
	if err := t.attachExercises(ctx, units); err != nil {
		return nil, err
	}
	return &units[0], nil
}

func (t *pgTx) queryUnits(ctx context.Context, where string, args ...any) ([]LearningUnit, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	rows, err := t.tx.Query(ctx,
		`SELECT `+unitColumns+` FROM learning_units WHERE learner_id = $1 AND `+where+` ORDER BY number ASC, created_at ASC, id ASC`,
		append([]any{t.learnerID}, args...)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	var units []LearningUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	if err := t.attachExercises(ctx, units); err != nil {
		return nil, err
	}
	return units, nil
}

func (t *pgTx) attachExercises(ctx context.Context, units []LearningUnit) error {
	if len(units) == 0 {
		return nil
	}
	ids := make([]string, len(units))
	index := make(map[string]int, len(units))
	for i, u := range units {
		ids[i] = u.ID
		index[u.ID] = i
	}

	rows, err := t.tx.Query(ctx,
		`SELECT id, unit_id, learner_id, position, topic, prompt, answer, outcome, attempts
		 FROM exercises
		 WHERE unit_id = ANY($1)
		 ORDER BY unit_id, position ASC, id ASC`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("query exercises: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanExercise(rows)
		if err != nil {
			return fmt.Errorf("scan exercise: %w", err)
		}
		i := index[e.UnitID]
		units[i].Exercises = append(units[i].Exercises, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate exercises: %w", err)
	}
	return nil
}

func scanExercise(row pgx.Row) (Exercise, error) {
	var e Exercise
	var outcome string
	err := row.Scan(&e.ID, &e.UnitID, &e.LearnerID, &e.Position, &e.Topic, &e.Prompt, &e.Answer, &outcome, &e.Attempts)
	e.Outcome = Outcome(outcome)
	return e, err
}

func (t *pgTx) Children(ctx context.Context, parentID string) ([]LearningUnit, error) {
	return t.queryUnits(ctx, `parent_id = $2`, parentID)
}

func (t *pgTx) Chapters(ctx context.Context, r ChapterRange) ([]LearningUnit, error) {
	return t.queryUnits(ctx, `kind = 'chapter' AND number BETWEEN $2 AND $3`, r.From, r.To)
}

func (t *pgTx) UnitsByKind(ctx context.Context, kind UnitKind) ([]LearningUnit, error) {
	return t.queryUnits(ctx, `kind = $2`, string(kind))
}

func (t *pgTx) CreateUnit(ctx context.Context, u *LearningUnit) error {
	if !u.Kind.Valid() {
		return fmt.Errorf("invalid unit kind %q", u.Kind)
	}
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.LearnerID = t.learnerID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	mistakeIDs := u.MistakeIDs
	if mistakeIDs == nil {
		mistakeIDs = []string{}
	}
	flashcardIDs := u.FlashcardIDs
	if flashcardIDs == nil {
		flashcardIDs = []string{}
	}

	_, err := t.tx.Exec(ctx,
		`INSERT INTO learning_units (id, learner_id, kind, parent_id, number, title, level, topic,
		   mistake_ids, flashcard_ids, is_required, blocks_progress, locked, is_completed, completed_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		u.ID,
		t.learnerID,
		string(u.Kind),
		nullIfEmpty(u.ParentID),
		u.Number,
		u.Title,
		u.Level,
		u.Topic,
		mistakeIDs,
		flashcardIDs,
		u.IsRequired,
		u.BlocksProgress,
		u.Locked,
		u.IsCompleted,
		u.CompletedAt,
		u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert unit: %w", err)
	}

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
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO exercises (id, unit_id, learner_id, position, topic, prompt, answer, outcome, attempts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, e.UnitID, e.LearnerID, e.Position, e.Topic, e.Prompt, e.Answer, string(e.Outcome), e.Attempts,
		); err != nil {
			return fmt.Errorf("insert exercise: %w", err)
		}
	}
	return nil
}

func (t *pgTx) CompleteUnit(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	cmd, err := t.tx.Exec(ctx,
		`UPDATE learning_units SET is_completed = TRUE, completed_at = $3
		 WHERE id = $1 AND learner_id = $2`,
		id, t.learnerID, at,
	)
	if err != nil {
		return fmt.Errorf("complete unit: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("unit %s: %w", id, ErrNotFound)
	}
	return nil
}

func (t *pgTx) UnlockUnits(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	if _, err := t.tx.Exec(ctx,
		`UPDATE learning_units SET locked = FALSE WHERE learner_id = $1 AND id = ANY($2)`,
		t.learnerID, ids,
	); err != nil {
		return fmt.Errorf("unlock units: %w", err)
	}
	return nil
}

func (t *pgTx) Exercise(ctx context.Context, id string) (*Exercise, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	e, err := scanExercise(t.tx.QueryRow(ctx,
		`SELECT id, unit_id, learner_id, position, topic, prompt, answer, outcome, attempts
		 FROM exercises WHERE id = $1 AND learner_id = $2`,
		id, t.learnerID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("exercise %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get exercise: %w", err)
	}
	return &e, nil
}

func (t *pgTx) SaveExerciseResult(ctx context.Context, id string, outcome Outcome) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	cmd, err := t.tx.Exec(ctx,
		`UPDATE exercises SET outcome = $3, attempts = attempts + 1
		 WHERE id = $1 AND learner_id = $2`,
		id, t.learnerID, string(outcome),
	)
	if err != nil {
		return fmt.Errorf("save exercise result: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("exercise %s: %w", id, ErrNotFound)
	}
	return nil
}

func (t *pgTx) AddMistake(ctx context.Context, m *Mistake) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.LearnerID = t.learnerID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO mistakes (id, learner_id, topic, source, source_ref, is_addressed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.LearnerID, m.Topic, string(m.Source), m.SourceRef, m.IsAddressed, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert mistake: %w", err)
	}
	return nil
}

func (t *pgTx) UnaddressedMistakes(ctx context.Context) ([]Mistake, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	rows, err := t.tx.Query(ctx,
		`SELECT id, learner_id, topic, source, source_ref, is_addressed, created_at
		 FROM mistakes
		 WHERE learner_id = $1 AND NOT is_addressed
		 ORDER BY created_at ASC, id ASC`,
		t.learnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query mistakes: %w", err)
	}
	defer rows.Close()

	var out []Mistake
	for rows.Next() {
		var m Mistake
		var source string
		if err := rows.Scan(&m.ID, &m.LearnerID, &m.Topic, &source, &m.SourceRef, &m.IsAddressed, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mistake: %w", err)
		}
		m.Source = MistakeSource(source)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mistakes: %w", err)
	}
	return out, nil
}

func (t *pgTx) MarkMistakesAddressed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	cmd, err := t.tx.Exec(ctx,
		`UPDATE mistakes SET is_addressed = TRUE WHERE learner_id = $1 AND id = ANY($2)`,
		t.learnerID, ids,
	)
	if err != nil {
		return fmt.Errorf("mark mistakes addressed: %w", err)
	}
	if int(cmd.RowsAffected()) != len(ids) {
		return fmt.Errorf("mark mistakes addressed: %d of %d found: %w", cmd.RowsAffected(), len(ids), ErrNotFound)
	}
	return nil
}

const assessmentColumns = `id, learner_id, kind, range_from, range_to, attempt, total_questions,
	passing_score, score, passed, created_at, completed_at`

func scanAssessment(row pgx.Row) (GateAssessment, error) {
	var a GateAssessment
	var kind string
	err := row.Scan(
		&a.ID,
		&a.LearnerID,
		&kind,
		&a.Range.From,
		&a.Range.To,
		&a.Attempt,
		&a.TotalQuestions,
		&a.PassingScore,
		&a.Score,
		&a.Passed,
		&a.CreatedAt,
		&a.CompletedAt,
	)
	a.Kind = AssessmentKind(kind)
	return a, err
}

func (t *pgTx) Assessment(ctx context.Context, id string) (*GateAssessment, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	a, err := scanAssessment(t.tx.QueryRow(ctx,
		`SELECT `+assessmentColumns+` FROM gate_assessments WHERE id = $1 AND learner_id = $2`,
		id, t.learnerID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("assessment %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	return &a, nil
}

func (t *pgTx) queryAssessments(ctx context.Context, where string, args ...any) ([]GateAssessment, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	rows, err := t.tx.Query(ctx,
		`SELECT `+assessmentColumns+` FROM gate_assessments
		 WHERE learner_id = $1 AND `+where+`
		 ORDER BY range_from ASC, attempt ASC`,
		append([]any{t.learnerID}, args...)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer rows.Close()

	var out []GateAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assessments: %w", err)
	}
	return out, nil
}

func (t *pgTx) Assessments(ctx context.Context, r ChapterRange) ([]GateAssessment, error) {
	return t.queryAssessments(ctx, `range_from = $2 AND range_to = $3`, r.From, r.To)
}

func (t *pgTx) AllAssessments(ctx context.Context) ([]GateAssessment, error) {
	return t.queryAssessments(ctx, `TRUE`)
}

func (t *pgTx) CreateAssessment(ctx context.Context, a *GateAssessment) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.LearnerID = t.learnerID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO gate_assessments (id, learner_id, kind, range_from, range_to, attempt,
		   total_questions, passing_score, score, passed, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.LearnerID, string(a.Kind), a.Range.From, a.Range.To, a.Attempt,
		a.TotalQuestions, a.PassingScore, a.Score, a.Passed, a.CreatedAt, a.CompletedAt,
	); err != nil {
		return fmt.Errorf("insert assessment: %w", err)
	}
	return nil
}

func (t *pgTx) CompleteAssessment(ctx context.Context, id string, score int, passed bool, at time.Time) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	cmd, err := t.tx.Exec(ctx,
		`UPDATE gate_assessments SET score = $3, passed = $4, completed_at = $5
		 WHERE id = $1 AND learner_id = $2 AND completed_at IS NULL`,
		id, t.learnerID, score, passed, at,
	)
	if err != nil {
		return fmt.Errorf("complete assessment: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("assessment %s not found or already completed", id)
	}
	return nil
}

const reviewColumns = `learner_id, card_id, interval_days, ease_factor, repetition_count, next_due_at,
	total_reviews, correct_reviews, last_reviewed_at`

func scanReview(row pgx.Row) (FlashcardReviewState, error) {
	var r FlashcardReviewState
	err := row.Scan(
		&r.LearnerID,
		&r.CardID,
		&r.Interval,
		&r.EaseFactor,
		&r.RepetitionCount,
		&r.NextDueAt,
		&r.TotalReviews,
		&r.CorrectReviews,
		&r.LastReviewedAt,
	)
	return r, err
}

func (t *pgTx) ReviewState(ctx context.Context, cardID string) (*FlashcardReviewState, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	r, err := scanReview(t.tx.QueryRow(ctx,
		`SELECT `+reviewColumns+` FROM flashcard_reviews WHERE learner_id = $1 AND card_id = $2`,
		t.learnerID, cardID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("flashcard %s: %w", cardID, ErrNotFound)
		}
		return nil, fmt.Errorf("get review state: %w", err)
	}
	return &r, nil
}

func (t *pgTx) SaveReviewState(ctx context.Context, s *FlashcardReviewState) error {
	if s.CardID == "" {
		return fmt.Errorf("card_id is required")
	}
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	s.LearnerID = t.learnerID
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO flashcard_reviews (`+reviewColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (learner_id, card_id) DO UPDATE SET
		   interval_days = EXCLUDED.interval_days,
		   ease_factor = EXCLUDED.ease_factor,
		   repetition_count = EXCLUDED.repetition_count,
		   next_due_at = EXCLUDED.next_due_at,
		   total_reviews = EXCLUDED.total_reviews,
		   correct_reviews = EXCLUDED.correct_reviews,
		   last_reviewed_at = EXCLUDED.last_reviewed_at`,
		s.LearnerID, s.CardID, s.Interval, s.EaseFactor, s.RepetitionCount, s.NextDueAt,
		s.TotalReviews, s.CorrectReviews, s.LastReviewedAt,
	); err != nil {
		return fmt.Errorf("save review state: %w", err)
	}
	return nil
}

func (t *pgTx) DueReviews(ctx context.Context, now time.Time, limit int) ([]FlashcardReviewState, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := t.tx.Query(ctx,
		`SELECT `+reviewColumns+` FROM flashcard_reviews
		 WHERE learner_id = $1 AND next_due_at <= $2
		 ORDER BY next_due_at ASC, card_id ASC
		 LIMIT $3`,
		t.learnerID, now, lim,
	)
	if err != nil {
		return nil, fmt.Errorf("query due reviews: %w", err)
	}
	defer rows.Close()

	var out []FlashcardReviewState
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review state: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due reviews: %w", err)
	}
	return out, nil
}

func (t *pgTx) CountDueReviews(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	var n int
	if err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM flashcard_reviews WHERE learner_id = $1 AND next_due_at <= $2`,
		t.learnerID, now,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count due reviews: %w", err)
	}
	return n, nil
}

func (t *pgTx) Streak(ctx context.Context) (*StreakState, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	var s StreakState
	err := t.tx.QueryRow(ctx,
		`SELECT learner_id, current_streak, longest_streak, last_activity_date
		 FROM streaks WHERE learner_id = $1`,
		t.learnerID,
	).Scan(&s.LearnerID, &s.CurrentStreak, &s.LongestStreak, &s.LastActivityDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("streak: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get streak: %w", err)
	}
	return &s, nil
}

func (t *pgTx) SaveStreak(ctx context.Context, s *StreakState) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	s.LearnerID = t.learnerID
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO streaks (learner_id, current_streak, longest_streak, last_activity_date)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (learner_id) DO UPDATE SET
		   current_streak = EXCLUDED.current_streak,
		   longest_streak = EXCLUDED.longest_streak,
		   last_activity_date = EXCLUDED.last_activity_date`,
		s.LearnerID, s.CurrentStreak, s.LongestStreak, s.LastActivityDate,
	); err != nil {
		return fmt.Errorf("save streak: %w", err)
	}
	return nil
}

func (t *pgTx) CourseRequests(ctx context.Context) ([]CourseRequest, error) {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	rows, err := t.tx.Query(ctx,
		`SELECT learner_id, kind, level, range_from, range_to, requested_at
		 FROM course_requests WHERE learner_id = $1
		 ORDER BY requested_at, kind`,
		t.learnerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list course requests: %w", err)
	}
	defer rows.Close()

	var out []CourseRequest
	for rows.Next() {
		var r CourseRequest
		var kind string
		if err := rows.Scan(&r.LearnerID, &kind, &r.Level, &r.Range.From, &r.Range.To, &r.RequestedAt); err != nil {
			return nil, fmt.Errorf("scan course request: %w", err)
		}
		r.Kind = UnitKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) SaveCourseRequest(ctx context.Context, r *CourseRequest) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	r.LearnerID = t.learnerID
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO course_requests (learner_id, kind, level, range_from, range_to, requested_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (learner_id, kind) DO UPDATE SET
		   level = EXCLUDED.level,
		   range_from = EXCLUDED.range_from,
		   range_to = EXCLUDED.range_to,
		   requested_at = EXCLUDED.requested_at`,
		r.LearnerID, string(r.Kind), r.Level, r.Range.From, r.Range.To, r.RequestedAt,
	); err != nil {
		return fmt.Errorf("save course request: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteCourseRequest(ctx context.Context, kind UnitKind) error {
	ctx, cancel := t.ctx(ctx)
	defer cancel()

	if _, err := t.tx.Exec(ctx,
		`DELETE FROM course_requests WHERE learner_id = $1 AND kind = $2`,
		t.learnerID, string(kind),
	); err != nil {
		return fmt.Errorf("delete course request: %w", err)
	}
	return nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
