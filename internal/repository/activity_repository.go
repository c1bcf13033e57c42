package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/attempt-service/internal/model"
)

// ActivityRepository handles activity and question data access.
type ActivityRepository struct {
	pool *pgxpool.Pool
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(pool *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{pool: pool}
}

// GetByID retrieves an activity without its questions.
func (r *ActivityRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Activity, error) {
	a := &model.Activity{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, author_id, time_limit_seconds, created_at, updated_at
		 FROM activities WHERE id = $1`, id,
	).Scan(&a.ID, &a.Title, &a.AuthorID, &a.TimeLimitSeconds, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// GetWithQuestions retrieves an activity and its ordered questions.
func (r *ActivityRepository) GetWithQuestions(ctx context.Context, id uuid.UUID) (*model.Activity, error) {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT question_id, prompt, answer_key, points, order_num
		 FROM activity_questions WHERE activity_id = $1
		 ORDER BY order_num ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Prompt, &q.AnswerKey, &q.Points, &q.OrderNum); err != nil {
			return nil, err
		}
		a.Questions = append(a.Questions, q)
	}
	return a, rows.Err()
}

// Create inserts an activity with its questions in one transaction.
func (r *ActivityRepository) Create(ctx context.Context, a *model.Activity) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx,
		`INSERT INTO activities (title, author_id, time_limit_seconds)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		a.Title, a.AuthorID, a.TimeLimitSeconds,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}

	if len(a.Questions) > 0 {
		rows := make([][]any, 0, len(a.Questions))
		for i, q := range a.Questions {
			rows = append(rows, []any{a.ID, q.ID, q.Prompt, q.AnswerKey, q.Points, i + 1})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"activity_questions"},
			[]string{"activity_id", "question_id", "prompt", "answer_key", "points", "order_num"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("insert questions: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// UpdateDetails changes title and/or time limit. Existing attempt sessions
// keep their own copied time limit and deadline.
func (r *ActivityRepository) UpdateDetails(ctx context.Context, id uuid.UUID, title *string, timeLimitSeconds *int) (*model.Activity, error) {
	a := &model.Activity{}
	err := r.pool.QueryRow(ctx,
		`UPDATE activities
		 SET title = COALESCE($2, title),
		     time_limit_seconds = COALESCE($3, time_limit_seconds),
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING id, title, author_id, time_limit_seconds, created_at, updated_at`,
		id, title, timeLimitSeconds,
	).Scan(&a.ID, &a.Title, &a.AuthorID, &a.TimeLimitSeconds, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}
