package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/attempt-service/internal/model"
)

const sessionColumns = `id, activity_id, taker_id, time_limit_seconds, started_at, deadline,
	state, submitted_at, answers, score, updated_at`

// AttemptSessionRepository handles attempt session data access.
type AttemptSessionRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptSessionRepository creates a new AttemptSessionRepository.
func NewAttemptSessionRepository(pool *pgxpool.Pool) *AttemptSessionRepository {
	return &AttemptSessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.AttemptSession, error) {
	s := &model.AttemptSession{}
	var answers []byte
	err := row.Scan(&s.ID, &s.ActivityID, &s.TakerID, &s.TimeLimitSeconds, &s.StartedAt, &s.Deadline,
		&s.State, &s.SubmittedAt, &answers, &s.Score, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := decodeAnswers(answers, &s.Answers); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeAnswers(raw []byte, dst *[]model.Answer) error {
	*dst = []model.Answer{}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode answers: %w", err)
	}
	return nil
}

func encodeAnswers(answers []model.Answer) ([]byte, error) {
	if answers == nil {
		answers = []model.Answer{}
	}
	return json.Marshal(answers)
}

// GetByID retrieves a session by its id.
func (r *AttemptSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.AttemptSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM attempt_sessions WHERE id = $1`, id))
}

// FindActive returns the in-progress session for an activity/taker pair.
func (r *AttemptSessionRepository) FindActive(ctx context.Context, activityID uuid.UUID, takerID int) (*model.AttemptSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM attempt_sessions
		 WHERE activity_id = $1 AND taker_id = $2 AND state = $3`,
		activityID, takerID, model.AttemptStateInProgress))
}

// FindTerminal returns the most recent finished session for an activity/taker
// pair, preferring SUBMITTED over EXPIRED.
func (r *AttemptSessionRepository) FindTerminal(ctx context.Context, activityID uuid.UUID, takerID int) (*model.AttemptSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM attempt_sessions
		 WHERE activity_id = $1 AND taker_id = $2 AND state IN ($3, $4)
		 ORDER BY (state = $3) DESC, started_at DESC
		 LIMIT 1`,
		activityID, takerID, model.AttemptStateSubmitted, model.AttemptStateExpired))
}

// Create inserts a new in-progress session. It inserts nothing and returns
// ErrDuplicate when the pair already has any attempt, active or finished.
func (r *AttemptSessionRepository) Create(ctx context.Context, s *model.AttemptSession) (*model.AttemptSession, error) {
	answers, err := encodeAnswers(s.Answers)
	if err != nil {
		return nil, err
	}

	created, err := scanSession(r.pool.QueryRow(ctx,
		`INSERT INTO attempt_sessions (id, activity_id, taker_id, time_limit_seconds, started_at, deadline, state, answers)
		 SELECT $1::uuid, $2::uuid, $3::int, $4::int, $5::timestamptz, $6::timestamptz, $7::text, $8::jsonb
		 WHERE NOT EXISTS (
			SELECT 1 FROM attempt_sessions WHERE activity_id = $2 AND taker_id = $3
		 )
		 ON CONFLICT (activity_id, taker_id) WHERE state = 'IN_PROGRESS' DO NOTHING
		 RETURNING `+sessionColumns,
		s.ID, s.ActivityID, s.TakerID, s.TimeLimitSeconds, s.StartedAt, s.Deadline, model.AttemptStateInProgress, answers))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrDuplicate
	}
	return created, err
}

// Finalize moves an in-progress session to a terminal state. The update is
// conditional on state = IN_PROGRESS so only one caller can ever win; losers
// get ErrStateConflict.
func (r *AttemptSessionRepository) Finalize(ctx context.Context, id uuid.UUID, answers []model.Answer, submittedAt *time.Time, state model.AttemptState) (*model.AttemptSession, error) {
	if !state.IsTerminal() {
		return nil, fmt.Errorf("finalize to non-terminal state %q", state)
	}
	raw, err := encodeAnswers(answers)
	if err != nil {
		return nil, err
	}

	s, err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE attempt_sessions
		 SET state = $2, answers = $3, submitted_at = $4, updated_at = NOW()
		 WHERE id = $1 AND state = $5
		 RETURNING `+sessionColumns,
		id, state, raw, submittedAt, model.AttemptStateInProgress))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrStateConflict
	}
	return s, err
}

// SaveAnswers overwrites the draft answers of an in-progress session when
// version is newer than the stored one. ErrStateConflict means the session
// is finalized or already holds a newer draft.
func (r *AttemptSessionRepository) SaveAnswers(ctx context.Context, id uuid.UUID, answers []model.Answer, version int64) error {
	raw, err := encodeAnswers(answers)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempt_sessions SET answers = $2, draft_version = $4, updated_at = NOW()
		 WHERE id = $1 AND state = $3 AND draft_version < $4`,
		id, raw, model.AttemptStateInProgress, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

// ListByActivity retrieves paginated attempt summaries for an activity.
func (r *AttemptSessionRepository) ListByActivity(ctx context.Context, activityID uuid.UUID, page, perPage int) ([]model.AttemptSummary, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempt_sessions WHERE activity_id = $1`, activityID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, taker_id, state, started_at, deadline, submitted_at, score
		FROM attempt_sessions
		WHERE activity_id = $1
		ORDER BY started_at ASC`
	args := []any{activityID}
	if perPage > 0 {
		query += ` LIMIT $2 OFFSET $3`
		args = append(args, perPage, (page-1)*perPage)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []model.AttemptSummary
	for rows.Next() {
		var s model.AttemptSummary
		if err := rows.Scan(&s.SessionID, &s.TakerID, &s.State, &s.StartedAt, &s.Deadline, &s.SubmittedAt, &s.Score); err != nil {
			return nil, 0, err
		}
		results = append(results, s)
	}
	return results, total, rows.Err()
}

// CountByState returns the number of stored attempts per state for an activity.
func (r *AttemptSessionRepository) CountByState(ctx context.Context, activityID uuid.UUID) (map[model.AttemptState]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT state, COUNT(*) FROM attempt_sessions WHERE activity_id = $1 GROUP BY state`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.AttemptState]int)
	for rows.Next() {
		var state model.AttemptState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}
