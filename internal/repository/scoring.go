package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/attempt-service/internal/model"
)

// ListSubmitted returns the submitted sessions among ids. Unknown or
// unsubmitted ids are skipped.
func (r *AttemptSessionRepository) ListSubmitted(ctx context.Context, ids []uuid.UUID) ([]*model.AttemptSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM attempt_sessions
		 WHERE id = ANY($1) AND state = 'SUBMITTED'`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.AttemptSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetScores writes grades for many submitted sessions in one statement.
// ids and scores are parallel slices.
func (r *AttemptSessionRepository) SetScores(ctx context.Context, ids []uuid.UUID, scores []float64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE attempt_sessions AS s
		 SET score = t.score,
		     updated_at = NOW()
		 FROM UNNEST($1::uuid[], $2::float8[]) AS t (id, score)
		 WHERE s.id = t.id
		   AND s.state = 'SUBMITTED'`,
		ids, scores,
	)
	return err
}

// SetScore is the single-row fallback of SetScores.
func (r *AttemptSessionRepository) SetScore(ctx context.Context, id uuid.UUID, score float64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE attempt_sessions SET score = $2, updated_at = NOW()
		 WHERE id = $1 AND state = 'SUBMITTED'`,
		id, score,
	)
	return err
}

// AnswerKey loads the expected responses of an activity's questions.
func (r *ActivityRepository) AnswerKey(ctx context.Context, activityID uuid.UUID) (model.AnswerKey, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, answer_key, points
		 FROM activity_questions WHERE activity_id = $1`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	key := make(model.AnswerKey)
	for rows.Next() {
		var qID string
		var entry model.KeyEntry
		if err := rows.Scan(&qID, &entry.Response, &entry.Points); err != nil {
			return nil, err
		}
		key[qID] = entry
	}
	return key, rows.Err()
}
