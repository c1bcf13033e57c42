package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/attempt-service/internal/model"
)

// Queue is an in-memory set of named FIFO lists. Pop never blocks.
type Queue struct {
	mu    sync.Mutex
	lists map[string][][]byte
}

func NewQueue() *Queue {
	return &Queue{lists: make(map[string][][]byte)}
}

func (q *Queue) Pop(ctx context.Context, queue string, _ time.Duration) ([]byte, error) {
	return q.TryPop(ctx, queue)
}

func (q *Queue) TryPop(_ context.Context, queue string) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.lists[queue]
	if len(list) == 0 {
		return nil, nil
	}
	q.lists[queue] = list[1:]
	return list[0], nil
}

func (q *Queue) Requeue(_ context.Context, queue string, raw []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lists[queue] = append(q.lists[queue], raw)
	return nil
}

// Len returns the number of pending jobs on queue.
func (q *Queue) Len(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lists[queue])
}

func (f *SessionStore) ListSubmitted(_ context.Context, ids []uuid.UUID) ([]*model.AttemptSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var out []*model.AttemptSession
	for _, id := range ids {
		if s, ok := f.sessions[id]; ok && s.State == model.AttemptStateSubmitted {
			out = append(out, clone(s))
		}
	}
	return out, nil
}

func (f *SessionStore) SetScores(ctx context.Context, ids []uuid.UUID, scores []float64) error {
	if f.BulkErr != nil {
		return f.BulkErr
	}
	for i, id := range ids {
		if err := f.SetScore(ctx, id, scores[i]); err != nil {
			return err
		}
	}
	return nil
}

func (f *SessionStore) SetScore(_ context.Context, id uuid.UUID, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if s, ok := f.sessions[id]; ok && s.State == model.AttemptStateSubmitted {
		v := score
		s.Score = &v
	}
	return nil
}

func (f *ActivityStore) AnswerKey(_ context.Context, activityID uuid.UUID) (model.AnswerKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := make(model.AnswerKey)
	if a, ok := f.activities[activityID]; ok {
		for _, q := range a.Questions {
			key[q.ID] = model.KeyEntry{Response: q.AnswerKey, Points: q.Points}
		}
	}
	return key, nil
}
