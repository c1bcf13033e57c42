package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/attempt-service/internal/config"
	"github.com/stemsi/attempt-service/internal/model"
	"github.com/stemsi/attempt-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func push(t *testing.T, q *testutil.Queue, name string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, q.Requeue(context.Background(), name, raw))
}

func startedSession(t *testing.T, store *testutil.SessionStore, activity *model.Activity, takerID int) *model.AttemptSession {
	t.Helper()
	s, err := store.Create(context.Background(), model.NewAttemptSession(activity, takerID, time.Now()))
	require.NoError(t, err)
	return s
}

func TestAutosavePersistsDraft(t *testing.T) {
	store := testutil.NewSessionStore()
	queue := testutil.NewQueue()
	w := NewAutosaveWorker(store, queue, zerolog.Nop())

	s := startedSession(t, store, &model.Activity{ID: uuid.New(), TimeLimitSeconds: 60}, 1)
	draft := []model.Answer{{QuestionID: "q1", Response: "a"}}
	push(t, queue, config.WorkerKey.PersistDraftsQueue, model.DraftJob{SessionID: s.ID, Version: 1, Answers: draft})

	w.processNext(context.Background())

	assert.Equal(t, draft, store.Stored(s.ID).Answers)
	assert.Zero(t, queue.Len(config.WorkerKey.PersistDraftsQueue))
}

func TestAutosaveDropsDraftOfFinalizedSession(t *testing.T) {
	store := testutil.NewSessionStore()
	queue := testutil.NewQueue()
	w := NewAutosaveWorker(store, queue, zerolog.Nop())
	ctx := context.Background()

	s := startedSession(t, store, &model.Activity{ID: uuid.New(), TimeLimitSeconds: 60}, 1)
	final := []model.Answer{{QuestionID: "q1", Response: "final"}}
	now := time.Now()
	_, err := store.Finalize(ctx, s.ID, final, &now, model.AttemptStateSubmitted)
	require.NoError(t, err)

	push(t, queue, config.WorkerKey.PersistDraftsQueue, model.DraftJob{
		SessionID: s.ID,
		Version:   1,
		Answers:   []model.Answer{{QuestionID: "q1", Response: "stale"}},
	})
	w.processNext(ctx)

	assert.Equal(t, final, store.Stored(s.ID).Answers)
	assert.Zero(t, queue.Len(config.WorkerKey.PersistDraftsQueue))
}

func TestAutosaveRequeuesOnStoreFailure(t *testing.T) {
	store := testutil.NewSessionStore()
	queue := testutil.NewQueue()
	w := NewAutosaveWorker(store, queue, zerolog.Nop())
	w.retryDelay = time.Millisecond

	store.Err = errors.New("db down")
	push(t, queue, config.WorkerKey.PersistDraftsQueue, model.DraftJob{SessionID: uuid.New(), Version: 1})
	w.processNext(context.Background())

	assert.Equal(t, 1, queue.Len(config.WorkerKey.PersistDraftsQueue))
}

func TestAutosaveKeepsNewestDraftAfterRetry(t *testing.T) {
	store := testutil.NewSessionStore()
	queue := testutil.NewQueue()
	w := NewAutosaveWorker(store, queue, zerolog.Nop())
	w.retryDelay = time.Millisecond
	ctx := context.Background()

	s := startedSession(t, store, &model.Activity{ID: uuid.New(), TimeLimitSeconds: 60}, 1)
	older := []model.Answer{{QuestionID: "q1", Response: "old"}}
	newer := []model.Answer{{QuestionID: "q1", Response: "new"}}
	push(t, queue, config.WorkerKey.PersistDraftsQueue, model.DraftJob{SessionID: s.ID, Version: 10, Answers: older})
	push(t, queue, config.WorkerKey.PersistDraftsQueue, model.DraftJob{SessionID: s.ID, Version: 11, Answers: newer})

	// The first save fails, so the older draft is retried behind the newer one.
	store.FailSaves = 1
	for i := 0; i < 3; i++ {
		w.processNext(ctx)
	}

	assert.Equal(t, newer, store.Stored(s.ID).Answers)
	assert.Zero(t, queue.Len(config.WorkerKey.PersistDraftsQueue))
}

func TestAutosaveDropsUnversionedJob(t *testing.T) {
	store := testutil.NewSessionStore()
	queue := testutil.NewQueue()
	w := NewAutosaveWorker(store, queue, zerolog.Nop())

	s := startedSession(t, store, &model.Activity{ID: uuid.New(), TimeLimitSeconds: 60}, 1)
	push(t, queue, config.WorkerKey.PersistDraftsQueue, model.DraftJob{
		SessionID: s.ID,
		Answers:   []model.Answer{{QuestionID: "q1", Response: "x"}},
	})
	w.processNext(context.Background())

	assert.Empty(t, store.Stored(s.ID).Answers)
	assert.Zero(t, queue.Len(config.WorkerKey.PersistDraftsQueue))
}

func TestAutosaveDrainsOnShutdown(t *testing.T) {
	store := testutil.NewSessionStore()
	queue := testutil.NewQueue()
	w := NewAutosaveWorker(store, queue, zerolog.Nop())

	activity := &model.Activity{ID: uuid.New(), TimeLimitSeconds: 60}
	for taker := 1; taker <= 3; taker++ {
		s := startedSession(t, store, activity, taker)
		push(t, queue, config.WorkerKey.PersistDraftsQueue, model.DraftJob{
			SessionID: s.ID,
			Version:   1,
			Answers:   []model.Answer{{QuestionID: "q1", Response: "x"}},
		})
	}
	require.NoError(t, queue.Requeue(context.Background(), config.WorkerKey.PersistDraftsQueue, []byte("{broken")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Start(ctx)

	assert.Zero(t, queue.Len(config.WorkerKey.PersistDraftsQueue))
}

func TestScoringGradesBatch(t *testing.T) {
	store := testutil.NewSessionStore()
	activities := testutil.NewActivityStore()
	queue := testutil.NewQueue()
	w := NewScoringWorker(store, activities, queue, zerolog.Nop())
	ctx := context.Background()

	activityID := activities.Add(model.Activity{
		TimeLimitSeconds: 60,
		Questions: []model.Question{
			{ID: "q1", AnswerKey: "4", Points: 1},
			{ID: "q2", AnswerKey: "Paris", Points: 3},
		},
	})
	activity, err := activities.GetByID(ctx, activityID)
	require.NoError(t, err)

	now := time.Now()
	graded := startedSession(t, store, activity, 1)
	_, err = store.Finalize(ctx, graded.ID, []model.Answer{
		{QuestionID: "q1", Response: "5"},
		{QuestionID: "q2", Response: " paris "},
	}, &now, model.AttemptStateSubmitted)
	require.NoError(t, err)

	expired := startedSession(t, store, activity, 2)
	_, err = store.Finalize(ctx, expired.ID, nil, nil, model.AttemptStateExpired)
	require.NoError(t, err)

	w.flushSafe(ctx, []uuid.UUID{graded.ID, expired.ID, uuid.New()})

	score := store.Stored(graded.ID).Score
	require.NotNil(t, score)
	assert.InDelta(t, 75.0, *score, 1e-9)
	assert.Nil(t, store.Stored(expired.ID).Score)
	assert.Zero(t, queue.Len(config.WorkerKey.ScoreAttemptsQueue))
}

func TestScoringFallsBackToSingleUpdates(t *testing.T) {
	store := testutil.NewSessionStore()
	activities := testutil.NewActivityStore()
	queue := testutil.NewQueue()
	w := NewScoringWorker(store, activities, queue, zerolog.Nop())
	ctx := context.Background()

	activityID := activities.Add(model.Activity{
		TimeLimitSeconds: 60,
		Questions:        []model.Question{{ID: "q1", AnswerKey: "yes"}},
	})
	activity, err := activities.GetByID(ctx, activityID)
	require.NoError(t, err)

	now := time.Now()
	s := startedSession(t, store, activity, 1)
	_, err = store.Finalize(ctx, s.ID, []model.Answer{{QuestionID: "q1", Response: "YES"}}, &now, model.AttemptStateSubmitted)
	require.NoError(t, err)

	store.BulkErr = errors.New("bulk failed")
	w.flushSafe(ctx, []uuid.UUID{s.ID})

	require.NotNil(t, store.Stored(s.ID).Score)
	assert.Equal(t, 100.0, *store.Stored(s.ID).Score)
}

func TestScoringRequeuesWhenStoreUnavailable(t *testing.T) {
	store := testutil.NewSessionStore()
	queue := testutil.NewQueue()
	w := NewScoringWorker(store, testutil.NewActivityStore(), queue, zerolog.Nop())

	store.Err = errors.New("db down")
	w.flushSafe(context.Background(), []uuid.UUID{uuid.New(), uuid.New()})

	assert.Equal(t, 2, queue.Len(config.WorkerKey.ScoreAttemptsQueue))
}

func TestScoringStartFlushesOnShutdown(t *testing.T) {
	store := testutil.NewSessionStore()
	activities := testutil.NewActivityStore()
	queue := testutil.NewQueue()
	w := NewScoringWorker(store, activities, queue, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Start(ctx)

	assert.Zero(t, queue.Len(config.WorkerKey.ScoreAttemptsQueue))
}
