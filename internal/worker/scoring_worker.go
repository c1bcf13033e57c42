package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/attempt-service/internal/config"
	"github.com/stemsi/attempt-service/internal/metrics"
	"github.com/stemsi/attempt-service/internal/model"
)

const (
	ScoreBatchSize    = 50
	ScoreBatchTimeout = 2 * time.Second
	ScorePollTimeout  = 1 * time.Second
)

// ScoreStore reads submitted sessions and writes their grades.
type ScoreStore interface {
	ListSubmitted(ctx context.Context, ids []uuid.UUID) ([]*model.AttemptSession, error)
	SetScores(ctx context.Context, ids []uuid.UUID, scores []float64) error
	SetScore(ctx context.Context, id uuid.UUID, score float64) error
}

// AnswerKeySource loads the answer key of an activity.
type AnswerKeySource interface {
	AnswerKey(ctx context.Context, activityID uuid.UUID) (model.AnswerKey, error)
}

// ScoringWorker grades submitted attempts in batches. Grading is off the
// submit path so a slow answer key lookup never delays finalization.
type ScoringWorker struct {
	store ScoreStore
	keys  AnswerKeySource
	queue Queue
	log   zerolog.Logger
}

func NewScoringWorker(store ScoreStore, keys AnswerKeySource, queue Queue, log zerolog.Logger) *ScoringWorker {
	return &ScoringWorker{
		store: store,
		keys:  keys,
		queue: queue,
		log:   log.With().Str("component", "scoring_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *ScoringWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ScoringWorker started")

	batch := make([]uuid.UUID, 0, ScoreBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= ScoreBatchSize || time.Since(lastFlush) >= ScoreBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			raw, err := w.queue.Pop(ctx, config.WorkerKey.ScoreAttemptsQueue, ScorePollTimeout)
			if err != nil {
				if ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
					sleepCtx(ctx, time.Second)
				}
				continue
			}
			if raw == nil {
				continue
			}

			var job model.ScoreJob
			if err := json.Unmarshal(raw, &job); err != nil || job.SessionID == uuid.Nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				metrics.QueueJobs.WithLabelValues(config.WorkerKey.ScoreAttemptsQueue, "invalid").Inc()
				continue
			}

			batch = append(batch, job.SessionID)
		}
	}
}

// ----------------------------------------------------------------
// Batch grading
// ----------------------------------------------------------------

// flushSafe grades a batch. Anything that could not be graded is requeued.
func (w *ScoringWorker) flushSafe(ctx context.Context, batch []uuid.UUID) {
	if len(batch) == 0 {
		return
	}

	sessions, err := w.store.ListSubmitted(ctx, batch)
	if err != nil {
		w.log.Error().Err(err).Int("batch", len(batch)).Msg("Load submitted sessions failed, requeueing")
		w.requeue(ctx, batch...)
		return
	}

	keys := make(map[uuid.UUID]model.AnswerKey)
	ids := make([]uuid.UUID, 0, len(sessions))
	scores := make([]float64, 0, len(sessions))
	for _, s := range sessions {
		key, ok := keys[s.ActivityID]
		if !ok {
			key, err = w.keys.AnswerKey(ctx, s.ActivityID)
			if err != nil {
				w.log.Error().Err(err).Str("activity_id", s.ActivityID.String()).Msg("Load answer key failed")
				w.requeue(ctx, s.ID)
				continue
			}
			keys[s.ActivityID] = key
		}
		ids = append(ids, s.ID)
		scores = append(scores, key.Score(s.Answers))
	}

	if len(ids) == 0 {
		return
	}

	if err := w.store.SetScores(ctx, ids, scores); err != nil {
		w.log.Warn().Err(err).Msg("bulk score update failed, using fallback")

		for i, id := range ids {
			if err := w.store.SetScore(ctx, id, scores[i]); err != nil {
				w.log.Error().Err(err).Str("session_id", id.String()).Msg("SetScore failed, requeueing")
				w.requeue(ctx, id)
				continue
			}
			metrics.QueueJobs.WithLabelValues(config.WorkerKey.ScoreAttemptsQueue, "processed").Inc()
		}
		return
	}

	metrics.QueueJobs.WithLabelValues(config.WorkerKey.ScoreAttemptsQueue, "processed").Add(float64(len(ids)))
	w.log.Debug().Int("count", len(ids)).Msg("Scores persisted")
}

func (w *ScoringWorker) requeue(ctx context.Context, ids ...uuid.UUID) {
	for _, id := range ids {
		raw, _ := json.Marshal(model.ScoreJob{SessionID: id})
		metrics.QueueJobs.WithLabelValues(config.WorkerKey.ScoreAttemptsQueue, "retried").Inc()
		if err := w.queue.Requeue(ctx, config.WorkerKey.ScoreAttemptsQueue, raw); err != nil {
			w.log.Error().Err(err).Str("session_id", id.String()).Msg("Requeue failed")
		}
	}
}
