package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/attempt-service/internal/config"
	"github.com/stemsi/attempt-service/internal/metrics"
	"github.com/stemsi/attempt-service/internal/model"
	"github.com/stemsi/attempt-service/internal/repository"
)

const (
	autosavePollTimeout = time.Second
	autosaveRetryDelay  = 5 * time.Second
)

// DraftStore persists autosaved answers of in-progress sessions.
type DraftStore interface {
	SaveAnswers(ctx context.Context, id uuid.UUID, answers []model.Answer, version int64) error
}

// AutosaveWorker consumes persist_drafts_queue and writes drafts to PostgreSQL.
type AutosaveWorker struct {
	store      DraftStore
	queue      Queue
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(store DraftStore, queue Queue, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		store:      store,
		queue:      queue,
		retryDelay: autosaveRetryDelay,
		log:        log.With().Str("component", "autosave_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AutosaveWorker) processNext(ctx context.Context) {
	raw, err := w.queue.Pop(ctx, config.WorkerKey.PersistDraftsQueue, autosavePollTimeout)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			sleepCtx(ctx, time.Second)
		}
		return
	}
	if raw == nil {
		return
	}

	if err := w.handle(ctx, raw); err != nil {
		w.log.Error().Err(err).Msg("Persist error, retrying")
		w.requeue(ctx, raw)
		sleepCtx(ctx, w.retryDelay)
	}
}

// handle persists one draft. Malformed jobs, superseded drafts and drafts of
// finalized sessions are dropped; only store failures are returned for retry.
func (w *AutosaveWorker) handle(ctx context.Context, raw []byte) error {
	queue := config.WorkerKey.PersistDraftsQueue

	var job model.DraftJob
	if err := json.Unmarshal(raw, &job); err != nil || job.SessionID == uuid.Nil || job.Version <= 0 {
		w.log.Error().Err(err).Msg("Invalid draft job")
		metrics.QueueJobs.WithLabelValues(queue, "invalid").Inc()
		return nil
	}

	err := w.store.SaveAnswers(ctx, job.SessionID, job.Answers, job.Version)
	switch {
	case errors.Is(err, repository.ErrStateConflict):
		w.log.Debug().
			Str("session_id", job.SessionID.String()).
			Int64("version", job.Version).
			Msg("Draft superseded or session finalized, discarded")
		metrics.QueueJobs.WithLabelValues(queue, "discarded").Inc()
		return nil
	case err != nil:
		return err
	}

	metrics.QueueJobs.WithLabelValues(queue, "processed").Inc()
	return nil
}

func (w *AutosaveWorker) requeue(ctx context.Context, raw []byte) {
	metrics.QueueJobs.WithLabelValues(config.WorkerKey.PersistDraftsQueue, "retried").Inc()
	if err := w.queue.Requeue(ctx, config.WorkerKey.PersistDraftsQueue, raw); err != nil {
		w.log.Error().Err(err).Msg("Requeue failed, draft dropped")
	}
}

// drain processes all remaining items in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.queue.TryPop(ctx, config.WorkerKey.PersistDraftsQueue)
		if err != nil || raw == nil {
			break
		}

		if err := w.handle(ctx, raw); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.requeue(ctx, raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
