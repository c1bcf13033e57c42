package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/attempt-service/internal/config"
	"github.com/stemsi/attempt-service/internal/metrics"
	"github.com/stemsi/attempt-service/internal/model"
	"github.com/stemsi/attempt-service/internal/repository"
)

// SessionStore persists attempt sessions. Finalize must be atomic: a
// conditional update keyed on state = IN_PROGRESS, so at most one caller
// finalizes a given session.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.AttemptSession, error)
	FindActive(ctx context.Context, activityID uuid.UUID, takerID int) (*model.AttemptSession, error)
	FindTerminal(ctx context.Context, activityID uuid.UUID, takerID int) (*model.AttemptSession, error)
	Create(ctx context.Context, s *model.AttemptSession) (*model.AttemptSession, error)
	Finalize(ctx context.Context, id uuid.UUID, answers []model.Answer, submittedAt *time.Time, state model.AttemptState) (*model.AttemptSession, error)
}

// ActivityReader looks up the activity an attempt is started against.
type ActivityReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Activity, error)
}

// SessionCache is the Redis side of an attempt: snapshots and drafts.
type SessionCache interface {
	GetSession(ctx context.Context, id uuid.UUID) (*model.AttemptSession, error)
	SetSession(ctx context.Context, s *model.AttemptSession, ttl time.Duration) error
	Evict(ctx context.Context, id uuid.UUID) error
	SaveDraft(ctx context.Context, id uuid.UUID, answers []model.Answer, at time.Time, ttl time.Duration) (int64, error)
	Draft(ctx context.Context, id uuid.UUID) ([]model.Answer, error)
}

// JobQueue hands work to background workers.
type JobQueue interface {
	Enqueue(ctx context.Context, queue string, payload any) error
}

// EventPublisher fans attempt events out to live monitors.
type EventPublisher interface {
	Publish(ctx context.Context, activityID uuid.UUID, ev model.AttemptEvent) error
}

// StartResult is the outcome of a successful Start.
type StartResult struct {
	Session    *model.AttemptSession
	ServerTime time.Time
	Resumed    bool
}

// SubmitResult acknowledges a finalized attempt. It is also returned next
// to ErrAlreadySubmitted so callers can show the existing result.
type SubmitResult struct {
	SessionID   uuid.UUID
	Status      model.AttemptState
	SubmittedAt *time.Time
	Score       *float64
	Late        bool
}

// AttemptView is a session as observed at ServerTime.
type AttemptView struct {
	Session    *model.AttemptSession
	State      model.AttemptState
	ServerTime time.Time
	Remaining  time.Duration
}

// draftRetention keeps a draft readable after the writable window closes, so
// a late expiry still freezes the newest answers even if the autosave queue
// has not caught up.
const draftRetention = time.Hour

// AttemptService is the server-side authority over attempt creation,
// validity and exactly-once finalization.
type AttemptService struct {
	sessions   SessionStore
	activities ActivityReader
	cache      SessionCache
	queue      JobQueue
	events     EventPublisher
	grace      time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// Option customizes an AttemptService.
type Option func(*AttemptService)

// WithClock replaces the server clock.
func WithClock(now func() time.Time) Option {
	return func(s *AttemptService) { s.now = now }
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	sessions SessionStore,
	activities ActivityReader,
	cache SessionCache,
	queue JobQueue,
	events EventPublisher,
	grace time.Duration,
	log zerolog.Logger,
	opts ...Option,
) *AttemptService {
	s := &AttemptService{
		sessions:   sessions,
		activities: activities,
		cache:      cache,
		queue:      queue,
		events:     events,
		grace:      grace,
		now:        time.Now,
		log:        log.With().Str("component", "attempt_service").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Grace returns the configured grace window.
func (s *AttemptService) Grace() time.Duration {
	return s.grace
}

// Now returns the server clock reading used for all deadline math.
func (s *AttemptService) Now() time.Time {
	return s.now()
}

// Start creates an attempt for (activityID, takerID) or resumes the one in
// progress. A taker gets a single attempt: a submitted or expired one blocks
// any new start.
func (s *AttemptService) Start(ctx context.Context, activityID uuid.UUID, takerID int) (*StartResult, error) {
	now := s.now()

	active, err := s.sessions.FindActive(ctx, activityID, takerID)
	switch {
	case err == nil:
		return s.resume(ctx, active, now)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("find active attempt: %w", err)
	}

	if err := s.checkNoTerminal(ctx, activityID, takerID); err != nil {
		return nil, err
	}

	activity, err := s.activities.GetByID(ctx, activityID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrActivityNotFound
		}
		return nil, fmt.Errorf("get activity: %w", err)
	}

	created, err := s.sessions.Create(ctx, model.NewAttemptSession(activity, takerID, now))
	if errors.Is(err, repository.ErrDuplicate) {
		// Concurrent start, or a terminal attempt appeared in between.
		active, ferr := s.sessions.FindActive(ctx, activityID, takerID)
		if ferr == nil {
			return s.resume(ctx, active, now)
		}
		if !errors.Is(ferr, repository.ErrNotFound) {
			return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", ferr)
		}
		if err := s.checkNoTerminal(ctx, activityID, takerID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	s.cacheSnapshot(ctx, created, now)
	s.publish(ctx, created, model.EventAttemptStarted, now)
	metrics.Outcome("start", "started")

	s.log.Info().
		Str("session_id", created.ID.String()).
		Str("activity_id", activityID.String()).
		Int("taker_id", takerID).
		Time("deadline", created.Deadline).
		Msg("Attempt started")

	return &StartResult{Session: created, ServerTime: s.now()}, nil
}

func (s *AttemptService) resume(ctx context.Context, active *model.AttemptSession, now time.Time) (*StartResult, error) {
	if !active.AcceptsWritesAt(now, s.grace) {
		final, err := s.expire(ctx, active, now)
		if err != nil {
			return nil, err
		}
		metrics.Outcome("start", outcomeLabel(terminalError(final)))
		return nil, terminalError(final)
	}

	metrics.Outcome("start", "resumed")
	s.log.Debug().Str("session_id", active.ID.String()).Msg("Resuming existing attempt")
	return &StartResult{Session: active, ServerTime: s.now(), Resumed: true}, nil
}

func (s *AttemptService) checkNoTerminal(ctx context.Context, activityID uuid.UUID, takerID int) error {
	terminal, err := s.sessions.FindTerminal(ctx, activityID, takerID)
	if err == nil {
		terr := terminalError(terminal)
		metrics.Outcome("start", outcomeLabel(terr))
		return terr
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("find finished attempt: %w", err)
	}
	return nil
}

// Get returns the session with its effective state. Expiry is evaluated
// lazily here; nothing sweeps sessions in the background.
func (s *AttemptService) Get(ctx context.Context, sessionID uuid.UUID, takerID int) (*AttemptView, error) {
	now := s.now()

	sess, err := s.load(ctx, sessionID, now)
	if err != nil {
		return nil, err
	}
	if sess.TakerID != takerID {
		return nil, ErrForbidden
	}

	if sess.State == model.AttemptStateInProgress {
		if draft, err := s.cache.Draft(ctx, sess.ID); err != nil {
			s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Draft lookup failed")
		} else if draft != nil {
			sess.Answers = draft
		}
	}

	return &AttemptView{
		Session:    sess,
		State:      sess.EffectiveState(now),
		ServerTime: now,
		Remaining:  sess.Remaining(now),
	}, nil
}

// SaveAnswers replaces the autosaved draft while the attempt still accepts
// writes. The draft is cached immediately and persisted by the autosave worker.
func (s *AttemptService) SaveAnswers(ctx context.Context, sessionID uuid.UUID, takerID int, answers []model.Answer) error {
	now := s.now()

	sess, err := s.load(ctx, sessionID, now)
	if err != nil {
		return err
	}
	if sess.TakerID != takerID {
		return ErrForbidden
	}
	if sess.State.IsTerminal() {
		return terminalError(sess)
	}
	if !sess.AcceptsWritesAt(now, s.grace) {
		return ErrExpired
	}

	answers = model.CloneAnswers(answers)
	version, err := s.cache.SaveDraft(ctx, sess.ID, answers, now, s.ttl(sess, now)+draftRetention)
	if err != nil {
		return fmt.Errorf("cache draft: %w", err)
	}
	job := model.DraftJob{SessionID: sess.ID, Version: version, Answers: answers}
	if err := s.queue.Enqueue(ctx, config.WorkerKey.PersistDraftsQueue, job); err != nil {
		return fmt.Errorf("queue draft: %w", err)
	}
	return nil
}

// Submit finalizes the attempt exactly once. Server time decides lateness:
// a submission within the grace window after the deadline is accepted.
func (s *AttemptService) Submit(ctx context.Context, sessionID uuid.UUID, takerID int, answers []model.Answer) (*SubmitResult, error) {
	now := s.now()

	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.Outcome("submit", "not_found")
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if sess.TakerID != takerID {
		return nil, ErrForbidden
	}

	if sess.State.IsTerminal() {
		return s.rejectTerminal(sess)
	}

	if !sess.AcceptsWritesAt(now, s.grace) {
		final, err := s.expire(ctx, sess, now)
		if err != nil {
			return nil, err
		}
		return s.rejectTerminal(final)
	}

	if !model.HasResponse(answers) {
		metrics.Outcome("submit", "no_answers")
		return nil, ErrNoAnswers
	}

	final, err := s.sessions.Finalize(ctx, sess.ID, model.CloneAnswers(answers), &now, model.AttemptStateSubmitted)
	if errors.Is(err, repository.ErrStateConflict) {
		// Lost the race to another submit or to expiry.
		current, gerr := s.sessions.GetByID(ctx, sess.ID)
		if gerr != nil {
			return nil, fmt.Errorf("reload attempt after conflict: %w", gerr)
		}
		return s.rejectTerminal(current)
	}
	if err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}

	late := now.After(final.Deadline)
	if late {
		metrics.SubmitLateness.Observe(now.Sub(final.Deadline).Seconds())
	}
	s.afterFinalize(ctx, final, now)
	metrics.Outcome("submit", "submitted")

	s.log.Info().
		Str("session_id", final.ID.String()).
		Int("taker_id", final.TakerID).
		Int("answers", len(final.Answers)).
		Bool("late", late).
		Msg("Attempt submitted")

	return &SubmitResult{
		SessionID:   final.ID,
		Status:      final.State,
		SubmittedAt: final.SubmittedAt,
		Score:       final.Score,
		Late:        late,
	}, nil
}

// expire finalizes an overdue session as EXPIRED, keeping its latest draft.
// If another caller finalized first, the stored session is returned.
func (s *AttemptService) expire(ctx context.Context, sess *model.AttemptSession, now time.Time) (*model.AttemptSession, error) {
	answers := sess.Answers
	if draft, err := s.cache.Draft(ctx, sess.ID); err == nil && draft != nil {
		answers = draft
	}

	final, err := s.sessions.Finalize(ctx, sess.ID, answers, nil, model.AttemptStateExpired)
	if errors.Is(err, repository.ErrStateConflict) {
		current, gerr := s.sessions.GetByID(ctx, sess.ID)
		if gerr != nil {
			return nil, fmt.Errorf("reload attempt after conflict: %w", gerr)
		}
		return current, nil
	}
	if err != nil {
		return nil, fmt.Errorf("expire attempt: %w", err)
	}

	s.afterFinalize(ctx, final, now)
	s.log.Info().
		Str("session_id", final.ID.String()).
		Int("taker_id", final.TakerID).
		Msg("Attempt expired")
	return final, nil
}

func (s *AttemptService) afterFinalize(ctx context.Context, final *model.AttemptSession, now time.Time) {
	if err := s.cache.Evict(ctx, final.ID); err != nil {
		s.log.Warn().Err(err).Str("session_id", final.ID.String()).Msg("Snapshot eviction failed")
	}

	event := model.EventAttemptExpired
	if final.State == model.AttemptStateSubmitted {
		event = model.EventAttemptSubmitted
		if err := s.queue.Enqueue(ctx, config.WorkerKey.ScoreAttemptsQueue, model.ScoreJob{SessionID: final.ID}); err != nil {
			s.log.Error().Err(err).Str("session_id", final.ID.String()).Msg("Queue scoring failed")
		}
	}
	s.publish(ctx, final, event, now)
}

func (s *AttemptService) rejectTerminal(sess *model.AttemptSession) (*SubmitResult, error) {
	err := terminalError(sess)
	metrics.Outcome("submit", outcomeLabel(err))
	return &SubmitResult{
		SessionID:   sess.ID,
		Status:      sess.State,
		SubmittedAt: sess.SubmittedAt,
		Score:       sess.Score,
	}, err
}

// load prefers the Redis snapshot while the deadline has not passed and
// falls back to PostgreSQL, re-caching in-progress sessions.
func (s *AttemptService) load(ctx context.Context, id uuid.UUID, now time.Time) (*model.AttemptSession, error) {
	cached, err := s.cache.GetSession(ctx, id)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", id.String()).Msg("Snapshot lookup failed")
	}
	if cached != nil && cached.State == model.AttemptStateInProgress && !now.After(cached.Deadline) {
		return cached, nil
	}

	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if sess.State == model.AttemptStateInProgress {
		s.cacheSnapshot(ctx, sess, now)
	}
	return sess, nil
}

func (s *AttemptService) cacheSnapshot(ctx context.Context, sess *model.AttemptSession, now time.Time) {
	if err := s.cache.SetSession(ctx, sess, s.ttl(sess, now)); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Snapshot caching failed")
	}
}

func (s *AttemptService) ttl(sess *model.AttemptSession, now time.Time) time.Duration {
	return sess.Deadline.Add(s.grace).Sub(now)
}

func (s *AttemptService) publish(ctx context.Context, sess *model.AttemptSession, eventType string, now time.Time) {
	ev := model.AttemptEvent{
		Type:      eventType,
		SessionID: sess.ID,
		TakerID:   sess.TakerID,
		State:     sess.State,
		At:        now,
	}
	if err := s.events.Publish(ctx, sess.ActivityID, ev); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Monitor publish failed")
	}
}

func terminalError(sess *model.AttemptSession) error {
	if sess.State == model.AttemptStateSubmitted {
		return ErrAlreadySubmitted
	}
	return ErrExpired
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrAlreadySubmitted):
		return "already_submitted"
	case errors.Is(err, ErrExpired):
		return "expired"
	default:
		return "error"
	}
}
