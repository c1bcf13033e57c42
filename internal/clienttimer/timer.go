// Package clienttimer drives the taker-side countdown of an attempt. The
// countdown runs on server time: the offset between the server clock and the
// local clock is measured once at start and applied to every reading.
package clienttimer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/attempt-service/internal/model"
	"github.com/stemsi/attempt-service/internal/service"
)

// Outcome is how a submission ended from the taker's point of view.
type Outcome string

const (
	OutcomeSubmitted        Outcome = "submitted"
	OutcomeAlreadySubmitted Outcome = "already_submitted"
	OutcomeExpired          Outcome = "expired"
	OutcomeNoAnswers        Outcome = "no_answers"
	OutcomeFailed           Outcome = "failed"
)

// Final reports whether the attempt is over after this outcome.
func (o Outcome) Final() bool {
	switch o {
	case OutcomeSubmitted, OutcomeAlreadySubmitted, OutcomeExpired:
		return true
	}
	return false
}

var (
	ErrFinished   = errors.New("attempt already finished")
	ErrInProgress = errors.New("submission already in progress")
)

// Submitter posts answers. Satisfied by *client.Client.
type Submitter interface {
	Submit(ctx context.Context, sessionID uuid.UUID, answers []model.Answer) (*model.SubmitAttemptResponse, error)
}

// Result is the outcome of one submit call.
type Result struct {
	Outcome  Outcome
	Response *model.SubmitAttemptResponse
	Err      error
	// Auto is set when the call was triggered by expiry.
	Auto bool
}

// Config builds a Timer from a start response.
type Config struct {
	SessionID  uuid.UUID
	EndTime    time.Time
	ServerTime time.Time
	Submitter  Submitter
	// Answers returns the answers to post. Nil posts none.
	Answers func() []model.Answer
	// OnTick receives the remaining time after every tick.
	OnTick func(remaining time.Duration)
	// OnResult receives every submit result, auto or manual.
	OnResult func(Result)
	// Interval between ticks in Run. Defaults to one second.
	Interval time.Duration
	// Now is the local clock. Defaults to time.Now.
	Now    func() time.Time
	Logger *zerolog.Logger
}

// Timer is a per-attempt countdown that auto-submits once at expiry.
type Timer struct {
	cfg    Config
	now    func() time.Time
	offset time.Duration
	log    zerolog.Logger

	mu        sync.Mutex
	end       time.Time
	paused    bool
	triggered bool
	done      bool
	last      *Result
}

// New creates a Timer. The clock offset is fixed here.
func New(cfg Config) (*Timer, error) {
	if cfg.SessionID == uuid.Nil {
		return nil, errors.New("clienttimer: session id is required")
	}
	if cfg.Submitter == nil {
		return nil, errors.New("clienttimer: submitter is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "client_timer").Str("session_id", cfg.SessionID.String()).Logger()
	}

	return &Timer{
		cfg:    cfg,
		now:    now,
		offset: cfg.ServerTime.Sub(now()),
		log:    log,
		end:    cfg.EndTime,
	}, nil
}

// Offset is serverTime minus the local clock at construction.
func (t *Timer) Offset() time.Duration {
	return t.offset
}

// serverNow is the local clock corrected onto server time.
func (t *Timer) serverNow() time.Time {
	return t.now().Add(t.offset)
}

// Remaining is the time left, floored at zero.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingLocked()
}

func (t *Timer) remainingLocked() time.Duration {
	if d := t.end.Sub(t.serverNow()); d > 0 {
		return d
	}
	return 0
}

// Done reports whether a final outcome was reached.
func (t *Timer) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Last returns the most recent submit result, if any.
func (t *Timer) Last() (Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return Result{}, false
	}
	return *t.last, true
}

// Tick advances the countdown once. When the time is up it submits,
// at most once until that submission fails transiently.
func (t *Timer) Tick(ctx context.Context) time.Duration {
	t.mu.Lock()
	if t.done || t.paused {
		rem := t.remainingLocked()
		t.mu.Unlock()
		return rem
	}
	rem := t.remainingLocked()
	fire := rem <= 0 && !t.triggered
	if fire {
		t.triggered = true
		t.paused = true
	}
	t.mu.Unlock()

	if t.cfg.OnTick != nil {
		t.cfg.OnTick(rem)
	}
	if fire {
		t.post(ctx, rem, true)
	}
	return rem
}

// Submit stops the countdown and posts the answers. It is rejected while
// another submission is in flight or after a final outcome.
func (t *Timer) Submit(ctx context.Context) (Result, error) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return Result{}, ErrFinished
	}
	if t.triggered {
		t.mu.Unlock()
		return Result{}, ErrInProgress
	}
	t.triggered = true
	t.paused = true
	rem := t.remainingLocked()
	t.mu.Unlock()

	return t.post(ctx, rem, false), nil
}

// Run ticks every Interval until a final outcome or ctx is done.
func (t *Timer) Run(ctx context.Context) (Result, error) {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	t.Tick(ctx)
	for {
		if t.Done() {
			r, _ := t.Last()
			return r, nil
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// post performs one submission. rem is the remaining time measured before
// posting; a transient failure rearms the countdown with it.
func (t *Timer) post(ctx context.Context, rem time.Duration, auto bool) Result {
	var answers []model.Answer
	if t.cfg.Answers != nil {
		answers = t.cfg.Answers()
	}

	resp, err := t.cfg.Submitter.Submit(ctx, t.cfg.SessionID, answers)
	res := Result{Outcome: classify(err), Response: resp, Err: err, Auto: auto}

	t.mu.Lock()
	switch {
	case res.Outcome.Final():
		t.done = true
	case res.Outcome == OutcomeFailed:
		t.end = t.serverNow().Add(rem)
		t.triggered = false
		t.paused = false
	default:
		// NoAnswers: keep the deadline and let the taker answer.
		t.triggered = false
		t.paused = false
	}
	t.last = &res
	t.mu.Unlock()

	ev := t.log.Info()
	if res.Outcome == OutcomeFailed {
		ev = t.log.Warn().Err(err)
	}
	ev.Str("outcome", string(res.Outcome)).Bool("auto", auto).Msg("Attempt submit finished")

	if t.cfg.OnResult != nil {
		t.cfg.OnResult(res)
	}
	return res
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSubmitted
	case errors.Is(err, service.ErrAlreadySubmitted):
		return OutcomeAlreadySubmitted
	case errors.Is(err, service.ErrExpired):
		return OutcomeExpired
	case errors.Is(err, service.ErrNoAnswers):
		return OutcomeNoAnswers
	default:
		return OutcomeFailed
	}
}
