package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptState enumerates attempt session states.
type AttemptState string

const (
	AttemptStateNotStarted AttemptState = "NOT_STARTED"
	AttemptStateInProgress AttemptState = "IN_PROGRESS"
	AttemptStateSubmitted  AttemptState = "SUBMITTED"
	AttemptStateExpired    AttemptState = "EXPIRED"
)

// IsTerminal reports whether no further transitions are permitted.
func (s AttemptState) IsTerminal() bool {
	return s == AttemptStateSubmitted || s == AttemptStateExpired
}

// AttemptSession is one taker's timed engagement with one activity.
type AttemptSession struct {
	ID               uuid.UUID    `json:"sessionId"`
	ActivityID       uuid.UUID    `json:"activityId"`
	TakerID          int          `json:"takerId"`
	TimeLimitSeconds int          `json:"timeLimitSeconds"`
	StartedAt        time.Time    `json:"startTime"`
	Deadline         time.Time    `json:"endTime"`
	State            AttemptState `json:"state"`
	SubmittedAt      *time.Time   `json:"submittedAt,omitempty"`
	Answers          []Answer     `json:"answers"`
	Score            *float64     `json:"score,omitempty"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// NewAttemptSession starts a session for activity at now. The time limit is
// copied so later edits to the activity leave the deadline alone.
func NewAttemptSession(activity *Activity, takerID int, now time.Time) *AttemptSession {
	limit := time.Duration(activity.TimeLimitSeconds) * time.Second
	return &AttemptSession{
		ID:               uuid.New(),
		ActivityID:       activity.ID,
		TakerID:          takerID,
		TimeLimitSeconds: activity.TimeLimitSeconds,
		StartedAt:        now,
		Deadline:         now.Add(limit),
		State:            AttemptStateInProgress,
		Answers:          []Answer{},
		UpdatedAt:        now,
	}
}

// EffectiveState is the state as observed at now. An in-progress session past
// its deadline reads as expired; a stored terminal state always wins.
func (s *AttemptSession) EffectiveState(now time.Time) AttemptState {
	if s.State == AttemptStateInProgress && now.After(s.Deadline) {
		return AttemptStateExpired
	}
	return s.State
}

// Remaining returns the time left before the deadline, floored at zero.
func (s *AttemptSession) Remaining(now time.Time) time.Duration {
	if s.State.IsTerminal() {
		return 0
	}
	if d := s.Deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}

// AcceptsWritesAt reports whether answers may still change: the session is in
// progress and now is within the deadline plus grace.
func (s *AttemptSession) AcceptsWritesAt(now time.Time, grace time.Duration) bool {
	return s.State == AttemptStateInProgress && !now.After(s.Deadline.Add(grace))
}

// AttemptEvent is published on the activity monitor channel.
type AttemptEvent struct {
	Type      string       `json:"type"`
	SessionID uuid.UUID    `json:"sessionId"`
	TakerID   int          `json:"takerId"`
	State     AttemptState `json:"state"`
	At        time.Time    `json:"at"`
}

const (
	EventAttemptStarted   = "attempt_started"
	EventAttemptSubmitted = "attempt_submitted"
	EventAttemptExpired   = "attempt_expired"
)

// StartAttemptRequest is the payload for starting (or resuming) an attempt.
type StartAttemptRequest struct {
	ActivityID string `json:"activityId" binding:"required,uuid"`
	TakerID    *int   `json:"takerId" binding:"omitempty,min=1"`
}

// StartAttemptResponse carries everything a client timer needs.
type StartAttemptResponse struct {
	SessionID        uuid.UUID    `json:"sessionId"`
	StartTime        time.Time    `json:"startTime"`
	EndTime          time.Time    `json:"endTime"`
	ServerTime       time.Time    `json:"serverTime"`
	State            AttemptState `json:"state"`
	TimeLimitSeconds int          `json:"timeLimitSeconds"`
}

// SubmitAttemptRequest is the final submission.
type SubmitAttemptRequest struct {
	Answers []Answer `json:"answers" binding:"max=500,dive"`
}

// SaveAnswersRequest replaces the autosaved draft.
type SaveAnswersRequest struct {
	Answers []Answer `json:"answers" binding:"max=500,dive"`
}

// SubmitAttemptResponse acknowledges a finalized attempt.
type SubmitAttemptResponse struct {
	SessionID   uuid.UUID    `json:"sessionId"`
	Status      AttemptState `json:"status"`
	SubmittedAt *time.Time   `json:"submittedAt,omitempty"`
	Score       *float64     `json:"score,omitempty"`
	Late        bool         `json:"late"`
}

// AttemptStateResponse is returned when a client reloads an attempt.
type AttemptStateResponse struct {
	SessionID        uuid.UUID    `json:"sessionId"`
	ActivityID       uuid.UUID    `json:"activityId"`
	State            AttemptState `json:"state"`
	StartTime        time.Time    `json:"startTime"`
	EndTime          time.Time    `json:"endTime"`
	ServerTime       time.Time    `json:"serverTime"`
	RemainingSeconds float64      `json:"remainingSeconds"`
	SubmittedAt      *time.Time   `json:"submittedAt,omitempty"`
	Answers          []Answer     `json:"answers"`
	Score            *float64     `json:"score,omitempty"`
}
