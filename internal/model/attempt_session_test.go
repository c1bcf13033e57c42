package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewAttemptSessionDeadline(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	activity := &Activity{ID: uuid.New(), TimeLimitSeconds: 600}

	s := NewAttemptSession(activity, 7, t0)

	assert.Equal(t, t0.Add(600*time.Second), s.Deadline)
	assert.Equal(t, AttemptStateInProgress, s.State)
	assert.Equal(t, 600, s.TimeLimitSeconds)
	assert.NotNil(t, s.Answers)

	// Editing the activity afterwards must not move the deadline.
	activity.TimeLimitSeconds = 60
	assert.Equal(t, t0.Add(600*time.Second), s.Deadline)
}

func TestEffectiveState(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewAttemptSession(&Activity{ID: uuid.New(), TimeLimitSeconds: 600}, 1, t0)

	assert.Equal(t, AttemptStateInProgress, s.EffectiveState(t0.Add(600*time.Second)))
	assert.Equal(t, AttemptStateExpired, s.EffectiveState(t0.Add(601*time.Second)))

	s.State = AttemptStateSubmitted
	assert.Equal(t, AttemptStateSubmitted, s.EffectiveState(t0.Add(time.Hour)))
}

func TestRemainingAndWrites(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewAttemptSession(&Activity{ID: uuid.New(), TimeLimitSeconds: 60}, 1, t0)

	assert.Equal(t, 20*time.Second, s.Remaining(t0.Add(40*time.Second)))
	assert.Zero(t, s.Remaining(t0.Add(2*time.Minute)))

	grace := 5 * time.Second
	assert.True(t, s.AcceptsWritesAt(t0.Add(63*time.Second), grace))
	assert.False(t, s.AcceptsWritesAt(t0.Add(66*time.Second), grace))

	s.State = AttemptStateExpired
	assert.False(t, s.AcceptsWritesAt(t0, grace))
	assert.Zero(t, s.Remaining(t0))
}

func TestStateIsTerminal(t *testing.T) {
	assert.False(t, AttemptStateNotStarted.IsTerminal())
	assert.False(t, AttemptStateInProgress.IsTerminal())
	assert.True(t, AttemptStateSubmitted.IsTerminal())
	assert.True(t, AttemptStateExpired.IsTerminal())
}
