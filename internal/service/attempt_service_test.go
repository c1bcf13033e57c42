package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/attempt-service/internal/config"
	"github.com/stemsi/attempt-service/internal/model"
	"github.com/stemsi/attempt-service/internal/service"
	"github.com/stemsi/attempt-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc        *service.AttemptService
	store      *testutil.SessionStore
	activities *testutil.ActivityStore
	cache      *testutil.Cache
	clock      *testutil.Clock
	activityID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      testutil.NewSessionStore(),
		activities: testutil.NewActivityStore(),
		cache:      testutil.NewCache(),
		clock:      testutil.NewClock(t0),
	}
	f.activityID = f.activities.Add(model.Activity{Title: "Quiz 1", AuthorID: 7, TimeLimitSeconds: 600})
	f.svc = service.NewAttemptService(
		f.store, f.activities, f.cache, f.cache, f.cache,
		5*time.Second, zerolog.Nop(), service.WithClock(f.clock.Now),
	)
	return f
}

func answers(q, r string) []model.Answer {
	return []model.Answer{{QuestionID: q, Response: r}}
}

func TestStart_CreatesSessionWithDeadline(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Start(context.Background(), f.activityID, 42)
	require.NoError(t, err)

	assert.False(t, res.Resumed)
	assert.Equal(t, model.AttemptStateInProgress, res.Session.State)
	assert.Equal(t, t0, res.Session.StartedAt)
	assert.Equal(t, t0.Add(600*time.Second), res.Session.Deadline)
	assert.Equal(t, t0, res.ServerTime)
	assert.Equal(t, []string{model.EventAttemptStarted}, f.cache.EventTypes())
}

func TestStart_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	second, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)

	assert.True(t, second.Resumed)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, first.Session.Deadline, second.Session.Deadline)
	assert.Equal(t, 1, f.store.Count())
}

func TestStart_ConcurrentCallsShareOneSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Start(ctx, f.activityID, 42)
			if assert.NoError(t, err) {
				ids[i] = res.Session.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, f.store.Count())
}

func TestStart_UnknownActivity(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Start(context.Background(), uuid.New(), 42)
	assert.ErrorIs(t, err, service.ErrActivityNotFound)
	assert.Equal(t, 0, f.store.Count())
}

func TestStart_AfterSubmitIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, res.Session.ID, 42, answers("q1", "4"))
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, f.activityID, 42)
	assert.ErrorIs(t, err, service.ErrAlreadySubmitted)
	assert.Equal(t, 1, f.store.Count())
}

func TestStart_ExpiredAttemptConsumesTheAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)

	f.clock.Advance(606 * time.Second)
	_, err = f.svc.Start(ctx, f.activityID, 42)
	assert.ErrorIs(t, err, service.ErrExpired)
	assert.Equal(t, model.AttemptStateExpired, f.store.Stored(res.Session.ID).State)

	_, err = f.svc.Start(ctx, f.activityID, 42)
	assert.ErrorIs(t, err, service.ErrExpired)
	assert.Equal(t, 1, f.store.Count())
}

func TestStart_OtherTakersAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Start(ctx, f.activityID, 1)
	require.NoError(t, err)
	b, err := f.svc.Start(ctx, f.activityID, 2)
	require.NoError(t, err)

	assert.NotEqual(t, a.Session.ID, b.Session.ID)
}

func TestDeadlineIgnoresLaterTimeLimitEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)

	limit := 60
	_, err = f.activities.UpdateDetails(ctx, f.activityID, nil, &limit)
	require.NoError(t, err)

	view, err := f.svc.Get(ctx, res.Session.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(600*time.Second), view.Session.Deadline)

	again, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(600*time.Second), again.Session.Deadline)
}

func TestGet_ReportsExpiryLazily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)

	f.clock.Set(t0.Add(601 * time.Second))
	view, err := f.svc.Get(ctx, res.Session.ID, 42)
	require.NoError(t, err)

	assert.Equal(t, model.AttemptStateExpired, view.State)
	assert.Zero(t, view.Remaining)
	// Reads never write.
	assert.Equal(t, model.AttemptStateInProgress, f.store.Stored(res.Session.ID).State)
}

func TestGet_SubmittedWinsOverDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, res.Session.ID, 42, answers("q1", "x"))
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	view, err := f.svc.Get(ctx, res.Session.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStateSubmitted, view.State)
}

func TestGet_RemainingAndDraftOverlay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)

	f.clock.Advance(100 * time.Second)
	require.NoError(t, f.svc.SaveAnswers(ctx, res.Session.ID, 42, answers("q1", "draft")))

	view, err := f.svc.Get(ctx, res.Session.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Second, view.Remaining)
	assert.Equal(t, answers("q1", "draft"), view.Session.Answers)
}

func TestGet_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, uuid.New(), 42)
	assert.ErrorIs(t, err, service.ErrNotFound)

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, res.Session.ID, 43)
	assert.ErrorIs(t, err, service.ErrForbidden)
}

func TestSaveAnswers_QueuesDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)

	require.NoError(t, f.svc.SaveAnswers(ctx, res.Session.ID, 42, answers("q1", "a")))
	require.Equal(t, 1, f.cache.JobCount(config.WorkerKey.PersistDraftsQueue))

	job := f.cache.Jobs[config.WorkerKey.PersistDraftsQueue][0].(model.DraftJob)
	assert.Equal(t, res.Session.ID, job.SessionID)
	assert.Equal(t, answers("q1", "a"), job.Answers)
}

func TestSaveAnswers_RejectedAfterGraceAndSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)

	f.clock.Set(t0.Add(606 * time.Second))
	assert.ErrorIs(t, f.svc.SaveAnswers(ctx, res.Session.ID, 42, answers("q1", "a")), service.ErrExpired)

	g := newFixture(t)
	res, err = g.svc.Start(ctx, g.activityID, 42)
	require.NoError(t, err)
	_, err = g.svc.Submit(ctx, res.Session.ID, 42, answers("q1", "a"))
	require.NoError(t, err)
	assert.ErrorIs(t, g.svc.SaveAnswers(ctx, res.Session.ID, 42, answers("q1", "b")), service.ErrAlreadySubmitted)
}

func TestSubmit_WithinTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)

	f.clock.Set(t0.Add(580 * time.Second))
	out, err := f.svc.Submit(ctx, res.Session.ID, 42, answers("q1", "42"))
	require.NoError(t, err)

	assert.Equal(t, model.AttemptStateSubmitted, out.Status)
	assert.False(t, out.Late)
	require.NotNil(t, out.SubmittedAt)
	assert.Equal(t, t0.Add(580*time.Second), *out.SubmittedAt)

	stored := f.store.Stored(res.Session.ID)
	assert.Equal(t, model.AttemptStateSubmitted, stored.State)
	assert.Equal(t, answers("q1", "42"), stored.Answers)
	assert.Equal(t, 1, f.cache.JobCount(config.WorkerKey.ScoreAttemptsQueue))
	assert.Contains(t, f.cache.EventTypes(), model.EventAttemptSubmitted)
}

func TestSubmit_SecondSubmitKeepsFirstAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)

	f.clock.Set(t0.Add(580 * time.Second))
	_, err = f.svc.Submit(ctx, res.Session.ID, 42, answers("q1", "first"))
	require.NoError(t, err)

	f.clock.Set(t0.Add(590 * time.Second))
	out, err := f.svc.Submit(ctx, res.Session.ID, 42, answers("q1", "second"))
	assert.ErrorIs(t, err, service.ErrAlreadySubmitted)
	require.NotNil(t, out)
	assert.Equal(t, model.AttemptStateSubmitted, out.Status)

	assert.Equal(t, answers("q1", "first"), f.store.Stored(res.Session.ID).Answers)
}

func TestSubmit_ConcurrentSubmitsFinalizeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)

	payloads := [][]model.Answer{answers("q1", "left"), answers("q1", "right")}
	errs := make([]error, len(payloads))
	var wg sync.WaitGroup
	for i, p := range payloads {
		wg.Add(1)
		go func(i int, p []model.Answer) {
			defer wg.Done()
			_, errs[i] = f.svc.Submit(ctx, res.Session.ID, 42, p)
		}(i, p)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, service.ErrAlreadySubmitted):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)

	stored := f.store.Stored(res.Session.ID)
	assert.Equal(t, model.AttemptStateSubmitted, stored.State)
	assert.Contains(t, payloads, stored.Answers)
	assert.Equal(t, 1, f.cache.JobCount(config.WorkerKey.ScoreAttemptsQueue))
}

func TestSubmit_AcceptedWithinGrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)

	f.clock.Set(t0.Add(603 * time.Second))
	out, err := f.svc.Submit(ctx, res.Session.ID, 42, answers("q1", "x"))
	require.NoError(t, err)
	assert.True(t, out.Late)
}

func TestGraceWindow_GetReportsExpiredWhileSubmitStillLands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)

	f.clock.Set(t0.Add(602 * time.Second))
	view, err := f.svc.Get(ctx, res.Session.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStateExpired, view.State)

	out, err := f.svc.Submit(ctx, res.Session.ID, 42, answers("q1", "x"))
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStateSubmitted, out.Status)
	assert.True(t, out.Late)

	view, err = f.svc.Get(ctx, res.Session.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStateSubmitted, view.State)
}

func TestSubmit_PastGraceExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)
	require.NoError(t, f.svc.SaveAnswers(ctx, res.Session.ID, 42, answers("q1", "draft")))

	f.clock.Set(t0.Add(606 * time.Second))
	out, err := f.svc.Submit(ctx, res.Session.ID, 42, answers("q1", "late"))
	assert.ErrorIs(t, err, service.ErrExpired)
	require.NotNil(t, out)
	assert.Equal(t, model.AttemptStateExpired, out.Status)

	stored := f.store.Stored(res.Session.ID)
	assert.Equal(t, model.AttemptStateExpired, stored.State)
	assert.Nil(t, stored.SubmittedAt)
	assert.Equal(t, answers("q1", "draft"), stored.Answers)
	assert.Zero(t, f.cache.JobCount(config.WorkerKey.ScoreAttemptsQueue))

	_, err = f.svc.Submit(ctx, res.Session.ID, 42, answers("q1", "again"))
	assert.ErrorIs(t, err, service.ErrExpired)
}

func TestSubmit_ExpiryLongAfterGraceKeepsCachedDraft(t *testing.T) {
	f := newFixture(t)
	f.cache.Now = f.clock.Now
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)
	f.clock.Set(t0.Add(590 * time.Second))
	require.NoError(t, f.svc.SaveAnswers(ctx, res.Session.ID, 42, answers("q1", "last draft")))

	// No autosave worker ran, so only the cached draft holds the answers.
	f.clock.Set(t0.Add(30 * time.Minute))
	_, err = f.svc.Submit(ctx, res.Session.ID, 42, answers("q1", "too late"))
	assert.ErrorIs(t, err, service.ErrExpired)

	stored := f.store.Stored(res.Session.ID)
	assert.Equal(t, model.AttemptStateExpired, stored.State)
	assert.Equal(t, answers("q1", "last draft"), stored.Answers)
}

func TestSaveAnswers_VersionsIncrease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)
	// Same clock reading twice: the second draft must still be newer.
	require.NoError(t, f.svc.SaveAnswers(ctx, res.Session.ID, 42, answers("q1", "a")))
	require.NoError(t, f.svc.SaveAnswers(ctx, res.Session.ID, 42, answers("q1", "b")))

	jobs := f.cache.Jobs[config.WorkerKey.PersistDraftsQueue]
	require.Len(t, jobs, 2)
	first, second := jobs[0].(model.DraftJob), jobs[1].(model.DraftJob)
	assert.Positive(t, first.Version)
	assert.Greater(t, second.Version, first.Version)
}

func TestSubmit_BlankAnswersRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, res.Session.ID, 42, answers("q1", ""))
	assert.ErrorIs(t, err, service.ErrNoAnswers)
	_, err = f.svc.Submit(ctx, res.Session.ID, 42, nil)
	assert.ErrorIs(t, err, service.ErrNoAnswers)

	assert.Equal(t, model.AttemptStateInProgress, f.store.Stored(res.Session.ID).State)

	_, err = f.svc.Submit(ctx, res.Session.ID, 42, answers("q1", "now"))
	assert.NoError(t, err)
}

func TestSubmit_ExpiryCheckedBeforeBlankAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)

	f.clock.Set(t0.Add(700 * time.Second))
	_, err = f.svc.Submit(ctx, res.Session.ID, 42, answers("q1", ""))
	assert.ErrorIs(t, err, service.ErrExpired)
}

func TestSubmit_UnknownAndForeignSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, uuid.New(), 42, answers("q1", "x"))
	assert.ErrorIs(t, err, service.ErrNotFound)

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, res.Session.ID, 99, answers("q1", "x"))
	assert.ErrorIs(t, err, service.ErrForbidden)
	assert.Equal(t, model.AttemptStateInProgress, f.store.Stored(res.Session.ID).State)
}

func TestSubmit_StoreFailureIsWrapped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Start(ctx, f.activityID, 42)
	require.NoError(t, err)

	boom := errors.New("connection reset")
	f.store.Err = boom
	_, err = f.svc.Submit(ctx, res.Session.ID, 42, answers("q1", "x"))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, service.ErrNotFound)
}
