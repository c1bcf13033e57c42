package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/attempt-service/internal/middleware"
	"github.com/stemsi/attempt-service/internal/model"
	"github.com/stemsi/attempt-service/internal/service"
	"github.com/stemsi/attempt-service/internal/testutil"
	ws "github.com/stemsi/attempt-service/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stallingCache holds SaveDraft until its context ends.
type stallingCache struct {
	*testutil.Cache
	entered chan struct{}
	result  chan error
}

func (c *stallingCache) SaveDraft(ctx context.Context, _ uuid.UUID, _ []model.Answer, _ time.Time, _ time.Duration) (int64, error) {
	close(c.entered)
	<-ctx.Done()
	c.result <- ctx.Err()
	return 0, ctx.Err()
}

func streamServer(t *testing.T, svc *service.AttemptService, takerID int) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := NewWSHandler(svc, zerolog.Nop(), nil)
	r := gin.New()
	r.GET("/stream/:session_id", func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{UserID: takerID, Role: model.RoleStudent})
		c.Next()
	}, h.AttemptStream)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, sessionID uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream/" + sessionID.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestAttemptStreamCancelsActionsOnDisconnect(t *testing.T) {
	activities := testutil.NewActivityStore()
	activityID := activities.Add(model.Activity{Title: "Quiz", AuthorID: 7, TimeLimitSeconds: 600})
	cache := &stallingCache{
		Cache:   testutil.NewCache(),
		entered: make(chan struct{}),
		result:  make(chan error, 1),
	}
	svc := service.NewAttemptService(testutil.NewSessionStore(), activities, cache, cache, cache, 5*time.Second, zerolog.Nop())

	started, err := svc.Start(context.Background(), activityID, 42)
	require.NoError(t, err)

	conn := dial(t, streamServer(t, svc, 42), started.Session.ID)
	require.NoError(t, conn.WriteJSON(ws.Request{
		Action:  ws.ActionAutosave,
		Answers: []model.Answer{{QuestionID: "q1", Response: "a"}},
	}))

	select {
	case <-cache.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("autosave never reached the cache")
	}
	require.NoError(t, conn.Close())

	select {
	case err := <-cache.result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("autosave kept running after the taker disconnected")
	}
}

func TestAttemptStreamSyncAndSubmit(t *testing.T) {
	activities := testutil.NewActivityStore()
	activityID := activities.Add(model.Activity{Title: "Quiz", AuthorID: 7, TimeLimitSeconds: 600})
	cache := testutil.NewCache()
	svc := service.NewAttemptService(testutil.NewSessionStore(), activities, cache, cache, cache, 5*time.Second, zerolog.Nop())

	started, err := svc.Start(context.Background(), activityID, 42)
	require.NoError(t, err)

	conn := dial(t, streamServer(t, svc, 42), started.Session.ID)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ws.Request{Action: ws.ActionSync}))
	var sync ws.SyncResponse
	require.NoError(t, conn.ReadJSON(&sync))
	assert.Equal(t, ws.EventSync, sync.Event)
	assert.Equal(t, model.AttemptStateInProgress, sync.State)
	assert.True(t, sync.EndTime.Equal(started.Session.Deadline))

	require.NoError(t, conn.WriteJSON(ws.Request{
		Action:  ws.ActionSubmit,
		Answers: []model.Answer{{QuestionID: "q1", Response: "done"}},
	}))
	var submitted ws.SubmittedResponse
	require.NoError(t, conn.ReadJSON(&submitted))
	assert.Equal(t, ws.EventSubmitted, submitted.Event)
	assert.Equal(t, model.AttemptStateSubmitted, submitted.Status)
}
