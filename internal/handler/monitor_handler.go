package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/attempt-service/internal/middleware"
	"github.com/stemsi/attempt-service/internal/model"
	"github.com/stemsi/attempt-service/internal/response"
	"github.com/stemsi/attempt-service/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second
)

// MonitorSource subscribes to an activity's attempt events.
type MonitorSource interface {
	Subscribe(ctx context.Context, activityID uuid.UUID) *redis.PubSub
}

// MonitorHandler streams live attempt events to lecturers over SSE.
type MonitorHandler struct {
	source     MonitorSource
	activities *service.ActivityService
	log        zerolog.Logger
}

func NewMonitorHandler(source MonitorSource, activities *service.ActivityService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		source:     source,
		activities: activities,
		log:        log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorActivitySSE godoc
// GET /api/v1/admin/activities/:id/monitor
func (h *MonitorHandler) MonitorActivitySSE(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	activityID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	reqCtx := c.Request.Context()

	// Also authorizes the caller for this activity.
	counts, err := h.activities.StateCounts(reqCtx, activityID, claims)
	if err != nil {
		failService(c, h.log, err, http.StatusConflict, nil)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendCounts(c, "snapshot", counts)

	pubsub := h.source.Subscribe(reqCtx, activityID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	refresh := time.NewTicker(refreshInterval)
	defer refresh.Stop()

	dirty := false
	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	h.log.Info().Str("activity_id", activityID.String()).Int("user_id", claims.UserID).Msg("Monitor attached")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("activity_id", activityID.String()).Msg("Monitor detached")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Events are already JSON; forward as-is.
			c.Writer.Write([]byte("data: "))
			c.Writer.Write([]byte(msg.Payload))
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
			dirty = true

		case <-refresh.C:
			if !dirty {
				continue
			}
			dirty = false
			h.sendRefresh(c, reqCtx, activityID, claims)

		case <-keepAlive.C:
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(pingPayload)
			c.Writer.Write([]byte("\n\n"))
			c.Writer.Flush()
		}
	}
}

func (h *MonitorHandler) sendRefresh(c *gin.Context, parent context.Context, activityID uuid.UUID, claims *service.Claims) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	counts, err := h.activities.StateCounts(ctx, activityID, claims)
	if err != nil {
		h.log.Warn().Err(err).Str("activity_id", activityID.String()).Msg("Monitor refresh failed")
		return
	}
	h.sendCounts(c, "refresh", counts)
}

func (h *MonitorHandler) sendCounts(c *gin.Context, kind string, counts map[model.AttemptState]int) {
	c.SSEvent("message", gin.H{
		"type": kind,
		"stats": gin.H{
			"in_progress": counts[model.AttemptStateInProgress],
			"submitted":   counts[model.AttemptStateSubmitted],
			"expired":     counts[model.AttemptStateExpired],
		},
	})
	c.Writer.Flush()
}
