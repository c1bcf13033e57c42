package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/attempt-service/internal/middleware"
	"github.com/stemsi/attempt-service/internal/model"
	"github.com/stemsi/attempt-service/internal/response"
	"github.com/stemsi/attempt-service/internal/service"
	ws "github.com/stemsi/attempt-service/internal/websocket"
)

const (
	maxWSAnswers  = 500
	submitTimeout = 10 * time.Second
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams an attempt over WebSocket: autosave, submit and clock sync.
type WSHandler struct {
	attempts *service.AttemptService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:session_id/stream?token=...
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := parseUUIDParam(c, "session_id")
	if !ok {
		return
	}

	// Reject before upgrading so plain HTTP clients see a normal error.
	if _, err := h.attempts.Get(c.Request.Context(), sessionID, claims.UserID); err != nil {
		failService(c, h.log, err, http.StatusConflict, nil)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("taker_id", claims.UserID).
		Str("session_id", sessionID.String()).
		Logger()
	wsLog.Info().Msg("Taker connected")

	// Bound to the connection: in-flight actions stop when the taker leaves.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	for msg := range h.readLoop(ctx, cancel, conn, wsLog) {
		if len(msg.Answers) > maxWSAnswers {
			ws.WriteError(conn, string(response.ErrValidation), "too many answers")
			continue
		}

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, wsLog, sessionID, claims.UserID, msg.Answers)
		case ws.ActionSubmit:
			if h.handleSubmit(ctx, conn, wsLog, sessionID, claims.UserID, msg.Answers) {
				return
			}
		case ws.ActionSync:
			h.handleSync(ctx, conn, wsLog, sessionID, claims.UserID)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
	}
}

// readLoop reads requests on its own goroutine so a disconnect is noticed
// while an action is still running. It cancels ctx when the connection ends.
func (h *WSHandler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, log zerolog.Logger) <-chan ws.Request {
	msgs := make(chan ws.Request)
	go func() {
		defer close(msgs)
		defer cancel()
		for {
			var msg ws.Request
			if err := ws.ReadJSON(conn, &msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Msg("Unexpected close")
				} else {
					log.Debug().Msg("Connection closed")
				}
				return
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return msgs
}

func (h *WSHandler) handleAutosave(ctx context.Context, conn *websocket.Conn, log zerolog.Logger, sessionID uuid.UUID, takerID int, answers []model.Answer) {
	for _, a := range answers {
		if strings.TrimSpace(a.QuestionID) == "" {
			ws.WriteError(conn, string(response.ErrValidation), "questionId is required")
			return
		}
	}

	if err := h.attempts.SaveAnswers(ctx, sessionID, takerID, answers); err != nil {
		h.writeServiceError(conn, log, err)
		return
	}
	ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, Saved: len(answers), ServerTime: h.attempts.Now()})
}

// handleSubmit reports whether the attempt is now terminal. A submission
// that was sent completes even if the taker disconnects meanwhile.
func (h *WSHandler) handleSubmit(ctx context.Context, conn *websocket.Conn, log zerolog.Logger, sessionID uuid.UUID, takerID int, answers []model.Answer) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), submitTimeout)
	defer cancel()

	res, err := h.attempts.Submit(ctx, sessionID, takerID, answers)
	if err != nil {
		h.writeServiceError(conn, log, err)
		return res != nil
	}

	ws.WriteTyped(conn, ws.SubmittedResponse{
		Event:       ws.EventSubmitted,
		SessionID:   res.SessionID,
		Status:      res.Status,
		SubmittedAt: res.SubmittedAt,
		Late:        res.Late,
	})
	return true
}

func (h *WSHandler) handleSync(ctx context.Context, conn *websocket.Conn, log zerolog.Logger, sessionID uuid.UUID, takerID int) {
	view, err := h.attempts.Get(ctx, sessionID, takerID)
	if err != nil {
		h.writeServiceError(conn, log, err)
		return
	}
	ws.WriteTyped(conn, ws.SyncResponse{
		Event:            ws.EventSync,
		State:            view.State,
		EndTime:          view.Session.Deadline,
		ServerTime:       view.ServerTime,
		RemainingSeconds: view.Remaining.Seconds(),
	})
}

func (h *WSHandler) writeServiceError(conn *websocket.Conn, log zerolog.Logger, err error) {
	code := codeFor(err)
	if code == response.ErrInternal {
		log.Error().Err(err).Msg("Attempt stream request failed")
	}
	ws.WriteError(conn, string(code), response.GetMessage(code))
}
