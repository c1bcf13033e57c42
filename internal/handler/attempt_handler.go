package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/attempt-service/internal/middleware"
	"github.com/stemsi/attempt-service/internal/model"
	"github.com/stemsi/attempt-service/internal/response"
	"github.com/stemsi/attempt-service/internal/service"
	"github.com/stemsi/attempt-service/internal/validator"
)

// AttemptHandler serves the taker-facing attempt lifecycle.
type AttemptHandler struct {
	attempts *service.AttemptService
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts *service.AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

// StartAttempt godoc
// POST /api/v1/attempts/start
// Starts an attempt or resumes the one in progress.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.StartAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if req.TakerID != nil && *req.TakerID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}
	activityID, err := uuid.Parse(req.ActivityID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	res, err := h.attempts.Start(c.Request.Context(), activityID, claims.UserID)
	if err != nil {
		failService(c, h.log, err, http.StatusForbidden, nil)
		return
	}

	s := res.Session
	response.Success(c, http.StatusOK, model.StartAttemptResponse{
		SessionID:        s.ID,
		StartTime:        s.StartedAt,
		EndTime:          s.Deadline,
		ServerTime:       res.ServerTime,
		State:            s.State,
		TimeLimitSeconds: s.TimeLimitSeconds,
	})
}

// SubmitAttempt godoc
// POST /api/v1/attempts/:session_id/submit
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := parseUUIDParam(c, "session_id")
	if !ok {
		return
	}

	var req model.SubmitAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.attempts.Submit(c.Request.Context(), sessionID, claims.UserID, req.Answers)
	if err != nil {
		failService(c, h.log, err, http.StatusConflict, submitPayload(res))
		return
	}

	response.Success(c, http.StatusOK, submitPayload(res))
}

// GetAttempt godoc
// GET /api/v1/attempts/:session_id
// Returns the attempt with its effective state and the server clock.
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := parseUUIDParam(c, "session_id")
	if !ok {
		return
	}

	view, err := h.attempts.Get(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failService(c, h.log, err, http.StatusConflict, nil)
		return
	}

	response.Success(c, http.StatusOK, stateResponse(view))
}

// SaveAnswers godoc
// PUT /api/v1/attempts/:session_id/answers
// Autosaves the current draft.
func (h *AttemptHandler) SaveAnswers(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := parseUUIDParam(c, "session_id")
	if !ok {
		return
	}

	var req model.SaveAnswersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attempts.SaveAnswers(c.Request.Context(), sessionID, claims.UserID, req.Answers); err != nil {
		failService(c, h.log, err, http.StatusConflict, nil)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"sessionId":  sessionID,
		"saved":      len(req.Answers),
		"serverTime": h.attempts.Now(),
	})
}
