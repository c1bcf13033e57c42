package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/attempt-service/internal/model"
	"github.com/stemsi/attempt-service/internal/response"
	"github.com/stemsi/attempt-service/internal/service"
)

// failService maps a service error to its API code. data, when non-nil, is
// attached for terminal outcomes so clients can render the existing result.
func failService(c *gin.Context, log zerolog.Logger, err error, alreadySubmittedStatus int, data interface{}) {
	switch {
	case errors.Is(err, service.ErrAlreadySubmitted):
		response.FailWithData(c, alreadySubmittedStatus, response.ErrAlreadySubmitted, data)
	case errors.Is(err, service.ErrExpired):
		response.FailWithData(c, http.StatusGone, response.ErrAttemptExpired, data)
	case errors.Is(err, service.ErrNoAnswers):
		response.Fail(c, http.StatusBadRequest, response.ErrNoAnswers)
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrActivityNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrForbidden):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
	case errors.Is(err, service.ErrInvalidActivity):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"questions": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

func submitPayload(r *service.SubmitResult) interface{} {
	if r == nil {
		return nil
	}
	return model.SubmitAttemptResponse{
		SessionID:   r.SessionID,
		Status:      r.Status,
		SubmittedAt: r.SubmittedAt,
		Score:       r.Score,
		Late:        r.Late,
	}
}

func stateResponse(v *service.AttemptView) model.AttemptStateResponse {
	s := v.Session
	answers := s.Answers
	if answers == nil {
		answers = []model.Answer{}
	}
	return model.AttemptStateResponse{
		SessionID:        s.ID,
		ActivityID:       s.ActivityID,
		State:            v.State,
		StartTime:        s.StartedAt,
		EndTime:          s.Deadline,
		ServerTime:       v.ServerTime,
		RemainingSeconds: v.Remaining.Seconds(),
		SubmittedAt:      s.SubmittedAt,
		Answers:          answers,
		Score:            s.Score,
	}
}

// codeFor returns the API code for err, or ErrInternal when unknown.
func codeFor(err error) response.ErrCode {
	switch {
	case errors.Is(err, service.ErrAlreadySubmitted):
		return response.ErrAlreadySubmitted
	case errors.Is(err, service.ErrExpired):
		return response.ErrAttemptExpired
	case errors.Is(err, service.ErrNoAnswers):
		return response.ErrNoAnswers
	case errors.Is(err, service.ErrNotFound):
		return response.ErrNotFound
	case errors.Is(err, service.ErrForbidden):
		return response.ErrForbidden
	default:
		return response.ErrInternal
	}
}
