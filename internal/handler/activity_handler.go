package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/attempt-service/internal/middleware"
	"github.com/stemsi/attempt-service/internal/model"
	"github.com/stemsi/attempt-service/internal/response"
	"github.com/stemsi/attempt-service/internal/service"
	"github.com/stemsi/attempt-service/internal/validator"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// ActivityHandler handles activity management for lecturers and admins.
type ActivityHandler struct {
	activities *service.ActivityService
	log        zerolog.Logger
}

// NewActivityHandler creates a new ActivityHandler.
func NewActivityHandler(activities *service.ActivityService, log zerolog.Logger) *ActivityHandler {
	return &ActivityHandler{
		activities: activities,
		log:        log.With().Str("component", "activity_handler").Logger(),
	}
}

// CreateActivity godoc
// POST /api/v1/admin/activities
func (h *ActivityHandler) CreateActivity(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateActivityRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	a, err := h.activities.Create(c.Request.Context(), claims.UserID, &req)
	if err != nil {
		failService(c, h.log, err, http.StatusConflict, nil)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"activity": a})
}

// GetActivity godoc
// GET /api/v1/admin/activities/:id
func (h *ActivityHandler) GetActivity(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	a, err := h.activities.Get(c.Request.Context(), id, middleware.GetClaims(c))
	if err != nil {
		failService(c, h.log, err, http.StatusConflict, nil)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"activity": a})
}

// UpdateActivity godoc
// PATCH /api/v1/admin/activities/:id
// Running attempts keep their deadline.
func (h *ActivityHandler) UpdateActivity(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req model.UpdateActivityRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	a, err := h.activities.Update(c.Request.Context(), id, middleware.GetClaims(c), &req)
	if err != nil {
		failService(c, h.log, err, http.StatusConflict, nil)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"activity": a})
}

// ListAttempts godoc
// GET /api/v1/admin/activities/:id/attempts?page=1&per_page=20
func (h *ActivityHandler) ListAttempts(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}

	items, total, err := h.activities.ListAttempts(c.Request.Context(), id, middleware.GetClaims(c), page, perPage)
	if err != nil {
		failService(c, h.log, err, http.StatusConflict, nil)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"attempts": items}, response.NewPagination(page, perPage, total))
}

// ExportAttempts godoc
// GET /api/v1/admin/activities/:id/attempts/export
// Streams an xlsx workbook of every attempt.
func (h *ActivityHandler) ExportAttempts(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	f, err := h.activities.ExportAttempts(c.Request.Context(), id, middleware.GetClaims(c))
	if err != nil {
		failService(c, h.log, err, http.StatusConflict, nil)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="attempts-%s.xlsx"`, id))
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		h.log.Error().Err(err).Str("activity_id", id.String()).Msg("Export write failed")
	}
}
