package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/attempt-service/internal/model"
	"github.com/stemsi/attempt-service/internal/repository"
)

// ActivityStore persists activities and their questions.
type ActivityStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Activity, error)
	GetWithQuestions(ctx context.Context, id uuid.UUID) (*model.Activity, error)
	Create(ctx context.Context, a *model.Activity) error
	UpdateDetails(ctx context.Context, id uuid.UUID, title *string, timeLimitSeconds *int) (*model.Activity, error)
}

// AttemptLister reads attempts for lecturer dashboards.
type AttemptLister interface {
	ListByActivity(ctx context.Context, activityID uuid.UUID, page, perPage int) ([]model.AttemptSummary, int64, error)
	CountByState(ctx context.Context, activityID uuid.UUID) (map[model.AttemptState]int, error)
}

// ActivityService handles activity management for lecturers and admins.
type ActivityService struct {
	activities ActivityStore
	attempts   AttemptLister
	log        zerolog.Logger
}

// NewActivityService creates a new ActivityService.
func NewActivityService(activities ActivityStore, attempts AttemptLister, log zerolog.Logger) *ActivityService {
	return &ActivityService{
		activities: activities,
		attempts:   attempts,
		log:        log.With().Str("component", "activity_service").Logger(),
	}
}

// Create stores a new activity authored by authorID.
func (s *ActivityService) Create(ctx context.Context, authorID int, req *model.CreateActivityRequest) (*model.Activity, error) {
	seen := make(map[string]struct{}, len(req.Questions))
	questions := make([]model.Question, 0, len(req.Questions))
	for i, q := range req.Questions {
		q.ID = strings.TrimSpace(q.ID)
		if _, dup := seen[q.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate question id %q", ErrInvalidActivity, q.ID)
		}
		seen[q.ID] = struct{}{}
		if q.Points == 0 {
			q.Points = 1
		}
		q.OrderNum = i + 1
		questions = append(questions, q)
	}

	a := &model.Activity{
		Title:            strings.TrimSpace(req.Title),
		AuthorID:         authorID,
		TimeLimitSeconds: req.TimeLimitSeconds,
		Questions:        questions,
	}
	if err := s.activities.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create activity: %w", err)
	}

	s.log.Info().
		Str("activity_id", a.ID.String()).
		Int("author_id", authorID).
		Int("time_limit_seconds", a.TimeLimitSeconds).
		Msg("Activity created")
	return a, nil
}

// Get returns an activity with questions if the caller may manage it.
func (s *ActivityService) Get(ctx context.Context, id uuid.UUID, claims *Claims) (*model.Activity, error) {
	a, err := s.activities.GetWithQuestions(ctx, id)
	if err != nil {
		return nil, mapActivityErr(err)
	}
	if !canManage(a, claims) {
		return nil, ErrForbidden
	}
	return a, nil
}

// Update edits title and time limit. Sessions already started keep the
// deadline computed from the limit they copied at start.
func (s *ActivityService) Update(ctx context.Context, id uuid.UUID, claims *Claims, req *model.UpdateActivityRequest) (*model.Activity, error) {
	if _, err := s.owned(ctx, id, claims); err != nil {
		return nil, err
	}

	if req.Title != nil {
		t := strings.TrimSpace(*req.Title)
		req.Title = &t
	}
	a, err := s.activities.UpdateDetails(ctx, id, req.Title, req.TimeLimitSeconds)
	if err != nil {
		return nil, mapActivityErr(err)
	}

	s.log.Info().
		Str("activity_id", id.String()).
		Int("time_limit_seconds", a.TimeLimitSeconds).
		Msg("Activity updated")
	return a, nil
}

// ListAttempts returns a page of attempts for an activity.
func (s *ActivityService) ListAttempts(ctx context.Context, id uuid.UUID, claims *Claims, page, perPage int) ([]model.AttemptSummary, int64, error) {
	if _, err := s.owned(ctx, id, claims); err != nil {
		return nil, 0, err
	}
	items, total, err := s.attempts.ListByActivity(ctx, id, page, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list attempts: %w", err)
	}
	if items == nil {
		items = []model.AttemptSummary{}
	}
	return items, total, nil
}

// StateCounts returns stored attempt counts per state, for the live monitor.
func (s *ActivityService) StateCounts(ctx context.Context, id uuid.UUID, claims *Claims) (map[model.AttemptState]int, error) {
	if _, err := s.owned(ctx, id, claims); err != nil {
		return nil, err
	}
	return s.attempts.CountByState(ctx, id)
}

func (s *ActivityService) owned(ctx context.Context, id uuid.UUID, claims *Claims) (*model.Activity, error) {
	a, err := s.activities.GetByID(ctx, id)
	if err != nil {
		return nil, mapActivityErr(err)
	}
	if !canManage(a, claims) {
		return nil, ErrForbidden
	}
	return a, nil
}

// canManage: admins manage everything, lecturers only what they authored.
func canManage(a *model.Activity, claims *Claims) bool {
	if claims == nil {
		return false
	}
	switch claims.Role {
	case model.RoleAdmin:
		return true
	case model.RoleLecturer:
		return a.AuthorID == claims.UserID
	}
	return false
}

func mapActivityErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrActivityNotFound
	}
	return fmt.Errorf("get activity: %w", err)
}
