package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Activity is a gradable, time-boxed entity such as an assignment or quiz.
type Activity struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	AuthorID         int        `json:"authorId"`
	TimeLimitSeconds int        `json:"timeLimitSeconds"`
	Questions        []Question `json:"questions,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Question belongs to an activity. AnswerKey is never sent to takers.
type Question struct {
	ID        string `json:"id" binding:"required,notblank,max=128"`
	Prompt    string `json:"prompt" binding:"required,max=5000"`
	AnswerKey string `json:"answerKey,omitempty" binding:"max=10000"`
	Points    int    `json:"points" binding:"omitempty,min=0,max=1000"`
	OrderNum  int    `json:"orderNum"`
}

// AnswerKey maps question id to its expected response and weight.
type AnswerKey map[string]KeyEntry

// KeyEntry is a single expected response.
type KeyEntry struct {
	Response string
	Points   int
}

// Score grades answers against the key as a 0-100 percentage of points.
// Comparison ignores surrounding whitespace and case. Questions without an
// expected response are not graded.
func (k AnswerKey) Score(answers []Answer) float64 {
	given := make(map[string]string, len(answers))
	for _, a := range answers {
		given[a.QuestionID] = a.Response
	}

	var earned, total int
	for qID, entry := range k {
		if entry.Response == "" {
			continue
		}
		points := entry.Points
		if points <= 0 {
			points = 1
		}
		total += points
		if resp, ok := given[qID]; ok && strings.EqualFold(strings.TrimSpace(resp), strings.TrimSpace(entry.Response)) {
			earned += points
		}
	}
	if total == 0 {
		return 0
	}
	return float64(earned) / float64(total) * 100
}

// CreateActivityRequest is the payload for creating a new activity.
type CreateActivityRequest struct {
	Title            string     `json:"title" binding:"required,min=3,max=255"`
	TimeLimitSeconds int        `json:"timeLimitSeconds" binding:"required,min=1,max=86400"`
	Questions        []Question `json:"questions" binding:"max=500,dive"`
}

// UpdateActivityRequest is the payload for updating an existing activity.
// Changing the time limit only affects attempts started afterwards.
type UpdateActivityRequest struct {
	Title            *string `json:"title" binding:"omitempty,min=3,max=255"`
	TimeLimitSeconds *int    `json:"timeLimitSeconds" binding:"omitempty,min=1,max=86400"`
}

// AttemptSummary is one row of an activity's attempt listing.
type AttemptSummary struct {
	SessionID   uuid.UUID    `json:"sessionId"`
	TakerID     int          `json:"takerId"`
	State       AttemptState `json:"state"`
	StartedAt   time.Time    `json:"startTime"`
	Deadline    time.Time    `json:"endTime"`
	SubmittedAt *time.Time   `json:"submittedAt,omitempty"`
	Score       *float64     `json:"score,omitempty"`
}
