package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/attempt-service/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionSync     Action = "sync"
	ActionPing     Action = "ping"
)

// Request is any client message. Answers is only read by autosave and submit.
type Request struct {
	Action  Action         `json:"action"`
	Answers []model.Answer `json:"answers,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventSubmitted Event = "submitted"
	EventSync      Event = "sync"
	EventPong      Event = "pong"
)

type SavedResponse struct {
	Event      Event     `json:"event"`
	Saved      int       `json:"saved"`
	ServerTime time.Time `json:"serverTime"`
}

type SubmittedResponse struct {
	Event       Event              `json:"event"`
	SessionID   uuid.UUID          `json:"sessionId"`
	Status      model.AttemptState `json:"status"`
	SubmittedAt *time.Time         `json:"submittedAt,omitempty"`
	Late        bool               `json:"late"`
}

// SyncResponse lets the client re-derive its clock offset mid-attempt.
type SyncResponse struct {
	Event            Event              `json:"event"`
	State            model.AttemptState `json:"state"`
	EndTime          time.Time          `json:"endTime"`
	ServerTime       time.Time          `json:"serverTime"`
	RemainingSeconds float64            `json:"remainingSeconds"`
}

// ErrorResponse carries the same codes as the HTTP API.
type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
