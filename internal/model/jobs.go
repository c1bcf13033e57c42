package model

import "github.com/google/uuid"

// DraftJob asks the autosave worker to persist a session's draft. Version
// increases with every save of the session; an older draft never replaces a
// newer one, whatever order the jobs are processed in.
type DraftJob struct {
	SessionID uuid.UUID `json:"session_id"`
	Version   int64     `json:"version"`
	Answers   []Answer  `json:"answers"`
}

// ScoreJob asks the scoring worker to grade a submitted session.
type ScoreJob struct {
	SessionID uuid.UUID `json:"session_id"`
}
