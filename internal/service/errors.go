package service

import "errors"

// Attempt protocol errors. Every Start/Submit call resolves to success or
// exactly one of these; callers compare with errors.Is.
var (
	// ErrNotFound: the session id is unknown. Not retried.
	ErrNotFound = errors.New("attempt not found")
	// ErrAlreadySubmitted: terminal and non-fatal. Clients should redirect to
	// the results view instead of showing a failure.
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	// ErrExpired: the deadline passed outside the grace window.
	ErrExpired = errors.New("attempt time has expired")
	// ErrNoAnswers: no answer carries a non-blank response. Recoverable.
	ErrNoAnswers = errors.New("submission has no answers")
)

var (
	ErrForbidden        = errors.New("access denied to attempt")
	ErrActivityNotFound = errors.New("activity not found")
	ErrInvalidActivity  = errors.New("invalid activity")
)

// Auth errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
)
