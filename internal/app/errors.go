package app

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidInput indicates a request that failed validation or a
	// security check.
	ErrInvalidInput = errors.New("invalid input")
	// ErrForbidden indicates the caller does not own the session.
	ErrForbidden       = errors.New("forbidden")
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
	// ErrAnswerFailed indicates the model call failed after the user
	// message was persisted. The failure is recorded in the error audit.
	ErrAnswerFailed = errors.New("answer generation failed")
)

// RateLimitedError reports quota exhaustion with a retry hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}
