package jmapi

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for upstream failure classification.
// Use errors.Is(err, jmapi.ErrUnauthorized) to check.
var (
	ErrUnauthorized = errors.New("jmapi: unauthorized")
	ErrBadRequest   = errors.New("jmapi: bad request")
	ErrThrottled    = errors.New("jmapi: throttled")
	ErrServerError  = errors.New("jmapi: server error")
	ErrRejected     = errors.New("jmapi: request rejected")
)

// APIError wraps a sentinel error with the HTTP status code and the
// upstream error message, when one was returned.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("jmapi: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("jmapi: HTTP %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}
		if code >= 300 {
			return ErrRejected
		}
		return nil
	}
}
