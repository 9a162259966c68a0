package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Status codes returned by store clients.
const (
	StatusOK                 = http.StatusOK
	StatusCreated            = http.StatusCreated
	StatusNoContent          = http.StatusNoContent
	StatusBadRequest         = http.StatusBadRequest
	StatusForbidden          = http.StatusForbidden
	StatusNotFound           = http.StatusNotFound
	StatusRequestTimeout     = http.StatusRequestTimeout
	StatusConflict           = http.StatusConflict
	StatusGone               = http.StatusGone
	StatusPreconditionFailed = http.StatusPreconditionFailed
	StatusUnprocessable      = http.StatusUnprocessableEntity
	StatusTooManyRequests    = http.StatusTooManyRequests
	StatusRetryWith          = 449
	StatusInternal           = http.StatusInternalServerError
	StatusServiceUnavailable = http.StatusServiceUnavailable
)

// StoreError is a failed store call.
type StoreError struct {
	StatusCode int
	Code       string
	Message    string
	// RetryAfter is the server's back-off hint for throttled requests.
	RetryAfter time.Duration
	Err        error
}

// NewError builds a StoreError with a status code and formatted message.
func NewError(status int, format string, args ...any) *StoreError {
	return &StoreError{
		StatusCode: status,
		Code:       codeFor(status),
		Message:    fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store %d %s: %s: %v", e.StatusCode, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("store %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the call may succeed.
func (e *StoreError) Transient() bool {
	switch e.StatusCode {
	case StatusRequestTimeout, StatusGone, StatusTooManyRequests, StatusRetryWith,
		StatusInternal, StatusServiceUnavailable:
		return true
	}
	return false
}

func codeFor(status int) string {
	switch status {
	case StatusRetryWith:
		return "RetryWith"
	case StatusTooManyRequests:
		return "TooManyRequests"
	}
	text := http.StatusText(status)
	if text == "" {
		return "Unknown"
	}
	out := make([]rune, 0, len(text))
	for _, r := range text {
		if r != ' ' && r != '-' {
			out = append(out, r)
		}
	}
	return string(out)
}

// StatusOf returns the status code carried by err, or 0.
func StatusOf(err error) int {
	var se *StoreError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the store.
func IsNotFound(err error) bool { return StatusOf(err) == StatusNotFound }

// IsConflict reports whether err is a 409 from the store.
func IsConflict(err error) bool { return StatusOf(err) == StatusConflict }

// IsPreconditionFailed reports whether err is a 412 from the store.
func IsPreconditionFailed(err error) bool { return StatusOf(err) == StatusPreconditionFailed }

// IsTransient reports whether err is a store failure worth retrying.
// Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StoreError
	return errors.As(err, &se) && se.Transient()
}
