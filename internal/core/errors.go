package core

import (
	"errors"

	"github.com/vovakirdan/cinemate-server/internal/store"
)

// Error codes sent to clients in error events.
const (
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeBadRequest   = "bad_request"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInternal     = "internal"
)

var (
	ErrNotFound     = &Error{Code: ErrCodeNotFound, Message: "not found"}
	ErrUnauthorized = &Error{Code: ErrCodeUnauthorized, Message: "unauthorized"}
	ErrBadRequest   = &Error{Code: ErrCodeBadRequest, Message: "bad request"}
	ErrRateLimited  = &Error{Code: ErrCodeRateLimited, Message: "rate limited"}
)

// Error wraps a code and human-readable message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func coreError(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func badRequest(msg string) *Error   { return coreError(ErrCodeBadRequest, msg) }
func unauthorized(msg string) *Error { return coreError(ErrCodeUnauthorized, msg) }

// notFoundOr converts store.ErrNotFound to a not_found error carrying msg
// and returns any other error unchanged.
func notFoundOr(err error, msg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return coreError(ErrCodeNotFound, msg)
	}
	return err
}
