package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced at the service boundary. Handlers translate them to HTTP status codes.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
)

// Error is a classified failure with an OAuth style error code and a detail message.
type Error struct {
	Kind   error
	Code   string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// BadRequest reports malformed input.
func BadRequest(code, detail string) error {
	return &Error{Kind: ErrBadRequest, Code: code, Detail: detail}
}

// Unauthorized reports bad credentials or an unusable token or code.
func Unauthorized(code, detail string) error {
	return &Error{Kind: ErrUnauthorized, Code: code, Detail: detail}
}

// Conflict reports a duplicate registration.
func Conflict(code, detail string) error {
	return &Error{Kind: ErrConflict, Code: code, Detail: detail}
}

// NotFound reports an unknown client, user or account.
func NotFound(code, detail string) error {
	return &Error{Kind: ErrNotFound, Code: code, Detail: detail}
}

// AsError extracts the classified error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
