// Package api is the REST client for the Remote Session Store. It owns
// the transport error taxonomy; callers branch with errors.As on the
// typed errors below instead of inspecting status codes.
package api

import (
	"errors"
	"fmt"
	"net/http"
)

// NetworkError means the request never produced a usable response
// (dial failure, timeout, connection reset). The transport error is wrapped.
type NetworkError struct {
	Op  string // e.g. "GET /sessions"
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("api: %s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NotFoundError means the backend no longer recognizes the target id.
type NotFoundError struct {
	Resource string // "session" or "alert"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("api: %s %q not found", e.Resource, e.ID)
}

// ValidationError means the backend rejected a malformed request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "api: validation failed: " + e.Message
}

// AuthError means the caller's token is invalid or expired. Distinct
// from a domain Session being terminated. Err carries the cause when
// the error was raised locally (e.g. ErrTokenExpired).
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return "api: auth: " + e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// errorBody is the backend's JSON error envelope.
type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// statusToError maps a non-2xx response to the taxonomy. resource and id
// describe the target for not-found mapping; id may be empty for
// collection endpoints.
func statusToError(status int, body errorBody, resource, id string) error {
	msg := body.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusNotFound:
		return &NotFoundError{Resource: resource, ID: id}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Message: msg}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &ValidationError{Message: msg}
	default:
		return fmt.Errorf("api: unexpected status %d: %s", status, msg)
	}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsNetwork reports whether err is a NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
