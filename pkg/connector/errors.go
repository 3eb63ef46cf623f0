// Copyright 2024-2026 Aiku AI

package connector

import (
	"errors"
	"net/http"
)

var (
	ErrNoSession    = errors.New("no active session")
	ErrNotOpen      = errors.New("session is not open")
	ErrTerminal     = errors.New("connection is closed permanently, restart required")
	ErrUnknownGroup = errors.New("unknown group id")

	errAttemptAbandoned = errors.New("connection attempt abandoned after shutdown")
)

// ErrorKind is the stable, machine-readable class of an API failure. It is
// sent in the X-Relay-Error response header.
type ErrorKind string

const (
	KindInvalidRequest ErrorKind = "invalid_request"
	KindUnknownGroup   ErrorKind = "unknown_group"
	KindNoSession      ErrorKind = "no_session"
	KindSendFailed     ErrorKind = "send_failed"
	KindInternal       ErrorKind = "internal"
)

// ErrorKindHeader carries the ErrorKind of a failed request.
const ErrorKindHeader = "X-Relay-Error"

// HTTPStatus returns the response code used for the kind.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest, KindUnknownGroup, KindNoSession:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
