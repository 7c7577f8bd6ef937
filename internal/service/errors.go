package service

import (
	"errors"
)

// Relay error taxonomy. Handlers map these to status codes.
var (
	// ErrTransportUnavailable means the anonymizing transport is disabled or
	// not initialized. No network call was attempted.
	ErrTransportUnavailable = errors.New("anonymizing transport not initialized")

	// ErrInvalidRequest means the caller's relay description was malformed.
	ErrInvalidRequest = errors.New("invalid relay request")

	// ErrRelayExecution means the single outbound exchange failed.
	ErrRelayExecution = errors.New("relay request failed")
)

// InvalidRequestError carries the caller-facing reason for a rejected request.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string { return e.Reason }

// Is reports ErrInvalidRequest as a match.
func (e *InvalidRequestError) Is(target error) bool {
	return target == ErrInvalidRequest
}

func invalid(reason string) error {
	return &InvalidRequestError{Reason: reason}
}
