// Package apperr defines the error taxonomy shared by handlers, the delivery
// pipeline, and the client SDK, with a mapping to HTTP status codes.
package apperr

import (
	"errors"
	"net"
	"net/http"
)

var (
	// ErrValidation covers missing required fields and malformed payloads.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound covers absent messages, conversations, and users.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized covers missing or invalid session credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden covers non-participant, non-admin, and non-sender actions.
	ErrForbidden = errors.New("forbidden")
	// ErrPolicy covers allowed actions attempted outside their policy window
	// (delete-for-everyone past one hour).
	ErrPolicy = errors.New("policy violation")
	// ErrOffline marks a send attempted without connectivity; it routes the
	// message to the outbox instead of surfacing as a failure.
	ErrOffline = errors.New("offline")
	// ErrTransient marks a server-side persistence or transport failure.
	ErrTransient = errors.New("transient server error")
)

// HTTPStatus maps a taxonomy error to its HTTP status. Unknown errors are
// treated as transient server failures.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrPolicy):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// IsConnectivity reports whether err is a client-side connectivity failure,
// either the explicit ErrOffline sentinel or a network-level error. The
// outbox keeps such items Pending; everything else becomes Failed.
func IsConnectivity(err error) bool {
	if errors.Is(err, ErrOffline) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
