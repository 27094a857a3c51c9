package api

import (
	"errors"
	"fmt"
	"net/http"

	"fleettrackr/renewal"
)

var (
	// ErrAuth signals a missing, expired or refused bearer credential.
	ErrAuth = errors.New("api: authentication required")
	// ErrRoleMismatch signals that the caller's role may not use the endpoint.
	ErrRoleMismatch = errors.New("api: role mismatch")
	// ErrNetwork signals a transport failure or a server-side fault. Callers
	// may retry.
	ErrNetwork = errors.New("api: network failure")
)

// StatusError is a non-2xx response from the API.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %s %s: %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("api: %s %s: %d %s", e.Method, e.Path, e.Code, e.Message)
}

// Is maps HTTP status codes onto the error taxonomy.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrAuth:
		return e.Code == http.StatusUnauthorized
	case ErrRoleMismatch:
		return e.Code == http.StatusForbidden
	case renewal.ErrNotFound:
		return e.Code == http.StatusNotFound
	case renewal.ErrTransitionRejected:
		return e.Code == http.StatusBadRequest || e.Code == http.StatusConflict
	case renewal.ErrValidation:
		return e.Code == http.StatusUnprocessableEntity
	case ErrNetwork:
		return e.Code >= http.StatusInternalServerError
	}
	return false
}

// NetworkError wraps a transport failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("api: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }
