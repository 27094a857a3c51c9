package workflow

import (
	"context"
	"errors"

	"fleettrackr/api"
	"fleettrackr/renewal"
	"fleettrackr/session"
	"fleettrackr/store"
)

// Level grades how an alert is presented.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warning"
	LevelError Level = "error"
)

// Alert is the actor-facing rendering of a failure.
type Alert struct {
	Level     Level
	Message   string
	Retryable bool
	// Redirect is set when the actor must sign in again.
	Redirect bool
	// Refresh is set when the store was or should be refreshed.
	Refresh bool
}

// AlertFor maps an error onto the alert the actor sees. It returns false
// for nil errors and for cancellation.
func AlertFor(err error) (Alert, bool) {
	if err == nil || errors.Is(err, context.Canceled) {
		return Alert{}, false
	}

	var (
		verr *renewal.ValidationError
		serr *api.StatusError
	)
	switch {
	case errors.Is(err, api.ErrAuth), errors.Is(err, session.ErrExpired), errors.Is(err, session.ErrNoToken):
		return Alert{Level: LevelError, Message: "Your session has expired. Please sign in again.", Redirect: true}, true
	case errors.Is(err, api.ErrRoleMismatch):
		return Alert{Level: LevelError, Message: "Access denied for your role."}, true
	case errors.As(err, &verr):
		return Alert{Level: LevelWarn, Message: verr.Error()}, true
	case errors.Is(err, renewal.ErrValidation) && errors.As(err, &serr) && serr.Message != "":
		return Alert{Level: LevelWarn, Message: serr.Message}, true
	case errors.Is(err, renewal.ErrValidation):
		return Alert{Level: LevelWarn, Message: "The server rejected the submitted details."}, true
	case errors.Is(err, ErrInFlight):
		return Alert{Level: LevelInfo, Message: "That request is still being processed."}, true
	case errors.Is(err, renewal.ErrTransitionRejected):
		return Alert{Level: LevelWarn, Message: "This request changed since you last saw it. The list has been refreshed.", Refresh: true}, true
	case errors.Is(err, renewal.ErrNotFound):
		return Alert{Level: LevelWarn, Message: "This request no longer exists.", Refresh: true}, true
	case errors.Is(err, api.ErrNetwork):
		return Alert{Level: LevelError, Message: "Could not reach the server. Try again.", Retryable: true}, true
	}

	var fe *store.FetchError
	if errors.As(err, &fe) {
		return Alert{Level: LevelError, Message: "Failed to load renewal requests.", Retryable: true}, true
	}
	return Alert{Level: LevelError, Message: err.Error()}, true
}

// Fatal reports whether err needs the actor to act before another poll can
// succeed: a dead session or a role with no access.
func Fatal(err error) bool {
	return errors.Is(err, api.ErrAuth) ||
		errors.Is(err, session.ErrExpired) ||
		errors.Is(err, session.ErrNoToken) ||
		errors.Is(err, api.ErrRoleMismatch)
}
