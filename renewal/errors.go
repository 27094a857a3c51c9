package renewal

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that no request with the given id is known.
	ErrNotFound = errors.New("renewal: request not found")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("renewal: validation failed")
	// ErrTransitionRejected is matched by every *TransitionError and by API
	// rejections of an illegal or stale transition.
	ErrTransitionRejected = errors.New("renewal: transition rejected")
)

// ValidationError reports a client-side payload problem. It is raised before
// anything is submitted.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "renewal: " + e.Msg
	}
	return fmt.Sprintf("renewal: %s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// TransitionError reports an action that is not legal for the request's
// current state, type, or for the issuing actor.
type TransitionError struct {
	RequestID string
	From      Status
	Action    Action
	Reason    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("renewal: %s not allowed on request %s in status %s: %s", e.Action, e.RequestID, e.From, e.Reason)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrTransitionRejected
}
