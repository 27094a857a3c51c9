package api

import (
	"fmt"
	"net/url"

	"fleettrackr/renewal"
)

// TransitionPath returns the endpoint that performs action on request id.
// accept-request/reject-request and accept-offer/reject-offer are distinct
// transitions; see renewal.Check for which request type each applies to.
func TransitionPath(action renewal.Action, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("api: empty request id")
	}
	id = url.PathEscape(id)
	switch action {
	case renewal.ActionSendOffer:
		return "/insurance/agent/accept-user-request/" + id, nil
	case renewal.ActionDecline:
		return "/insurance/agent/reject-user-request/" + id, nil
	case renewal.ActionAcceptOffer:
		return "/insurance/accept-offer/" + id, nil
	case renewal.ActionRejectOffer:
		return "/insurance/reject-offer/" + id, nil
	case renewal.ActionAccept:
		return "/insurance/accept-request/" + id, nil
	case renewal.ActionReject:
		return "/insurance/reject-request/" + id, nil
	case renewal.ActionComplete:
		return "/insurance/agent/complete-request/" + id, nil
	default:
		return "", fmt.Errorf("api: no endpoint for action %q", action)
	}
}
