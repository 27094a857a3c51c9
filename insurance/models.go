package insurance

import (
	"fmt"
	"time"

	"fleettrackr/renewal"
)

// Vehicle is the insured vehicle a renewal request refers to.
type Vehicle struct {
	ID                 string
	OwnerID            string
	RegistrationNumber string
	Make               string
	Model              string
	InsuranceProvider  string
	PolicyNumber       string
	InsuranceExpiry    *time.Time
	CreatedAt          time.Time
}

// Event is one entry of a request's append-only status timeline.
type Event struct {
	RequestID string
	Seq       int
	From      renewal.Status
	To        renewal.Status
	ActorID   string
	CreatedAt time.Time
}

// Notification tells a party that a request they are on has moved.
type Notification struct {
	ID        string
	UserID    string
	RequestID string
	Message   string
	Read      bool
	CreatedAt time.Time
}

// Stats are per-status request counts for one agent.
type Stats struct {
	Total     int
	Pending   int
	OfferSent int
	Accepted  int
	Rejected  int
	Completed int
	Expiring  int
}

// TransitionFunc computes the next version of a locked request.
type TransitionFunc func(current renewal.Request) (renewal.Request, error)

// notificationFor returns the counterparty notice for a status change, or
// false when nobody needs telling.
func notificationFor(prev, next renewal.Request) (userID, message string, ok bool) {
	switch next.Status {
	case renewal.StatusOfferSent:
		return next.OwnerRef, fmt.Sprintf("You have a renewal offer of %.2f for %s", next.Offer.Amount, next.Offer.CoverType), true
	case renewal.StatusAccepted:
		return next.AgentRef, "Your renewal offer was accepted", true
	case renewal.StatusRejected:
		if prev.Status == renewal.StatusPending && next.Type == renewal.TypeUserToAgent {
			return next.OwnerRef, "Your renewal request was declined", true
		}
		return next.AgentRef, "Your renewal offer was rejected", true
	case renewal.StatusCompleted:
		return next.OwnerRef, fmt.Sprintf("Your policy %s has been issued", next.Completion.PolicyNumber), true
	}
	return "", "", false
}

// newRequestNotice returns the notice sent when a request is created.
func newRequestNotice(req renewal.Request) (userID, message string) {
	if req.Type == renewal.TypeUserToAgent {
		return req.AgentRef, "New renewal request received"
	}
	return req.OwnerRef, fmt.Sprintf("New renewal proposal of %.2f for %s", req.Offer.Amount, req.Offer.CoverType)
}

// propagate applies a completed request's policy to its vehicle.
func propagate(v *Vehicle, req renewal.Request) {
	if req.Status != renewal.StatusCompleted || req.Completion == nil {
		return
	}
	v.PolicyNumber = req.Completion.PolicyNumber
	expiry := req.Completion.ExpiryDate
	v.InsuranceExpiry = &expiry
	if req.Completion.Provider != "" {
		v.InsuranceProvider = req.Completion.Provider
	}
}
