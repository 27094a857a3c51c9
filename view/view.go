// Package view builds role-scoped projections of renewal requests.
package view

import (
	"fleettrackr/auth"
	"fleettrackr/renewal"
)

// View is what one actor may see and do for one request.
type View struct {
	Request        renewal.Request
	Actions        []renewal.Action
	ContactVisible bool
	Busy           bool
}

// Project scopes req to actor. Owner contact is removed from the copy
// unless the actor may see it. While busy no actions are offered.
func Project(actor renewal.Actor, req renewal.Request, busy bool) View {
	v := View{
		Request:        req,
		ContactVisible: ContactVisible(actor, req),
		Busy:           busy,
	}
	if req.OwnerAsk != nil {
		ask := *req.OwnerAsk
		v.Request.OwnerAsk = &ask
	}
	if req.Completion != nil {
		details := *req.Completion
		v.Request.Completion = &details
	}
	if !v.ContactVisible {
		v.Request.Owner.Phone = ""
		v.Request.Owner.Email = ""
		v.Request.Owner.Address = ""
	}
	if !busy {
		v.Actions = renewal.Allowed(actor, req)
	}
	return v
}

// ContactVisible reports whether actor may see the owner's phone, email and
// address. Agents see them only once the renewal is agreed.
func ContactVisible(actor renewal.Actor, req renewal.Request) bool {
	switch actor.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleOwner:
		return actor.ID == req.OwnerRef
	case auth.RoleAgent:
		return actor.ID == req.AgentRef &&
			(req.Status == renewal.StatusAccepted || req.Status == renewal.StatusCompleted)
	default:
		return false
	}
}

// BusyFunc reports whether a request has an action in flight.
type BusyFunc func(id string) bool

// ProjectAll projects every request in list.
func ProjectAll(actor renewal.Actor, list []renewal.Request, busy BusyFunc) []View {
	out := make([]View, 0, len(list))
	for _, req := range list {
		out = append(out, Project(actor, req, busy != nil && busy(req.ID)))
	}
	return out
}

// Summary counts requests per status for dashboard tiles.
type Summary struct {
	Total     int
	Pending   int
	OfferSent int
	Accepted  int
	Rejected  int
	Completed int
}

// Summarize counts list by status.
func Summarize(list []renewal.Request) Summary {
	var s Summary
	for _, req := range list {
		s.Total++
		switch req.Status {
		case renewal.StatusPending:
			s.Pending++
		case renewal.StatusOfferSent:
			s.OfferSent++
		case renewal.StatusAccepted:
			s.Accepted++
		case renewal.StatusRejected:
			s.Rejected++
		case renewal.StatusCompleted:
			s.Completed++
		}
	}
	return s
}

// Filter returns the requests in list with the given status. An empty status
// returns list unchanged.
func Filter(list []renewal.Request, status renewal.Status) []renewal.Request {
	if status == "" {
		return list
	}
	var out []renewal.Request
	for _, req := range list {
		if req.Status == status {
			out = append(out, req)
		}
	}
	return out
}
