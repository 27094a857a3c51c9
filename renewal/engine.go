package renewal

import (
	"fmt"
	"time"

	"fleettrackr/auth"
)

// Action is a transition an actor can issue against a request.
type Action string

const (
	// ActionSendOffer is the agent answering a user_to_agent request with terms.
	ActionSendOffer Action = "send_offer"
	// ActionDecline is the agent turning down a user_to_agent request.
	ActionDecline Action = "decline"
	// ActionAcceptOffer is the owner accepting the agent's offer.
	ActionAcceptOffer Action = "accept_offer"
	// ActionRejectOffer is the owner rejecting the agent's offer.
	ActionRejectOffer Action = "reject_offer"
	// ActionAccept is the owner accepting an agent_to_user proposal directly.
	ActionAccept Action = "accept"
	// ActionReject is the owner rejecting an agent_to_user proposal directly.
	ActionReject Action = "reject"
	// ActionComplete is the agent recording the issued policy.
	ActionComplete Action = "complete"
)

type rule struct {
	from    Status
	reqType RequestType // empty matches both types
	action  Action
	role    auth.Role
	to      Status
}

var rules = []rule{
	{from: StatusPending, reqType: TypeUserToAgent, action: ActionSendOffer, role: auth.RoleAgent, to: StatusOfferSent},
	{from: StatusPending, reqType: TypeUserToAgent, action: ActionDecline, role: auth.RoleAgent, to: StatusRejected},
	{from: StatusPending, reqType: TypeAgentToUser, action: ActionAccept, role: auth.RoleOwner, to: StatusAccepted},
	{from: StatusPending, reqType: TypeAgentToUser, action: ActionReject, role: auth.RoleOwner, to: StatusRejected},
	{from: StatusOfferSent, reqType: TypeUserToAgent, action: ActionAcceptOffer, role: auth.RoleOwner, to: StatusAccepted},
	{from: StatusOfferSent, reqType: TypeUserToAgent, action: ActionRejectOffer, role: auth.RoleOwner, to: StatusRejected},
	{from: StatusAccepted, action: ActionComplete, role: auth.RoleAgent, to: StatusCompleted},
}

func findRule(from Status, reqType RequestType, action Action) (rule, bool) {
	for _, r := range rules {
		if r.from != from || r.action != action {
			continue
		}
		if r.reqType != "" && r.reqType != reqType {
			continue
		}
		return r, true
	}
	return rule{}, false
}

// Command is an action plus the payload it carries.
type Command struct {
	Action     Action
	Offer      *Offer
	Reason     *string
	Completion *CompletionDetails
}

// Validate checks the payload the action requires. now is the submission time.
func (c Command) Validate(now time.Time) error {
	switch c.Action {
	case ActionSendOffer:
		if c.Offer == nil {
			return &ValidationError{Field: "offer", Msg: "is required"}
		}
		return ValidateOffer(*c.Offer)
	case ActionComplete:
		if c.Completion == nil {
			return &ValidationError{Field: "completionDetails", Msg: "is required"}
		}
		return ValidateCompletion(*c.Completion, now)
	case ActionDecline, ActionAcceptOffer, ActionRejectOffer, ActionAccept, ActionReject:
		return nil
	default:
		return &ValidationError{Field: "action", Msg: fmt.Sprintf("unknown action %q", c.Action)}
	}
}

// Check returns the status the action leads to, or a *TransitionError when
// the request's status and type together do not admit it for this actor.
func Check(actor Actor, req Request, action Action) (Status, error) {
	r, ok := findRule(req.Status, req.Type, action)
	if !ok {
		return "", &TransitionError{RequestID: req.ID, From: req.Status, Action: action, Reason: fmt.Sprintf("no %s transition for %s requests", action, req.Type)}
	}
	if actor.Role != r.role {
		return "", &TransitionError{RequestID: req.ID, From: req.Status, Action: action, Reason: fmt.Sprintf("requires role %q", r.role)}
	}
	if !req.Party(actor) {
		return "", &TransitionError{RequestID: req.ID, From: req.Status, Action: action, Reason: "actor is not a party to the request"}
	}
	return r.to, nil
}

// Allowed lists the actions the actor may issue on the request right now.
func Allowed(actor Actor, req Request) []Action {
	var out []Action
	for _, r := range rules {
		if _, err := Check(actor, req, r.action); err == nil && r.from == req.Status {
			out = append(out, r.action)
		}
	}
	return out
}

// Apply validates and applies cmd, returning the next version of req. The
// input is not modified.
func Apply(actor Actor, req Request, cmd Command, now time.Time) (Request, error) {
	to, err := Check(actor, req, cmd.Action)
	if err != nil {
		return Request{}, err
	}
	if err := cmd.Validate(now); err != nil {
		return Request{}, err
	}

	next := req
	if req.OwnerAsk != nil {
		ask := *req.OwnerAsk
		next.OwnerAsk = &ask
	}

	switch cmd.Action {
	case ActionSendOffer:
		next.Offer = *cmd.Offer
	case ActionDecline, ActionReject, ActionRejectOffer:
		next.RejectionReason = NormalizeReason(cmd.Reason)
	case ActionComplete:
		details := *cmd.Completion
		next.Completion = &details
		completedAt := now
		next.CompletedAt = &completedAt
	}
	next.Status = to
	next.UpdatedAt = now
	return next, nil
}

// Advances reports whether moving from one status to another follows the
// lifecycle forward. Staying put counts as advancing.
func Advances(from, to Status) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	return to.rank() > from.rank()
}
