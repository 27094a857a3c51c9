package renewal

import (
	"fmt"
	"strings"
)

var statusAliases = map[string]Status{
	"pending":    StatusPending,
	"offer_sent": StatusOfferSent,
	"offered":    StatusOfferSent,
	"quoted":     StatusOfferSent,
	"accepted":   StatusAccepted,
	"approved":   StatusAccepted,
	"rejected":   StatusRejected,
	"declined":   StatusRejected,
	"completed":  StatusCompleted,
	"done":       StatusCompleted,
}

var typeAliases = map[string]RequestType{
	"user_to_agent": TypeUserToAgent,
	"user":          TypeUserToAgent,
	"agent_to_user": TypeAgentToUser,
	"agent":         TypeAgentToUser,
}

func canonical(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// ParseStatus normalizes a status string from any backend vocabulary version
// onto the five-state vocabulary.
func ParseStatus(raw string) (Status, error) {
	if st, ok := statusAliases[canonical(raw)]; ok {
		return st, nil
	}
	return "", fmt.Errorf("renewal: unknown status %q", raw)
}

// ParseRequestType normalizes a request type string.
func ParseRequestType(raw string) (RequestType, error) {
	if rt, ok := typeAliases[canonical(raw)]; ok {
		return rt, nil
	}
	return "", fmt.Errorf("renewal: unknown request type %q", raw)
}

// Sanitize drops fields that cannot coexist with the request's type and
// status and returns the names of the dropped fields.
func Sanitize(req *Request) []string {
	var dropped []string
	if req.Type != TypeUserToAgent && req.OwnerAsk != nil {
		req.OwnerAsk = nil
		dropped = append(dropped, "ownerAsk")
	}
	if req.Status != StatusCompleted && req.Completion != nil {
		req.Completion = nil
		dropped = append(dropped, "completionDetails")
	}
	if req.Status != StatusCompleted && req.CompletedAt != nil {
		req.CompletedAt = nil
		dropped = append(dropped, "completedAt")
	}
	if req.Status != StatusRejected && req.RejectionReason != "" {
		req.RejectionReason = ""
		dropped = append(dropped, "rejectionReason")
	}
	return dropped
}

// CheckInvariants reports the first data-model invariant the request breaks.
func CheckInvariants(req Request) error {
	if req.Status.rank() < 0 {
		return fmt.Errorf("renewal: request %s has unknown status %q", req.ID, req.Status)
	}
	switch req.Type {
	case TypeUserToAgent:
		if req.OwnerAsk == nil {
			return fmt.Errorf("renewal: user_to_agent request %s missing owner ask", req.ID)
		}
	case TypeAgentToUser:
		if req.OwnerAsk != nil {
			return fmt.Errorf("renewal: agent_to_user request %s carries an owner ask", req.ID)
		}
	default:
		return fmt.Errorf("renewal: request %s has unknown type %q", req.ID, req.Type)
	}
	if (req.Completion != nil) != (req.Status == StatusCompleted) {
		return fmt.Errorf("renewal: request %s completion details do not match status %s", req.ID, req.Status)
	}
	if req.RejectionReason != "" && req.Status != StatusRejected {
		return fmt.Errorf("renewal: request %s has rejection reason in status %s", req.ID, req.Status)
	}
	return nil
}
