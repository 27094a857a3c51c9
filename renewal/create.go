package renewal

import (
	"fmt"
	"strings"
	"time"
)

// OwnerRequestParams is what an owner supplies when asking an agent for a
// renewal quote.
type OwnerRequestParams struct {
	ID             string
	OwnerID        string
	AgentID        string
	VehicleID      string
	ExpectedAmount float64
	CoverType      string
	Message        string
}

// AgentProposalParams is what an agent supplies when soliciting a renewal on
// an expiring policy.
type AgentProposalParams struct {
	ID        string
	AgentID   string
	OwnerID   string
	VehicleID string
	Offer     Offer
}

// NewOwnerRequest builds a pending user_to_agent request. vehicleLabel is
// used for the default message.
func NewOwnerRequest(params OwnerRequestParams, vehicleLabel string, now time.Time) (Request, error) {
	if params.OwnerID == "" {
		return Request{}, &ValidationError{Field: "userId", Msg: "is required"}
	}
	if params.AgentID == "" {
		return Request{}, &ValidationError{Field: "agentId", Msg: "is required"}
	}
	if params.VehicleID == "" {
		return Request{}, &ValidationError{Field: "vehicleId", Msg: "is required"}
	}
	if params.ExpectedAmount <= 0 {
		return Request{}, &ValidationError{Field: "renewalAmount", Msg: "must be greater than zero"}
	}
	coverType := strings.TrimSpace(params.CoverType)
	if coverType == "" {
		return Request{}, &ValidationError{Field: "insuranceCover", Msg: "is required"}
	}
	message := strings.TrimSpace(params.Message)
	if message == "" {
		message = fmt.Sprintf("Insurance renewal request for %s", vehicleLabel)
	}

	return Request{
		ID:         params.ID,
		Type:       TypeUserToAgent,
		Status:     StatusPending,
		VehicleRef: params.VehicleID,
		OwnerRef:   params.OwnerID,
		AgentRef:   params.AgentID,
		OwnerAsk: &OwnerAsk{
			ExpectedAmount: params.ExpectedAmount,
			CoverType:      coverType,
			Message:        message,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewAgentProposal builds a pending agent_to_user request carrying the
// agent's terms.
func NewAgentProposal(params AgentProposalParams, now time.Time) (Request, error) {
	if params.AgentID == "" {
		return Request{}, &ValidationError{Field: "agentId", Msg: "is required"}
	}
	if params.OwnerID == "" {
		return Request{}, &ValidationError{Field: "userId", Msg: "is required"}
	}
	if params.VehicleID == "" {
		return Request{}, &ValidationError{Field: "vehicleId", Msg: "is required"}
	}
	if err := ValidateOffer(params.Offer); err != nil {
		return Request{}, err
	}

	return Request{
		ID:         params.ID,
		Type:       TypeAgentToUser,
		Status:     StatusPending,
		VehicleRef: params.VehicleID,
		OwnerRef:   params.OwnerID,
		AgentRef:   params.AgentID,
		Offer:      params.Offer,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}
