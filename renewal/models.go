package renewal

import (
	"time"

	"fleettrackr/auth"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusOfferSent Status = "offer_sent"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
)

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// rank orders statuses along the forward direction of the lifecycle.
// rejected and completed share the terminal rank.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusOfferSent:
		return 1
	case StatusAccepted:
		return 2
	case StatusRejected, StatusCompleted:
		return 3
	default:
		return -1
	}
}

type RequestType string

const (
	TypeUserToAgent RequestType = "user_to_agent"
	TypeAgentToUser RequestType = "agent_to_user"
)

// Offer holds the commercial terms currently attached to a request.
type Offer struct {
	Amount          float64
	CoverType       string
	CoverageDetails string
}

// OwnerAsk is the owner's original request on user_to_agent renewals.
type OwnerAsk struct {
	ExpectedAmount float64
	CoverType      string
	Message        string
}

// CompletionDetails records the policy issued when a renewal completes.
type CompletionDetails struct {
	PolicyNumber string
	ExpiryDate   time.Time
	Provider     string
}

// Contact is the owner contact block. Agents only get it once a request is
// accepted or completed.
type Contact struct {
	Name    string
	Phone   string
	Email   string
	Address string
}

// Vehicle is the display snapshot of the referenced vehicle.
type Vehicle struct {
	RegistrationNumber string
	Make               string
	Model              string
	InsuranceProvider  string
	PolicyNumber       string
	InsuranceExpiry    *time.Time
}

// Agent is the display snapshot of the referenced insurance agent.
type Agent struct {
	Name    string
	Company string
}

// Request is one insurance-renewal negotiation between an owner and an agent
// for one vehicle.
type Request struct {
	ID              string
	Type            RequestType
	Status          Status
	VehicleRef      string
	OwnerRef        string
	AgentRef        string
	Offer           Offer
	OwnerAsk        *OwnerAsk
	RejectionReason string
	Completion      *CompletionDetails

	Vehicle Vehicle
	Owner   Contact
	Agent   Agent

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Actor identifies who is issuing an action.
type Actor struct {
	ID   string
	Role auth.Role
}

// Party reports whether the actor is the owner or agent named on the request.
func (r Request) Party(actor Actor) bool {
	switch actor.Role {
	case auth.RoleOwner:
		return actor.ID != "" && actor.ID == r.OwnerRef
	case auth.RoleAgent:
		return actor.ID != "" && actor.ID == r.AgentRef
	default:
		return false
	}
}
