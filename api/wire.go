package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fleettrackr/renewal"
)

// Amount accepts both JSON numbers and numeric strings; form inputs on older
// clients post amounts as strings.
type Amount float64

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*a = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*a = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("api: amount %q: %w", s, err)
		}
		*a = Amount(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*a = Amount(f)
	return nil
}

// Date accepts RFC 3339 timestamps and bare yyyy-mm-dd dates.
type Date struct {
	time.Time
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.UTC().Format(time.RFC3339))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if string(bytes.TrimSpace(b)) == "null" {
		d.Time = time.Time{}
		return nil
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := ParseDate(s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// ParseDate parses the date formats the API exchanges. Empty input yields the
// zero time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("api: date %q: %w", s, err)
	}
	return t, nil
}

// UserRef is either a bare user id or a populated user document.
type UserRef struct {
	ID      string `json:"_id"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	Company string `json:"company,omitempty"`
}

func (r *UserRef) UnmarshalJSON(b []byte) error {
	if id, ok, err := bareID(b); ok || err != nil {
		r.ID = id
		return err
	}
	type plain UserRef
	var doc struct {
		plain
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	*r = UserRef(doc.plain)
	if r.ID == "" {
		r.ID = doc.AltID
	}
	return nil
}

// VehicleRef is either a bare vehicle id or a populated vehicle document.
type VehicleRef struct {
	ID                  string `json:"_id"`
	RegistrationNumber  string `json:"registrationNumber,omitempty"`
	Make                string `json:"make,omitempty"`
	Model               string `json:"model,omitempty"`
	InsuranceProvider   string `json:"insuranceProvider,omitempty"`
	InsuranceNumber     string `json:"insuranceNumber,omitempty"`
	InsuranceExpiryDate *Date  `json:"insuranceExpiryDate,omitempty"`
}

func (r *VehicleRef) UnmarshalJSON(b []byte) error {
	if id, ok, err := bareID(b); ok || err != nil {
		r.ID = id
		return err
	}
	type plain VehicleRef
	var doc struct {
		plain
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	*r = VehicleRef(doc.plain)
	if r.ID == "" {
		r.ID = doc.AltID
	}
	return nil
}

func bareID(b []byte) (string, bool, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return "", true, nil
	}
	if b[0] != '"' {
		return "", false, nil
	}
	var id string
	err := json.Unmarshal(b, &id)
	return id, true, err
}

// WireCompletion is the completion block of a completed request.
type WireCompletion struct {
	PolicyNumber string `json:"policyNumber"`
	ExpiryDate   Date   `json:"expiryDate"`
	Provider     string `json:"provider,omitempty"`
}

// WireRequest is the JSON shape of a renewal request on the REST API.
type WireRequest struct {
	ID                 string          `json:"_id"`
	RequestType        string          `json:"requestType"`
	Status             string          `json:"status"`
	Vehicle            VehicleRef      `json:"vehicleId"`
	User               UserRef         `json:"userId"`
	Agent              UserRef         `json:"agentId"`
	AgentName          string          `json:"agentName,omitempty"`
	AgentCompany       string          `json:"agentCompany,omitempty"`
	RenewalAmount      Amount          `json:"renewalAmount"`
	InsuranceCover     string          `json:"insuranceCover,omitempty"`
	CoverageDetails    string          `json:"coverageDetails,omitempty"`
	UserExpectedAmount *Amount         `json:"userExpectedAmount,omitempty"`
	UserCoverType      string          `json:"userCoverType,omitempty"`
	UserMessage        string          `json:"userMessage,omitempty"`
	RejectionReason    string          `json:"rejectionReason,omitempty"`
	CompletionDetails  *WireCompletion `json:"completionDetails,omitempty"`
	NewPolicyNumber    string          `json:"newPolicyNumber,omitempty"`
	NewExpiryDate      *Date           `json:"newExpiryDate,omitempty"`
	InsuranceProvider  string          `json:"insuranceProvider,omitempty"`
	CreatedAt          Date            `json:"createdAt"`
	UpdatedAt          Date            `json:"updatedAt"`
	CompletedAt        *Date           `json:"completedAt,omitempty"`
}

// Decode converts a wire record into the canonical request, normalizing the
// status vocabulary. It does not drop inconsistent fields; see
// renewal.Sanitize.
func (w WireRequest) Decode() (renewal.Request, error) {
	if strings.TrimSpace(w.ID) == "" {
		return renewal.Request{}, fmt.Errorf("api: request without id")
	}
	status, err := renewal.ParseStatus(w.Status)
	if err != nil {
		return renewal.Request{}, fmt.Errorf("api: request %s: %w", w.ID, err)
	}
	reqType, err := renewal.ParseRequestType(w.RequestType)
	if err != nil {
		return renewal.Request{}, fmt.Errorf("api: request %s: %w", w.ID, err)
	}

	req := renewal.Request{
		ID:         w.ID,
		Type:       reqType,
		Status:     status,
		VehicleRef: w.Vehicle.ID,
		OwnerRef:   w.User.ID,
		AgentRef:   w.Agent.ID,
		Offer: renewal.Offer{
			Amount:          float64(w.RenewalAmount),
			CoverType:       w.InsuranceCover,
			CoverageDetails: w.CoverageDetails,
		},
		RejectionReason: strings.TrimSpace(w.RejectionReason),
		Vehicle: renewal.Vehicle{
			RegistrationNumber: w.Vehicle.RegistrationNumber,
			Make:               w.Vehicle.Make,
			Model:              w.Vehicle.Model,
			InsuranceProvider:  w.Vehicle.InsuranceProvider,
			PolicyNumber:       w.Vehicle.InsuranceNumber,
		},
		Owner: renewal.Contact{
			Name:    w.User.Name,
			Phone:   w.User.Phone,
			Email:   w.User.Email,
			Address: w.User.Address,
		},
		Agent: renewal.Agent{
			Name:    firstNonEmpty(w.Agent.Name, w.AgentName),
			Company: firstNonEmpty(w.Agent.Company, w.AgentCompany),
		},
		CreatedAt: w.CreatedAt.Time,
		UpdatedAt: w.UpdatedAt.Time,
	}
	if w.Vehicle.InsuranceExpiryDate != nil && !w.Vehicle.InsuranceExpiryDate.IsZero() {
		expiry := w.Vehicle.InsuranceExpiryDate.Time
		req.Vehicle.InsuranceExpiry = &expiry
	}

	if w.UserExpectedAmount != nil || w.UserCoverType != "" || w.UserMessage != "" {
		ask := &renewal.OwnerAsk{CoverType: w.UserCoverType, Message: w.UserMessage}
		if w.UserExpectedAmount != nil {
			ask.ExpectedAmount = float64(*w.UserExpectedAmount)
		}
		req.OwnerAsk = ask
	}

	switch {
	case w.CompletionDetails != nil:
		req.Completion = &renewal.CompletionDetails{
			PolicyNumber: w.CompletionDetails.PolicyNumber,
			ExpiryDate:   w.CompletionDetails.ExpiryDate.Time,
			Provider:     w.CompletionDetails.Provider,
		}
	case w.NewPolicyNumber != "":
		details := &renewal.CompletionDetails{PolicyNumber: w.NewPolicyNumber, Provider: w.InsuranceProvider}
		if w.NewExpiryDate != nil {
			details.ExpiryDate = w.NewExpiryDate.Time
		}
		req.Completion = details
	}
	if w.CompletedAt != nil && !w.CompletedAt.IsZero() {
		completedAt := w.CompletedAt.Time
		req.CompletedAt = &completedAt
	}
	return req, nil
}

// EncodeRequest renders a request in the wire shape. Owner contact fields are
// included as given; callers decide what the recipient may see.
func EncodeRequest(req renewal.Request) WireRequest {
	w := WireRequest{
		ID:          req.ID,
		RequestType: string(req.Type),
		Status:      string(req.Status),
		Vehicle: VehicleRef{
			ID:                 req.VehicleRef,
			RegistrationNumber: req.Vehicle.RegistrationNumber,
			Make:               req.Vehicle.Make,
			Model:              req.Vehicle.Model,
			InsuranceProvider:  req.Vehicle.InsuranceProvider,
			InsuranceNumber:    req.Vehicle.PolicyNumber,
		},
		User: UserRef{
			ID:      req.OwnerRef,
			Name:    req.Owner.Name,
			Email:   req.Owner.Email,
			Phone:   req.Owner.Phone,
			Address: req.Owner.Address,
		},
		Agent: UserRef{
			ID:      req.AgentRef,
			Name:    req.Agent.Name,
			Company: req.Agent.Company,
		},
		AgentName:       req.Agent.Name,
		AgentCompany:    req.Agent.Company,
		RenewalAmount:   Amount(req.Offer.Amount),
		InsuranceCover:  req.Offer.CoverType,
		CoverageDetails: req.Offer.CoverageDetails,
		RejectionReason: req.RejectionReason,
		CreatedAt:       Date{req.CreatedAt},
		UpdatedAt:       Date{req.UpdatedAt},
	}
	if req.Vehicle.InsuranceExpiry != nil {
		w.Vehicle.InsuranceExpiryDate = &Date{*req.Vehicle.InsuranceExpiry}
	}
	if req.OwnerAsk != nil {
		amount := Amount(req.OwnerAsk.ExpectedAmount)
		w.UserExpectedAmount = &amount
		w.UserCoverType = req.OwnerAsk.CoverType
		w.UserMessage = req.OwnerAsk.Message
	}
	if req.Completion != nil {
		w.CompletionDetails = &WireCompletion{
			PolicyNumber: req.Completion.PolicyNumber,
			ExpiryDate:   Date{req.Completion.ExpiryDate},
			Provider:     req.Completion.Provider,
		}
	}
	if req.CompletedAt != nil {
		w.CompletedAt = &Date{*req.CompletedAt}
	}
	return w
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// OfferBody is the payload of agent/accept-user-request and
// agent/send-request.
type OfferBody struct {
	RenewalAmount   Amount `json:"renewalAmount"`
	InsuranceCover  string `json:"insuranceCover"`
	CoverageDetails string `json:"coverageDetails"`
}

// RejectBody is the payload of the reject endpoints.
type RejectBody struct {
	RejectionReason *string `json:"rejectionReason,omitempty"`
}

// CompleteBody is the payload of agent/complete-request.
type CompleteBody struct {
	NewPolicyNumber   string `json:"newPolicyNumber"`
	NewExpiryDate     Date   `json:"newExpiryDate"`
	InsuranceProvider string `json:"insuranceProvider"`
}

// UserSendBody is the payload of user/send-request.
type UserSendBody struct {
	AgentID        string `json:"agentId"`
	VehicleID      string `json:"vehicleId"`
	Message        string `json:"message,omitempty"`
	RenewalAmount  Amount `json:"renewalAmount"`
	InsuranceCover string `json:"insuranceCover"`
}

// AgentSendBody is the payload of agent/send-request.
type AgentSendBody struct {
	VehicleID string `json:"vehicleId"`
	OfferBody
	Message string `json:"message,omitempty"`
}

// AgentProfile is an entry of the insurance agent directory.
type AgentProfile struct {
	ID      string `json:"_id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Company string `json:"company,omitempty"`
}

// ExpiringVehicle is a vehicle whose cover lapses soon, with its owner
// populated.
type ExpiringVehicle struct {
	ID                  string  `json:"_id"`
	RegistrationNumber  string  `json:"registrationNumber"`
	Make                string  `json:"make,omitempty"`
	Model               string  `json:"model,omitempty"`
	InsuranceProvider   string  `json:"insuranceProvider,omitempty"`
	InsuranceNumber     string  `json:"insuranceNumber,omitempty"`
	InsuranceExpiryDate *Date   `json:"insuranceExpiryDate,omitempty"`
	Owner               UserRef `json:"userId"`
}

// Stats are the per-status counts shown on the agent dashboard.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	OfferSent int `json:"offerSent"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	Completed int `json:"completed"`
	Expiring  int `json:"expiringVehicles"`
}

// LoginResponse is returned by auth/login.
type LoginResponse struct {
	Token string  `json:"token"`
	User  UserRef `json:"user"`
	Role  string  `json:"role"`
}

// VehicleBody is the payload of POST /vehicles.
type VehicleBody struct {
	RegistrationNumber  string `json:"registrationNumber"`
	Make                string `json:"make,omitempty"`
	Model               string `json:"model,omitempty"`
	InsuranceProvider   string `json:"insuranceProvider,omitempty"`
	InsuranceNumber     string `json:"insuranceNumber,omitempty"`
	InsuranceExpiryDate *Date  `json:"insuranceExpiryDate,omitempty"`
}

// TimelineEvent is one status change of a request.
type TimelineEvent struct {
	Seq     int    `json:"seq"`
	From    string `json:"fromStatus"`
	To      string `json:"toStatus"`
	ActorID string `json:"actorId"`
	At      Date   `json:"createdAt"`
}

// Notification is a message for the current user about one of their
// requests.
type Notification struct {
	ID        string `json:"_id"`
	RequestID string `json:"requestId"`
	Message   string `json:"message"`
	Read      bool   `json:"read"`
	CreatedAt Date   `json:"createdAt"`
}

type errorBody struct {
	Message string `json:"message"`
}
