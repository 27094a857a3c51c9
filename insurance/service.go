// Package insurance implements the renewal endpoints of the reference API
// server: request creation, role-gated transitions, the agent dashboard and
// the vehicles the requests refer to.
package insurance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleettrackr/auth"
	"fleettrackr/renewal"
)

// ErrForbidden signals that the actor may not see or act on the resource.
var ErrForbidden = errors.New("insurance: forbidden")

// DefaultExpiringWindow is how far ahead the expiring-vehicles list looks.
const DefaultExpiringWindow = 30 * 24 * time.Hour

// Directory resolves the users named on requests.
type Directory interface {
	GetUserByID(ctx context.Context, userID string) (auth.User, error)
}

// ExpiringVehicle is a vehicle whose cover lapses inside the window, with its
// owner resolved.
type ExpiringVehicle struct {
	Vehicle Vehicle
	Owner   auth.User
}

// Service implements the renewal business rules on top of a Repository.
type Service struct {
	repo   Repository
	users  Directory
	now    func() time.Time
	newID  func() string
	window time.Duration
}

// NewService creates a new insurance service.
func NewService(repo Repository, users Directory) *Service {
	return &Service{
		repo:   repo,
		users:  users,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
		window: DefaultExpiringWindow,
	}
}

// WithClock overrides the clock used for timestamps and date checks.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithIDGenerator overrides how new request and vehicle ids are minted.
func (s *Service) WithIDGenerator(fn func() string) *Service {
	s.newID = fn
	return s
}

// WithExpiringWindow overrides DefaultExpiringWindow.
func (s *Service) WithExpiringWindow(d time.Duration) *Service {
	if d > 0 {
		s.window = d
	}
	return s
}

// ListForActor returns the requests the actor is a party to, newest first.
func (s *Service) ListForActor(ctx context.Context, actor renewal.Actor) ([]renewal.Request, error) {
	var (
		list []renewal.Request
		err  error
	)
	switch actor.Role {
	case auth.RoleOwner:
		list, err = s.repo.ListForOwner(ctx, actor.ID)
	case auth.RoleAgent:
		list, err = s.repo.ListForAgent(ctx, actor.ID)
	default:
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, err
	}
	for i := range list {
		if err := s.populate(ctx, &list[i]); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// Get returns one request. Admins see every request; owners and agents only
// their own.
func (s *Service) Get(ctx context.Context, actor renewal.Actor, id string) (renewal.Request, error) {
	if _, err := uuid.Parse(id); err != nil {
		return renewal.Request{}, renewal.ErrNotFound
	}
	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return renewal.Request{}, err
	}
	if actor.Role != auth.RoleAdmin && !req.Party(actor) {
		return renewal.Request{}, ErrForbidden
	}
	if err := s.populate(ctx, &req); err != nil {
		return renewal.Request{}, err
	}
	return req, nil
}

// Timeline returns the status events of a request the actor may see.
func (s *Service) Timeline(ctx context.Context, actor renewal.Actor, id string) ([]Event, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.Events(ctx, id)
}

// Transition applies cmd to request id on behalf of actor. The transition
// table is evaluated against the row as locked by the repository, so two
// racing actions cannot both succeed from the same state.
func (s *Service) Transition(ctx context.Context, actor renewal.Actor, id string, cmd renewal.Command) (renewal.Request, error) {
	if _, err := uuid.Parse(id); err != nil {
		return renewal.Request{}, renewal.ErrNotFound
	}
	updated, err := s.repo.UpdateRequest(ctx, id, actor.ID, func(current renewal.Request) (renewal.Request, error) {
		if !current.Party(actor) {
			return renewal.Request{}, ErrForbidden
		}
		next, err := renewal.Apply(actor, current, cmd, s.now())
		if err != nil {
			return renewal.Request{}, err
		}
		if err := renewal.CheckInvariants(next); err != nil {
			return renewal.Request{}, fmt.Errorf("insurance: %s produced an inconsistent request: %w", cmd.Action, err)
		}
		return next, nil
	})
	if err != nil {
		return renewal.Request{}, err
	}
	if err := s.populate(ctx, &updated); err != nil {
		return renewal.Request{}, err
	}
	return updated, nil
}

// CreateOwnerRequest records an owner's quote request to an agent for one of
// the owner's vehicles.
func (s *Service) CreateOwnerRequest(ctx context.Context, actor renewal.Actor, params renewal.OwnerRequestParams) (renewal.Request, error) {
	if actor.Role != auth.RoleOwner {
		return renewal.Request{}, ErrForbidden
	}
	vehicle, err := s.vehicle(ctx, params.VehicleID)
	if err != nil {
		return renewal.Request{}, err
	}
	if vehicle.OwnerID != actor.ID {
		return renewal.Request{}, ErrForbidden
	}
	if err := s.requireAgent(ctx, params.AgentID); err != nil {
		return renewal.Request{}, err
	}

	params.ID = s.newID()
	params.OwnerID = actor.ID
	req, err := renewal.NewOwnerRequest(params, vehicle.RegistrationNumber, s.now())
	if err != nil {
		return renewal.Request{}, err
	}
	return s.create(ctx, req)
}

// CreateAgentProposal records an agent's unsolicited renewal offer to the
// owner of vehicleID.
func (s *Service) CreateAgentProposal(ctx context.Context, actor renewal.Actor, vehicleID string, offer renewal.Offer) (renewal.Request, error) {
	if actor.Role != auth.RoleAgent {
		return renewal.Request{}, ErrForbidden
	}
	vehicle, err := s.vehicle(ctx, vehicleID)
	if err != nil {
		return renewal.Request{}, err
	}

	req, err := renewal.NewAgentProposal(renewal.AgentProposalParams{
		ID:        s.newID(),
		AgentID:   actor.ID,
		OwnerID:   vehicle.OwnerID,
		VehicleID: vehicle.ID,
		Offer:     offer,
	}, s.now())
	if err != nil {
		return renewal.Request{}, err
	}
	return s.create(ctx, req)
}

func (s *Service) create(ctx context.Context, req renewal.Request) (renewal.Request, error) {
	created, err := s.repo.CreateRequest(ctx, req)
	if err != nil {
		return renewal.Request{}, err
	}
	if err := s.populate(ctx, &created); err != nil {
		return renewal.Request{}, err
	}
	return created, nil
}

// ExpiringVehicles lists vehicles whose cover lapses within the window.
func (s *Service) ExpiringVehicles(ctx context.Context, actor renewal.Actor) ([]ExpiringVehicle, error) {
	if actor.Role != auth.RoleAgent {
		return nil, ErrForbidden
	}
	now := s.now()
	vehicles, err := s.repo.ExpiringVehicles(ctx, now, now.Add(s.window))
	if err != nil {
		return nil, err
	}
	out := make([]ExpiringVehicle, 0, len(vehicles))
	for _, v := range vehicles {
		owner, err := s.users.GetUserByID(ctx, v.OwnerID)
		if err != nil && !errors.Is(err, auth.ErrUserNotFound) {
			return nil, err
		}
		out = append(out, ExpiringVehicle{Vehicle: v, Owner: owner})
	}
	return out, nil
}

// Stats counts the agent's requests per status.
func (s *Service) Stats(ctx context.Context, actor renewal.Actor) (Stats, error) {
	if actor.Role != auth.RoleAgent {
		return Stats{}, ErrForbidden
	}
	list, err := s.repo.ListForAgent(ctx, actor.ID)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Total: len(list)}
	for _, req := range list {
		switch req.Status {
		case renewal.StatusPending:
			stats.Pending++
		case renewal.StatusOfferSent:
			stats.OfferSent++
		case renewal.StatusAccepted:
			stats.Accepted++
		case renewal.StatusRejected:
			stats.Rejected++
		case renewal.StatusCompleted:
			stats.Completed++
		}
	}
	now := s.now()
	expiring, err := s.repo.ExpiringVehicles(ctx, now, now.Add(s.window))
	if err != nil {
		return Stats{}, err
	}
	stats.Expiring = len(expiring)
	return stats, nil
}

// Notifications returns the actor's recent notifications.
func (s *Service) Notifications(ctx context.Context, actor renewal.Actor) ([]Notification, error) {
	return s.repo.Notifications(ctx, actor.ID)
}

// AddVehicle registers a vehicle for the owner.
func (s *Service) AddVehicle(ctx context.Context, actor renewal.Actor, v Vehicle) (Vehicle, error) {
	if actor.Role != auth.RoleOwner {
		return Vehicle{}, ErrForbidden
	}
	v.RegistrationNumber = strings.ToUpper(strings.TrimSpace(v.RegistrationNumber))
	if v.RegistrationNumber == "" {
		return Vehicle{}, &renewal.ValidationError{Field: "registrationNumber", Msg: "is required"}
	}
	v.ID = s.newID()
	v.OwnerID = actor.ID
	v.Make = strings.TrimSpace(v.Make)
	v.Model = strings.TrimSpace(v.Model)
	v.CreatedAt = s.now()
	return s.repo.CreateVehicle(ctx, v)
}

// Vehicles lists the owner's vehicles.
func (s *Service) Vehicles(ctx context.Context, actor renewal.Actor) ([]Vehicle, error) {
	if actor.Role != auth.RoleOwner {
		return nil, ErrForbidden
	}
	return s.repo.ListVehicles(ctx, actor.ID)
}

func (s *Service) vehicle(ctx context.Context, id string) (Vehicle, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Vehicle{}, &renewal.ValidationError{Field: "vehicleId", Msg: "is not a known vehicle"}
	}
	v, err := s.repo.GetVehicle(ctx, id)
	if errors.Is(err, ErrVehicleNotFound) {
		return Vehicle{}, &renewal.ValidationError{Field: "vehicleId", Msg: "is not a known vehicle"}
	}
	return v, err
}

func (s *Service) requireAgent(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &renewal.ValidationError{Field: "agentId", Msg: "is not an insurance agent"}
	}
	agent, err := s.users.GetUserByID(ctx, id)
	if errors.Is(err, auth.ErrUserNotFound) || (err == nil && (agent.Role != auth.RoleAgent || !agent.Active)) {
		return &renewal.ValidationError{Field: "agentId", Msg: "is not an insurance agent"}
	}
	return err
}

// populate fills the display snapshots: vehicle, owner contact, agent name.
// Missing referents leave the snapshot empty.
func (s *Service) populate(ctx context.Context, req *renewal.Request) error {
	v, err := s.repo.GetVehicle(ctx, req.VehicleRef)
	switch {
	case err == nil:
		req.Vehicle = renewal.Vehicle{
			RegistrationNumber: v.RegistrationNumber,
			Make:               v.Make,
			Model:              v.Model,
			InsuranceProvider:  v.InsuranceProvider,
			PolicyNumber:       v.PolicyNumber,
			InsuranceExpiry:    v.InsuranceExpiry,
		}
	case !errors.Is(err, ErrVehicleNotFound):
		return err
	}

	owner, err := s.users.GetUserByID(ctx, req.OwnerRef)
	switch {
	case err == nil:
		req.Owner = renewal.Contact{
			Name:    owner.Name,
			Email:   owner.Email,
			Phone:   deref(owner.Phone),
			Address: deref(owner.Address),
		}
	case !errors.Is(err, auth.ErrUserNotFound):
		return err
	}

	agent, err := s.users.GetUserByID(ctx, req.AgentRef)
	switch {
	case err == nil:
		req.Agent = renewal.Agent{Name: agent.Name, Company: deref(agent.Company)}
	case !errors.Is(err, auth.ErrUserNotFound):
		return err
	}
	return nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
