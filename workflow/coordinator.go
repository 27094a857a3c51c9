// Package workflow coordinates local validation, API submission and store
// refresh for every renewal action an actor issues.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"fleettrackr/api"
	"fleettrackr/auth"
	"fleettrackr/renewal"
)

// ErrInFlight signals that an action for the same request is still
// outstanding.
var ErrInFlight = errors.New("workflow: action already in flight")

// Store is the local request store.
type Store interface {
	Get(id string) (renewal.Request, error)
	Upsert(r renewal.Request)
}

// Remote submits actions to the API.
type Remote interface {
	Transition(ctx context.Context, id string, cmd renewal.Command) (renewal.Request, error)
	SendUserRequest(ctx context.Context, body api.UserSendBody) (renewal.Request, error)
	SendAgentProposal(ctx context.Context, body api.AgentSendBody) (renewal.Request, error)
}

// Refresher forces a store refresh.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Coordinator runs actions for one session.
type Coordinator struct {
	actor   renewal.Actor
	store   Store
	remote  Remote
	refresh Refresher
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewCoordinator wires a coordinator for actor.
func NewCoordinator(actor renewal.Actor, store Store, remote Remote, refresh Refresher, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		actor:    actor,
		store:    store,
		remote:   remote,
		refresh:  refresh,
		logger:   logger,
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
}

// WithClock overrides the clock used for validation.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Busy reports whether an action for id is outstanding.
func (c *Coordinator) Busy(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[id]
	return ok
}

func (c *Coordinator) acquire(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inFlight[id]; ok {
		return false
	}
	c.inFlight[id] = struct{}{}
	return true
}

func (c *Coordinator) release(id string) {
	c.mu.Lock()
	delete(c.inFlight, id)
	c.mu.Unlock()
}

// Do validates cmd against the stored request, submits it, replaces the
// store entry with the returned record and waits for a refresh. A refresh
// failure after an accepted action is logged, not returned.
func (c *Coordinator) Do(ctx context.Context, id string, cmd renewal.Command) (renewal.Request, error) {
	if !c.acquire(id) {
		return renewal.Request{}, fmt.Errorf("%w: request %s", ErrInFlight, id)
	}
	defer c.release(id)

	current, err := c.lookup(ctx, id)
	if err != nil {
		return renewal.Request{}, err
	}
	if _, err := renewal.Check(c.actor, current, cmd.Action); err != nil {
		return renewal.Request{}, err
	}
	if err := cmd.Validate(c.now()); err != nil {
		return renewal.Request{}, err
	}

	updated, err := c.remote.Transition(ctx, id, cmd)
	if err != nil {
		if errors.Is(err, renewal.ErrTransitionRejected) || errors.Is(err, renewal.ErrNotFound) {
			if rerr := c.refresh.Refresh(ctx); rerr != nil {
				c.logger.Warn("refresh after rejected action failed", "request_id", id, "error", rerr)
			}
		}
		return renewal.Request{}, fmt.Errorf("workflow: %s %s: %w", cmd.Action, id, err)
	}
	if !renewal.Advances(current.Status, updated.Status) {
		c.logger.Warn("api returned a status behind the local one", "request_id", id, "from", current.Status, "to", updated.Status)
	}

	c.store.Upsert(updated)
	c.afterWrite(ctx, id)
	return updated, nil
}

func (c *Coordinator) lookup(ctx context.Context, id string) (renewal.Request, error) {
	current, err := c.store.Get(id)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, renewal.ErrNotFound) {
		return renewal.Request{}, err
	}
	if rerr := c.refresh.Refresh(ctx); rerr != nil {
		return renewal.Request{}, rerr
	}
	return c.store.Get(id)
}

func (c *Coordinator) afterWrite(ctx context.Context, id string) {
	if err := c.refresh.Refresh(ctx); err != nil {
		c.logger.Warn("refresh after action failed", "request_id", id, "error", err)
	}
}

// RequestRenewal sends an owner's quote request to an agent.
func (c *Coordinator) RequestRenewal(ctx context.Context, params renewal.OwnerRequestParams, vehicleLabel string) (renewal.Request, error) {
	if c.actor.Role != auth.RoleOwner {
		return renewal.Request{}, fmt.Errorf("workflow: only vehicle owners request renewals: %w", api.ErrRoleMismatch)
	}
	params.OwnerID = c.actor.ID
	draft, err := renewal.NewOwnerRequest(params, vehicleLabel, c.now())
	if err != nil {
		return renewal.Request{}, err
	}
	created, err := c.remote.SendUserRequest(ctx, api.UserSendBody{
		AgentID:        draft.AgentRef,
		VehicleID:      draft.VehicleRef,
		Message:        draft.OwnerAsk.Message,
		RenewalAmount:  api.Amount(draft.OwnerAsk.ExpectedAmount),
		InsuranceCover: draft.OwnerAsk.CoverType,
	})
	if err != nil {
		return renewal.Request{}, fmt.Errorf("workflow: request renewal: %w", err)
	}
	c.store.Upsert(created)
	c.afterWrite(ctx, created.ID)
	return created, nil
}

// Propose sends an agent's renewal proposal to a vehicle's owner.
func (c *Coordinator) Propose(ctx context.Context, params renewal.AgentProposalParams, message string) (renewal.Request, error) {
	if c.actor.Role != auth.RoleAgent {
		return renewal.Request{}, fmt.Errorf("workflow: only insurance agents send proposals: %w", api.ErrRoleMismatch)
	}
	params.AgentID = c.actor.ID
	draft, err := renewal.NewAgentProposal(params, c.now())
	if err != nil {
		return renewal.Request{}, err
	}
	created, err := c.remote.SendAgentProposal(ctx, api.AgentSendBody{
		VehicleID: draft.VehicleRef,
		OfferBody: api.OfferBody{
			RenewalAmount:   api.Amount(draft.Offer.Amount),
			InsuranceCover:  draft.Offer.CoverType,
			CoverageDetails: draft.Offer.CoverageDetails,
		},
		Message: strings.TrimSpace(message),
	})
	if err != nil {
		return renewal.Request{}, fmt.Errorf("workflow: propose: %w", err)
	}
	c.store.Upsert(created)
	c.afterWrite(ctx, created.ID)
	return created, nil
}
