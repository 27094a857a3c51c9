package insurance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"fleettrackr/auth"
	"fleettrackr/renewal"
)

type fixture struct {
	svc     *Service
	repo    *MemoryRepository
	users   *auth.MemoryRepository
	owner   renewal.Actor
	agent   renewal.Actor
	other   renewal.Actor
	vehicle Vehicle
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	users := auth.NewMemoryRepository()
	phone := "555-0100"
	company := "Acme Insurance"
	owner, err := users.CreateUser(ctx, auth.CreateUserParams{Email: "owner@example.com", Name: "Olive Owner", Phone: &phone, Role: auth.RoleOwner})
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	agent, err := users.CreateUser(ctx, auth.CreateUserParams{Email: "agent@example.com", Name: "Arthur Agent", Company: &company, Role: auth.RoleAgent})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	other, err := users.CreateUser(ctx, auth.CreateUserParams{Email: "other@example.com", Name: "Other Agent", Role: auth.RoleAgent})
	if err != nil {
		t.Fatalf("create other: %v", err)
	}

	repo := NewMemoryRepository()
	svc := NewService(repo, users).WithClock(func() time.Time { return now })

	f := &fixture{
		svc:   svc,
		repo:  repo,
		users: users,
		owner: renewal.Actor{ID: owner.ID, Role: auth.RoleOwner},
		agent: renewal.Actor{ID: agent.ID, Role: auth.RoleAgent},
		other: renewal.Actor{ID: other.ID, Role: auth.RoleAgent},
		now:   now,
	}
	expiry := now.Add(10 * 24 * time.Hour)
	f.vehicle, err = svc.AddVehicle(ctx, f.owner, Vehicle{RegistrationNumber: " ab12cde ", Make: "Ford", Model: "Transit", InsuranceExpiry: &expiry})
	if err != nil {
		t.Fatalf("add vehicle: %v", err)
	}
	return f
}

func (f *fixture) ownerRequest(t *testing.T) renewal.Request {
	t.Helper()
	req, err := f.svc.CreateOwnerRequest(context.Background(), f.owner, renewal.OwnerRequestParams{
		AgentID:        f.agent.ID,
		VehicleID:      f.vehicle.ID,
		ExpectedAmount: 5000,
		CoverType:      "comprehensive",
	})
	if err != nil {
		t.Fatalf("create owner request: %v", err)
	}
	return req
}

func TestAddVehicleNormalizesRegistration(t *testing.T) {
	f := newFixture(t)
	if f.vehicle.RegistrationNumber != "AB12CDE" {
		t.Fatalf("expected normalized registration, got %q", f.vehicle.RegistrationNumber)
	}

	_, err := f.svc.AddVehicle(context.Background(), f.owner, Vehicle{RegistrationNumber: "ab12cde"})
	if !errors.Is(err, ErrDuplicateVehicle) {
		t.Fatalf("expected duplicate vehicle, got %v", err)
	}
	if _, err := f.svc.AddVehicle(context.Background(), f.agent, Vehicle{RegistrationNumber: "XY1"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for agent, got %v", err)
	}
}

func TestRegistrationIsUniquePerOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	second, err := f.users.CreateUser(ctx, auth.CreateUserParams{Email: "second@example.com", Name: "Sam Second", Role: auth.RoleOwner})
	if err != nil {
		t.Fatalf("create second owner: %v", err)
	}
	v, err := f.svc.AddVehicle(ctx, renewal.Actor{ID: second.ID, Role: auth.RoleOwner}, Vehicle{RegistrationNumber: " ab12cde "})
	if err != nil {
		t.Fatalf("second owner adding the same registration: %v", err)
	}
	if v.OwnerID != second.ID || v.RegistrationNumber != "AB12CDE" {
		t.Fatalf("unexpected vehicle %+v", v)
	}

	mine, err := f.svc.Vehicles(ctx, f.owner)
	if err != nil {
		t.Fatalf("list vehicles: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != f.vehicle.ID {
		t.Fatalf("first owner should still see only their vehicle, got %+v", mine)
	}
}

func TestOwnerRequestLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.ownerRequest(t)
	if req.Status != renewal.StatusPending || req.Type != renewal.TypeUserToAgent {
		t.Fatalf("unexpected new request %s/%s", req.Type, req.Status)
	}
	if req.OwnerAsk == nil || req.OwnerAsk.Message != "Insurance renewal request for AB12CDE" {
		t.Fatalf("expected default message, got %+v", req.OwnerAsk)
	}
	if req.Agent.Company != "Acme Insurance" || req.Vehicle.Make != "Ford" {
		t.Fatalf("expected populated snapshots, got %+v %+v", req.Agent, req.Vehicle)
	}

	offered, err := f.svc.Transition(ctx, f.agent, req.ID, renewal.Command{
		Action: renewal.ActionSendOffer,
		Offer:  &renewal.Offer{Amount: 5500, CoverType: "comprehensive", CoverageDetails: "incl. windscreen"},
	})
	if err != nil {
		t.Fatalf("send offer: %v", err)
	}
	if offered.Status != renewal.StatusOfferSent || offered.Offer.Amount != 5500 {
		t.Fatalf("unexpected offer result %+v", offered)
	}
	if offered.OwnerAsk.ExpectedAmount != 5000 {
		t.Fatalf("owner ask changed: %+v", offered.OwnerAsk)
	}

	accepted, err := f.svc.Transition(ctx, f.owner, req.ID, renewal.Command{Action: renewal.ActionAcceptOffer})
	if err != nil {
		t.Fatalf("accept offer: %v", err)
	}
	if accepted.Status != renewal.StatusAccepted {
		t.Fatalf("expected accepted, got %s", accepted.Status)
	}

	expiry := f.now.AddDate(1, 0, 0)
	completed, err := f.svc.Transition(ctx, f.agent, req.ID, renewal.Command{
		Action:     renewal.ActionComplete,
		Completion: &renewal.CompletionDetails{PolicyNumber: "POL123", ExpiryDate: expiry, Provider: "Acme"},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != renewal.StatusCompleted || completed.CompletedAt == nil {
		t.Fatalf("unexpected completion %+v", completed)
	}

	vehicle, err := f.repo.GetVehicle(ctx, f.vehicle.ID)
	if err != nil {
		t.Fatalf("get vehicle: %v", err)
	}
	if vehicle.PolicyNumber != "POL123" || vehicle.InsuranceProvider != "Acme" || !vehicle.InsuranceExpiry.Equal(expiry) {
		t.Fatalf("vehicle not updated: %+v", vehicle)
	}

	events, err := f.svc.Timeline(ctx, f.owner, req.ID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	want := []renewal.Status{renewal.StatusOfferSent, renewal.StatusAccepted, renewal.StatusCompleted}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, ev := range events {
		if ev.Seq != i+1 || ev.To != want[i] {
			t.Fatalf("event %d: got seq=%d to=%s", i, ev.Seq, ev.To)
		}
	}
}

func TestAgentProposalRejectedThenAcceptFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.CreateAgentProposal(ctx, f.agent, f.vehicle.ID, renewal.Offer{Amount: 4200, CoverType: "third party", CoverageDetails: "fire and theft"})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if req.OwnerRef != f.owner.ID || req.OwnerAsk != nil {
		t.Fatalf("unexpected proposal %+v", req)
	}

	reason := "  "
	rejected, err := f.svc.Transition(ctx, f.owner, req.ID, renewal.Command{Action: renewal.ActionReject, Reason: &reason})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != renewal.StatusRejected || rejected.RejectionReason != "" {
		t.Fatalf("unexpected rejection %+v", rejected)
	}

	_, err = f.svc.Transition(ctx, f.owner, req.ID, renewal.Command{Action: renewal.ActionAccept})
	if !errors.Is(err, renewal.ErrTransitionRejected) {
		t.Fatalf("expected transition rejected, got %v", err)
	}
}

func TestTransitionGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.ownerRequest(t)

	tests := []struct {
		name  string
		actor renewal.Actor
		id    string
		cmd   renewal.Command
		want  error
	}{
		{"non-party agent", f.other, req.ID, renewal.Command{Action: renewal.ActionDecline}, ErrForbidden},
		{"owner sends offer", f.owner, req.ID, renewal.Command{Action: renewal.ActionSendOffer, Offer: &renewal.Offer{Amount: 1, CoverType: "x"}}, renewal.ErrTransitionRejected},
		{"accept on user request", f.owner, req.ID, renewal.Command{Action: renewal.ActionAccept}, renewal.ErrTransitionRejected},
		{"zero offer", f.agent, req.ID, renewal.Command{Action: renewal.ActionSendOffer, Offer: &renewal.Offer{CoverType: "x"}}, renewal.ErrValidation},
		{"malformed id", f.agent, "nope", renewal.Command{Action: renewal.ActionDecline}, renewal.ErrNotFound},
		{"unknown id", f.agent, "6f1c1f43-2a57-4f0e-9d43-7c3a4c0f3b11", renewal.Command{Action: renewal.ActionDecline}, renewal.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Transition(ctx, tt.actor, tt.id, tt.cmd)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	got, err := f.repo.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != renewal.StatusPending {
		t.Fatalf("failed transitions changed status to %s", got.Status)
	}
}

func TestCompletionRequiresFutureExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.svc.CreateAgentProposal(ctx, f.agent, f.vehicle.ID, renewal.Offer{Amount: 100, CoverType: "basic", CoverageDetails: "road risk"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Transition(ctx, f.owner, req.ID, renewal.Command{Action: renewal.ActionAccept}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	_, err = f.svc.Transition(ctx, f.agent, req.ID, renewal.Command{
		Action:     renewal.ActionComplete,
		Completion: &renewal.CompletionDetails{PolicyNumber: "P1", ExpiryDate: f.now},
	})
	if !errors.Is(err, renewal.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateOwnerRequestChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateOwnerRequest(ctx, f.owner, renewal.OwnerRequestParams{AgentID: f.owner.ID, VehicleID: f.vehicle.ID, ExpectedAmount: 10, CoverType: "x"})
	var verr *renewal.ValidationError
	if !errors.As(err, &verr) || verr.Field != "agentId" {
		t.Fatalf("expected agentId validation error, got %v", err)
	}

	_, err = f.svc.CreateOwnerRequest(ctx, f.owner, renewal.OwnerRequestParams{AgentID: f.agent.ID, VehicleID: "missing", ExpectedAmount: 10, CoverType: "x"})
	if !errors.As(err, &verr) || verr.Field != "vehicleId" {
		t.Fatalf("expected vehicleId validation error, got %v", err)
	}

	_, err = f.svc.CreateOwnerRequest(ctx, f.agent, renewal.OwnerRequestParams{AgentID: f.agent.ID, VehicleID: f.vehicle.ID, ExpectedAmount: 10, CoverType: "x"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestListAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.ownerRequest(t)
	if _, err := f.svc.Transition(ctx, f.agent, first.ID, renewal.Command{Action: renewal.ActionDecline}); err != nil {
		t.Fatalf("decline: %v", err)
	}
	f.now = f.now.Add(time.Minute)
	f.svc.WithClock(func() time.Time { return f.now })
	second := f.ownerRequest(t)

	list, err := f.svc.ListForActor(ctx, f.agent)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}

	if others, err := f.svc.ListForActor(ctx, f.other); err != nil || len(others) != 0 {
		t.Fatalf("expected empty list for other agent, got %v %v", others, err)
	}
	if _, err := f.svc.ListForActor(ctx, renewal.Actor{ID: "x", Role: auth.RoleAdmin}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for admin, got %v", err)
	}

	stats, err := f.svc.Stats(ctx, f.agent)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := Stats{Total: 2, Pending: 1, Rejected: 1, Expiring: 1}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
}

func TestExpiringVehiclesWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	far := f.now.AddDate(0, 6, 0)
	if _, err := f.svc.AddVehicle(ctx, f.owner, Vehicle{RegistrationNumber: "FAR1", InsuranceExpiry: &far}); err != nil {
		t.Fatalf("add vehicle: %v", err)
	}

	got, err := f.svc.ExpiringVehicles(ctx, f.agent)
	if err != nil {
		t.Fatalf("expiring: %v", err)
	}
	if len(got) != 1 || got[0].Vehicle.ID != f.vehicle.ID || got[0].Owner.Name != "Olive Owner" {
		t.Fatalf("unexpected expiring list %+v", got)
	}
	if _, err := f.svc.ExpiringVehicles(ctx, f.owner); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for owner, got %v", err)
	}
}

func TestNotificationsFollowTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.ownerRequest(t)

	notes, err := f.svc.Notifications(ctx, f.agent)
	if err != nil || len(notes) != 1 || notes[0].RequestID != req.ID {
		t.Fatalf("expected one agent notification, got %v %v", notes, err)
	}

	if _, err := f.svc.Transition(ctx, f.agent, req.ID, renewal.Command{Action: renewal.ActionSendOffer, Offer: &renewal.Offer{Amount: 10, CoverType: "basic", CoverageDetails: "road risk"}}); err != nil {
		t.Fatalf("offer: %v", err)
	}
	notes, err = f.svc.Notifications(ctx, f.owner)
	if err != nil || len(notes) != 1 {
		t.Fatalf("expected one owner notification, got %v %v", notes, err)
	}
	if _, err := ulid.Parse(notes[0].ID); err != nil {
		t.Fatalf("expected a ULID notification id, got %q: %v", notes[0].ID, err)
	}
}
