package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fleettrackr/api"
	"fleettrackr/auth"
	"fleettrackr/config"
	"fleettrackr/renewal"
	"fleettrackr/session"
)

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}

func signToken(t *testing.T, userID string, role auth.Role, name string, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    string(role),
		"name":    name,
		"exp":     exp.Unix(),
	}).SignedString([]byte("cli-test"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

// fakeAPI serves the renewal endpoints from memory, applying transitions with
// the same engine the client validates against.
type fakeAPI struct {
	mu          sync.Mutex
	reqs        map[string]renewal.Request
	order       []string
	events      map[string][]api.TimelineEvent
	vehicles    []api.VehicleRef
	ownerToken  string
	agentToken  string
	listCalls   int
	transitions int
	onList      func(call int, reqs map[string]renewal.Request)
	nextID      int
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	exp := time.Now().Add(time.Hour)
	soon := time.Now().AddDate(0, 0, 10).UTC().Truncate(24 * time.Hour)
	f := &fakeAPI{
		reqs:       make(map[string]renewal.Request),
		events:     make(map[string][]api.TimelineEvent),
		ownerToken: signToken(t, "owner-1", auth.RoleOwner, "Olive", exp),
		agentToken: signToken(t, "agent-1", auth.RoleAgent, "Alan", exp),
		vehicles: []api.VehicleRef{{
			ID:                  "veh-1",
			RegistrationNumber:  "AB12CDE",
			Make:                "Ford",
			Model:               "Transit",
			InsuranceProvider:   "OldCo",
			InsuranceNumber:     "OLD-1",
			InsuranceExpiryDate: &api.Date{Time: soon},
		}},
	}
	return f
}

func (f *fakeAPI) add(req renewal.Request) {
	if req.Owner.Name == "" {
		req.Owner = renewal.Contact{Name: "Olive", Phone: "555-0100", Email: "olive@example.com", Address: "1 Fleet St"}
	}
	if req.Agent.Name == "" {
		req.Agent = renewal.Agent{Name: "Alan", Company: "Acme"}
	}
	if req.Vehicle.RegistrationNumber == "" {
		req.Vehicle = renewal.Vehicle{RegistrationNumber: "AB12CDE", Make: "Ford", Model: "Transit"}
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().Add(-time.Hour).UTC()
		req.UpdatedAt = req.CreatedAt
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reqs[req.ID]; !ok {
		f.order = append(f.order, req.ID)
	}
	f.reqs[req.ID] = req
}

func (f *fakeAPI) get(id string) renewal.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[id]
}

func (f *fakeAPI) transitionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transitions
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", f.login)
	mux.HandleFunc("GET /api/insurance/user-requests", f.authed(f.list))
	mux.HandleFunc("GET /api/insurance/agent/incoming-requests", f.authed(f.list))
	mux.HandleFunc("GET /api/insurance/requests/{id}/timeline", f.authed(f.timeline))
	mux.HandleFunc("PUT /api/insurance/", f.authed(f.transition))
	mux.HandleFunc("POST /api/insurance/user/send-request", f.authed(f.sendUserRequest))
	mux.HandleFunc("POST /api/insurance/agent/send-request", f.authed(f.sendProposal))
	mux.HandleFunc("GET /api/insurance/agent/expiring-vehicles", f.authed(f.expiring))
	mux.HandleFunc("GET /api/insurance/agent/stats", f.authed(f.stats))
	mux.HandleFunc("GET /api/vehicles", f.authed(f.listVehicles))
	mux.HandleFunc("POST /api/vehicles", f.authed(f.addVehicle))
	return mux
}

type actorHandler func(w http.ResponseWriter, r *http.Request, actor renewal.Actor)

func (f *fakeAPI) authed(next actorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := session.New(r.Header.Get("Authorization"))
		if err != nil {
			writeFake(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
			return
		}
		next(w, r, sess.Actor())
	}
}

func (f *fakeAPI) login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password != "password1" {
		writeFake(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
		return
	}
	writeFake(w, http.StatusOK, api.LoginResponse{
		Token: f.ownerToken,
		User:  api.UserRef{ID: "owner-1", Name: "Olive", Email: req.Email},
		Role:  string(auth.RoleOwner),
	})
}

func (f *fakeAPI) list(w http.ResponseWriter, r *http.Request, actor renewal.Actor) {
	f.mu.Lock()
	f.listCalls++
	if f.onList != nil {
		f.onList(f.listCalls, f.reqs)
	}
	out := []api.WireRequest{}
	for _, id := range f.order {
		req := f.reqs[id]
		if req.Party(actor) {
			out = append(out, api.EncodeRequest(req))
		}
	}
	f.mu.Unlock()
	writeFake(w, http.StatusOK, out)
}

func (f *fakeAPI) timeline(w http.ResponseWriter, r *http.Request, actor renewal.Actor) {
	f.mu.Lock()
	events := append([]api.TimelineEvent{}, f.events[r.PathValue("id")]...)
	f.mu.Unlock()
	writeFake(w, http.StatusOK, events)
}

func (f *fakeAPI) transition(w http.ResponseWriter, r *http.Request, actor renewal.Actor) {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	id := path[strings.LastIndex(path, "/")+1:]

	cmd := renewal.Command{}
	for _, c := range actionCommands {
		if p, err := api.TransitionPath(c.action, id); err == nil && p == path {
			cmd.Action = c.action
		}
	}
	if cmd.Action == "" {
		writeFake(w, http.StatusNotFound, map[string]string{"message": "no such endpoint"})
		return
	}

	switch cmd.Action {
	case renewal.ActionSendOffer:
		var body api.OfferBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		cmd.Offer = &renewal.Offer{Amount: float64(body.RenewalAmount), CoverType: body.InsuranceCover, CoverageDetails: body.CoverageDetails}
	case renewal.ActionDecline, renewal.ActionReject, renewal.ActionRejectOffer:
		var body api.RejectBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		cmd.Reason = body.RejectionReason
	case renewal.ActionComplete:
		var body api.CompleteBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		cmd.Completion = &renewal.CompletionDetails{PolicyNumber: body.NewPolicyNumber, ExpiryDate: body.NewExpiryDate.Time, Provider: body.InsuranceProvider}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions++
	req, ok := f.reqs[id]
	if !ok {
		writeFake(w, http.StatusNotFound, map[string]string{"message": "request not found"})
		return
	}
	next, err := renewal.Apply(actor, req, cmd, time.Now().UTC())
	if err != nil {
		writeFake(w, http.StatusConflict, map[string]string{"message": err.Error()})
		return
	}
	f.reqs[id] = next
	f.events[id] = append(f.events[id], api.TimelineEvent{
		Seq: len(f.events[id]) + 1, From: string(req.Status), To: string(next.Status), ActorID: actor.ID, At: api.Date{Time: next.UpdatedAt},
	})
	writeFake(w, http.StatusOK, api.EncodeRequest(next))
}

func (f *fakeAPI) newID() string {
	f.nextID++
	return fmt.Sprintf("req-new-%d", f.nextID)
}

func (f *fakeAPI) sendUserRequest(w http.ResponseWriter, r *http.Request, actor renewal.Actor) {
	var body api.UserSendBody
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	id := f.newID()
	f.mu.Unlock()
	req, err := renewal.NewOwnerRequest(renewal.OwnerRequestParams{
		ID:             id,
		OwnerID:        actor.ID,
		AgentID:        body.AgentID,
		VehicleID:      body.VehicleID,
		ExpectedAmount: float64(body.RenewalAmount),
		CoverType:      body.InsuranceCover,
		Message:        body.Message,
	}, "AB12CDE", time.Now().UTC())
	if err != nil {
		writeFake(w, http.StatusUnprocessableEntity, map[string]string{"message": err.Error()})
		return
	}
	f.add(req)
	writeFake(w, http.StatusCreated, api.EncodeRequest(f.get(id)))
}

func (f *fakeAPI) sendProposal(w http.ResponseWriter, r *http.Request, actor renewal.Actor) {
	var body api.AgentSendBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.VehicleID != "veh-1" {
		writeFake(w, http.StatusNotFound, map[string]string{"message": "vehicle not found"})
		return
	}

	f.mu.Lock()
	id := f.newID()
	f.mu.Unlock()
	req, err := renewal.NewAgentProposal(renewal.AgentProposalParams{
		ID:        id,
		AgentID:   actor.ID,
		OwnerID:   "owner-1",
		VehicleID: body.VehicleID,
		Offer:     renewal.Offer{Amount: float64(body.RenewalAmount), CoverType: body.InsuranceCover, CoverageDetails: body.CoverageDetails},
	}, time.Now().UTC())
	if err != nil {
		writeFake(w, http.StatusUnprocessableEntity, map[string]string{"message": err.Error()})
		return
	}
	f.add(req)
	writeFake(w, http.StatusCreated, api.EncodeRequest(f.get(id)))
}

func (f *fakeAPI) expiring(w http.ResponseWriter, r *http.Request, actor renewal.Actor) {
	if actor.Role != auth.RoleAgent {
		writeFake(w, http.StatusForbidden, map[string]string{"message": "forbidden"})
		return
	}
	v := f.vehicles[0]
	writeFake(w, http.StatusOK, []api.ExpiringVehicle{{
		ID:                  v.ID,
		RegistrationNumber:  v.RegistrationNumber,
		InsuranceProvider:   v.InsuranceProvider,
		InsuranceExpiryDate: v.InsuranceExpiryDate,
		Owner:               api.UserRef{ID: "owner-1", Name: "Olive"},
	}})
}

func (f *fakeAPI) stats(w http.ResponseWriter, r *http.Request, actor renewal.Actor) {
	writeFake(w, http.StatusOK, api.Stats{Total: 3, Pending: 1, OfferSent: 1, Completed: 1, Expiring: 2})
}

func (f *fakeAPI) listVehicles(w http.ResponseWriter, r *http.Request, actor renewal.Actor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeFake(w, http.StatusOK, f.vehicles)
}

func (f *fakeAPI) addVehicle(w http.ResponseWriter, r *http.Request, actor renewal.Actor) {
	var body api.VehicleBody
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	defer f.mu.Unlock()
	reg := strings.ToUpper(strings.TrimSpace(body.RegistrationNumber))
	for _, v := range f.vehicles {
		if v.RegistrationNumber == reg {
			writeFake(w, http.StatusConflict, map[string]string{"message": "vehicle already registered"})
			return
		}
	}
	v := api.VehicleRef{ID: "veh-2", RegistrationNumber: reg, Make: body.Make, Model: body.Model}
	f.vehicles = append(f.vehicles, v)
	writeFake(w, http.StatusCreated, v)
}

func writeFake(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// env is one configured CLI environment against a fake server.
type env struct {
	api        *fakeAPI
	server     *httptest.Server
	configFile string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	f := newFakeAPI(t)
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	return &env{api: f, server: srv, configFile: filepath.Join(t.TempDir(), "config.yaml")}
}

func (e *env) signIn(t *testing.T, token string) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.API.BaseURL = e.server.URL + "/api"
	cfg.API.Token = token
	cfg.Sync.Interval = time.Second
	cfg.Log.Level = "error"
	if err := config.Save(e.configFile, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", e.configFile}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stripANSI(out.String()), err
}

func ownerRequest(id string, status renewal.Status) renewal.Request {
	req := renewal.Request{
		ID:         id,
		Type:       renewal.TypeUserToAgent,
		Status:     status,
		VehicleRef: "veh-1",
		OwnerRef:   "owner-1",
		AgentRef:   "agent-1",
		OwnerAsk:   &renewal.OwnerAsk{ExpectedAmount: 400, CoverType: "comprehensive", Message: "Renewal for AB12CDE"},
	}
	if status != renewal.StatusPending {
		req.Offer = renewal.Offer{Amount: 420, CoverType: "comprehensive", CoverageDetails: "EU cover"}
	}
	return req
}

func TestLogin_SavesToken(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, "")

	out, err := e.run(t, "login", "--email", "olive@example.com", "--password", "password1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out, "Signed in as Olive (user)") {
		t.Fatalf("unexpected output: %s", out)
	}

	cfg, err := config.Load(e.configFile)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.API.Token != e.api.ownerToken {
		t.Fatalf("token not saved")
	}
}

func TestLogin_BadPassword(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, "")

	_, err := e.run(t, "login", "--email", "olive@example.com", "--password", "nope")
	if err == nil || err.Error() != "invalid email or password" {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestRequestsList_FiltersByLegacyStatus(t *testing.T) {
	e := newEnv(t)
	e.api.add(ownerRequest("req-1", renewal.StatusPending))
	e.api.add(ownerRequest("req-2", renewal.StatusAccepted))
	e.signIn(t, e.api.ownerToken)

	out, err := e.run(t, "requests", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, want := range []string{"req-1", "req-2", "Alan (Acme)", "2 total: 1 pending"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}

	out, err = e.run(t, "requests", "list", "--status", "approved")
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if strings.Contains(out, "req-1") || !strings.Contains(out, "req-2") {
		t.Fatalf("filter not applied:\n%s", out)
	}
}

func TestRequestsList_Empty(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, e.api.ownerToken)

	out, err := e.run(t, "requests", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "No renewal requests found") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestRequestsShow_ContactHiddenFromAgentUntilAccepted(t *testing.T) {
	e := newEnv(t)
	e.api.add(ownerRequest("req-1", renewal.StatusPending))
	e.api.add(ownerRequest("req-2", renewal.StatusAccepted))
	e.signIn(t, e.api.agentToken)

	out, err := e.run(t, "requests", "show", "req-1")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if strings.Contains(out, "555-0100") || !strings.Contains(out, "shared once the renewal is accepted") {
		t.Fatalf("contact leaked on pending request:\n%s", out)
	}
	if !strings.Contains(out, "offer,decline") {
		t.Fatalf("expected agent actions:\n%s", out)
	}

	out, err = e.run(t, "requests", "show", "req-2")
	if err != nil {
		t.Fatalf("show accepted: %v", err)
	}
	if !strings.Contains(out, "555-0100") {
		t.Fatalf("expected contact on accepted request:\n%s", out)
	}
}

func TestRequestsShow_Unknown(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, e.api.ownerToken)

	_, err := e.run(t, "requests", "show", "missing")
	if !errors.Is(err, renewal.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOffer_AdvancesRequestAndRecordsHistory(t *testing.T) {
	e := newEnv(t)
	e.api.add(ownerRequest("req-1", renewal.StatusPending))
	e.signIn(t, e.api.agentToken)

	out, err := e.run(t, "offer", "req-1", "--amount", "420", "--cover", "comprehensive", "--details", "EU cover")
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if !strings.Contains(out, "req-1 is now offer_sent") {
		t.Fatalf("unexpected output: %s", out)
	}
	if got := e.api.get("req-1"); got.Status != renewal.StatusOfferSent || got.Offer.Amount != 420 {
		t.Fatalf("server state not updated: %+v", got)
	}

	out, err = e.run(t, "requests", "show", "req-1")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "1. pending -> offer_sent") {
		t.Fatalf("expected history line:\n%s", out)
	}
}

func TestTransition_LocalRejectionNeverReachesAPI(t *testing.T) {
	e := newEnv(t)
	e.api.add(ownerRequest("req-1", renewal.StatusPending))
	e.signIn(t, e.api.ownerToken)

	_, err := e.run(t, "accept", "req-1")
	if !errors.Is(err, renewal.ErrTransitionRejected) {
		t.Fatalf("expected transition rejected, got %v", err)
	}
	if n := e.api.transitionCount(); n != 0 {
		t.Fatalf("expected no transition calls, got %d", n)
	}

	var buf bytes.Buffer
	PrintError(&buf, err)
	if !strings.Contains(stripANSI(buf.String()), "[warning]") {
		t.Fatalf("expected warning alert, got %q", buf.String())
	}
}

func TestComplete_PastExpiryIsValidationError(t *testing.T) {
	e := newEnv(t)
	e.api.add(ownerRequest("req-1", renewal.StatusAccepted))
	e.signIn(t, e.api.agentToken)

	_, err := e.run(t, "complete", "req-1", "--policy", "POL-9", "--expiry", "2000-01-01")
	if !errors.Is(err, renewal.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n := e.api.transitionCount(); n != 0 {
		t.Fatalf("expected no transition calls, got %d", n)
	}

	next := time.Now().AddDate(1, 0, 0).Format("2006-01-02")
	out, err := e.run(t, "complete", "req-1", "--policy", "POL-9", "--expiry", next, "--provider", "Acme")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !strings.Contains(out, "req-1 is now completed") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestRejectOffer_BlankReasonIsEmpty(t *testing.T) {
	e := newEnv(t)
	e.api.add(ownerRequest("req-1", renewal.StatusOfferSent))
	e.signIn(t, e.api.ownerToken)

	if _, err := e.run(t, "reject-offer", "req-1", "--reason", "   "); err != nil {
		t.Fatalf("reject-offer: %v", err)
	}
	got := e.api.get("req-1")
	if got.Status != renewal.StatusRejected || got.RejectionReason != "" {
		t.Fatalf("unexpected state: %+v", got)
	}
}

func TestRequestRenewal_ResolvesRegistration(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, e.api.ownerToken)

	out, err := e.run(t, "request-renewal", "--vehicle", "ab12cde", "--agent", "agent-1", "--amount", "400", "--cover", "comprehensive")
	if err != nil {
		t.Fatalf("request-renewal: %v", err)
	}
	if !strings.Contains(out, "sent for AB12CDE") {
		t.Fatalf("unexpected output: %s", out)
	}
	got := e.api.get("req-new-1")
	if got.VehicleRef != "veh-1" || got.OwnerAsk == nil || got.OwnerAsk.Message != "Insurance renewal request for AB12CDE" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestRequestRenewal_ValidatesLocally(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, e.api.ownerToken)

	_, err := e.run(t, "request-renewal", "--vehicle", "veh-1", "--agent", "agent-1", "--cover", "comprehensive")
	if !errors.Is(err, renewal.ErrValidation) {
		t.Fatalf("expected validation error for missing amount, got %v", err)
	}
}

func TestPropose_LooksUpOwnerFromExpiringVehicles(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, e.api.agentToken)

	out, err := e.run(t, "propose", "--vehicle", "AB12CDE", "--amount", "300", "--cover", "third party", "--details", "Courtesy car")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if !strings.Contains(out, "Proposal req-new-1 sent") {
		t.Fatalf("unexpected output: %s", out)
	}
	got := e.api.get("req-new-1")
	if got.Type != renewal.TypeAgentToUser || got.OwnerRef != "owner-1" || got.AgentRef != "agent-1" {
		t.Fatalf("unexpected proposal: %+v", got)
	}
}

func TestVehiclesAdd_DuplicateShowsServerMessage(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, e.api.ownerToken)

	_, err := e.run(t, "vehicles", "add", "--reg", "ab12cde")
	if err == nil || err.Error() != "vehicle already registered" {
		t.Fatalf("expected duplicate message, got %v", err)
	}
	if errors.Is(err, renewal.ErrTransitionRejected) {
		t.Fatalf("duplicate vehicle must not read as a stale request")
	}

	out, err := e.run(t, "vehicles", "add", "--reg", "zz99zzz", "--make", "VW", "--expiry", "2030-01-31")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(out, "Vehicle ZZ99ZZZ added") {
		t.Fatalf("unexpected output: %s", out)
	}

	out, err = e.run(t, "vehicles", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "AB12CDE") || !strings.Contains(out, "ZZ99ZZZ") {
		t.Fatalf("unexpected vehicles:\n%s", out)
	}
}

func TestStats(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, e.api.agentToken)

	out, err := e.run(t, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "Total:      3") || !strings.Contains(out, "Expiring vehicles: 2") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestExpiredSession_AsksToSignIn(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, signToken(t, "owner-1", auth.RoleOwner, "Olive", time.Now().Add(-time.Minute)))

	_, err := e.run(t, "requests", "list")
	if !errors.Is(err, session.ErrExpired) {
		t.Fatalf("expected expired session, got %v", err)
	}

	var buf bytes.Buffer
	PrintError(&buf, err)
	if !strings.Contains(buf.String(), "fleettrackr login") {
		t.Fatalf("expected sign-in hint, got %q", buf.String())
	}
}

func TestWatch_ReportsStatusChanges(t *testing.T) {
	e := newEnv(t)
	e.api.add(ownerRequest("req-1", renewal.StatusPending))
	e.api.onList = func(call int, reqs map[string]renewal.Request) {
		if call == 2 {
			req := reqs["req-1"]
			req.Status = renewal.StatusOfferSent
			req.Offer = renewal.Offer{Amount: 420, CoverType: "comprehensive", CoverageDetails: "EU cover"}
			reqs["req-1"] = req
		}
	}
	e.signIn(t, e.api.ownerToken)

	out, err := e.run(t, "requests", "watch", "--polls", "2", "--interval", "1s")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if !strings.Contains(out, "req-1") || !strings.Contains(out, "req-1 pending -> offer_sent") {
		t.Fatalf("expected change line:\n%s", out)
	}
}

func TestWatch_StopsWhenRoleHasNoList(t *testing.T) {
	e := newEnv(t)
	e.signIn(t, signToken(t, "admin-1", auth.RoleAdmin, "Ada", time.Now().Add(time.Hour)))

	done := make(chan error, 1)
	go func() {
		_, err := e.run(t, "requests", "watch", "--interval", "10ms")
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, api.ErrRoleMismatch) {
			t.Fatalf("expected role mismatch, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch kept polling after an access error")
	}
}
