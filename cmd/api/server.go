package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fleettrackr/api"
	"fleettrackr/auth"
	"fleettrackr/insurance"
	"fleettrackr/renewal"
	"fleettrackr/view"
)

type ctxKey string

const (
	ctxKeyUserID ctxKey = "userID"
	ctxKeyRole   ctxKey = "role"
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	Agents(ctx context.Context) ([]auth.User, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type renewalService interface {
	ListForActor(ctx context.Context, actor renewal.Actor) ([]renewal.Request, error)
	Get(ctx context.Context, actor renewal.Actor, id string) (renewal.Request, error)
	Timeline(ctx context.Context, actor renewal.Actor, id string) ([]insurance.Event, error)
	Transition(ctx context.Context, actor renewal.Actor, id string, cmd renewal.Command) (renewal.Request, error)
	CreateOwnerRequest(ctx context.Context, actor renewal.Actor, params renewal.OwnerRequestParams) (renewal.Request, error)
	CreateAgentProposal(ctx context.Context, actor renewal.Actor, vehicleID string, offer renewal.Offer) (renewal.Request, error)
	ExpiringVehicles(ctx context.Context, actor renewal.Actor) ([]insurance.ExpiringVehicle, error)
	Stats(ctx context.Context, actor renewal.Actor) (insurance.Stats, error)
	Notifications(ctx context.Context, actor renewal.Actor) ([]insurance.Notification, error)
	AddVehicle(ctx context.Context, actor renewal.Actor, v insurance.Vehicle) (insurance.Vehicle, error)
	Vehicles(ctx context.Context, actor renewal.Actor) ([]insurance.Vehicle, error)
}

// Server serves the insurance REST API.
type Server struct {
	authService    authService
	renewalService renewalService
	logger         *slog.Logger
}

// logRequests writes one line per request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

// Routes mounts every endpoint under /api.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.logRequests, middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/register", s.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/insurance/insurance-agents", s.handleAgents)
			r.Get("/insurance/requests/{id}", s.handleGetRequest)
			r.Get("/insurance/requests/{id}/timeline", s.handleTimeline)
			r.Get("/notifications", s.handleNotifications)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(auth.RoleOwner))
				r.Get("/insurance/user-requests", s.handleListRequests)
				r.Post("/insurance/user/send-request", s.handleUserSendRequest)
				r.Put("/insurance/accept-offer/{id}", s.handleTransition(renewal.ActionAcceptOffer))
				r.Put("/insurance/reject-offer/{id}", s.handleTransition(renewal.ActionRejectOffer))
				r.Put("/insurance/accept-request/{id}", s.handleTransition(renewal.ActionAccept))
				r.Put("/insurance/reject-request/{id}", s.handleTransition(renewal.ActionReject))
				r.Get("/vehicles", s.handleVehicles)
				r.Post("/vehicles", s.handleAddVehicle)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole(auth.RoleAgent))
				r.Get("/insurance/agent/incoming-requests", s.handleListRequests)
				r.Post("/insurance/agent/send-request", s.handleAgentSendRequest)
				r.Put("/insurance/agent/accept-user-request/{id}", s.handleTransition(renewal.ActionSendOffer))
				r.Put("/insurance/agent/reject-user-request/{id}", s.handleTransition(renewal.ActionDecline))
				r.Put("/insurance/agent/complete-request/{id}", s.handleTransition(renewal.ActionComplete))
				r.Get("/insurance/agent/expiring-vehicles", s.handleExpiringVehicles)
				r.Get("/insurance/agent/stats", s.handleStats)
			})
		})
	})
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actorFrom(r).Role != role {
				writeError(w, http.StatusForbidden, "this endpoint requires role "+string(role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func actorFrom(r *http.Request) renewal.Actor {
	userID, _ := r.Context().Value(ctxKeyUserID).(string)
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	return renewal.Actor{ID: userID, Role: role}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.LoginResponse{
		Token: result.Token,
		User:  userRef(result.User),
		Role:  string(result.User.Role),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.LoginResponse{User: userRef(*user), Role: string(user.Role)})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.authService.Agents(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]api.AgentProfile, 0, len(agents))
	for _, a := range agents {
		out = append(out, api.AgentProfile{ID: a.ID, Name: a.Name, Email: a.Email, Company: deref(a.Company)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	list, err := s.renewalService.ListForActor(r.Context(), actor)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]api.WireRequest, 0, len(list))
	for _, req := range list {
		out = append(out, encodeFor(actor, req))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	req, err := s.renewalService.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeFor(actor, req))
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := s.renewalService.Timeline(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]api.TimelineEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, api.TimelineEvent{
			Seq:     ev.Seq,
			From:    string(ev.From),
			To:      string(ev.To),
			ActorID: ev.ActorID,
			At:      api.Date{Time: ev.CreatedAt},
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleTransition decodes the payload the action carries and applies it.
func (s *Server) handleTransition(action renewal.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd := renewal.Command{Action: action}
		switch action {
		case renewal.ActionSendOffer:
			var body api.OfferBody
			if !decodeBody(w, r, &body) {
				return
			}
			cmd.Offer = &renewal.Offer{
				Amount:          float64(body.RenewalAmount),
				CoverType:       strings.TrimSpace(body.InsuranceCover),
				CoverageDetails: strings.TrimSpace(body.CoverageDetails),
			}
		case renewal.ActionDecline, renewal.ActionReject, renewal.ActionRejectOffer:
			var body api.RejectBody
			if r.ContentLength != 0 && !decodeBody(w, r, &body) {
				return
			}
			cmd.Reason = body.RejectionReason
		case renewal.ActionComplete:
			var body api.CompleteBody
			if !decodeBody(w, r, &body) {
				return
			}
			cmd.Completion = &renewal.CompletionDetails{
				PolicyNumber: strings.TrimSpace(body.NewPolicyNumber),
				ExpiryDate:   body.NewExpiryDate.Time,
				Provider:     strings.TrimSpace(body.InsuranceProvider),
			}
		}

		actor := actorFrom(r)
		updated, err := s.renewalService.Transition(r.Context(), actor, chi.URLParam(r, "id"), cmd)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		s.logger.Info("renewal transition", "request_id", updated.ID, "action", action, "status", updated.Status, "actor", actor.ID)
		writeJSON(w, http.StatusOK, encodeFor(actor, updated))
	}
}

func (s *Server) handleUserSendRequest(w http.ResponseWriter, r *http.Request) {
	var body api.UserSendBody
	if !decodeBody(w, r, &body) {
		return
	}
	actor := actorFrom(r)
	created, err := s.renewalService.CreateOwnerRequest(r.Context(), actor, renewal.OwnerRequestParams{
		AgentID:        body.AgentID,
		VehicleID:      body.VehicleID,
		ExpectedAmount: float64(body.RenewalAmount),
		CoverType:      body.InsuranceCover,
		Message:        body.Message,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, encodeFor(actor, created))
}

func (s *Server) handleAgentSendRequest(w http.ResponseWriter, r *http.Request) {
	var body api.AgentSendBody
	if !decodeBody(w, r, &body) {
		return
	}
	actor := actorFrom(r)
	created, err := s.renewalService.CreateAgentProposal(r.Context(), actor, body.VehicleID, renewal.Offer{
		Amount:          float64(body.RenewalAmount),
		CoverType:       strings.TrimSpace(body.InsuranceCover),
		CoverageDetails: strings.TrimSpace(body.CoverageDetails),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, encodeFor(actor, created))
}

func (s *Server) handleExpiringVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := s.renewalService.ExpiringVehicles(r.Context(), actorFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]api.ExpiringVehicle, 0, len(vehicles))
	for _, ev := range vehicles {
		ref := vehicleRef(ev.Vehicle)
		out = append(out, api.ExpiringVehicle{
			ID:                  ref.ID,
			RegistrationNumber:  ref.RegistrationNumber,
			Make:                ref.Make,
			Model:               ref.Model,
			InsuranceProvider:   ref.InsuranceProvider,
			InsuranceNumber:     ref.InsuranceNumber,
			InsuranceExpiryDate: ref.InsuranceExpiryDate,
			Owner:               userRef(ev.Owner),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.renewalService.Stats(r.Context(), actorFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.Stats{
		Total:     stats.Total,
		Pending:   stats.Pending,
		OfferSent: stats.OfferSent,
		Accepted:  stats.Accepted,
		Rejected:  stats.Rejected,
		Completed: stats.Completed,
		Expiring:  stats.Expiring,
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	notes, err := s.renewalService.Notifications(r.Context(), actorFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]api.Notification, 0, len(notes))
	for _, n := range notes {
		out = append(out, api.Notification{
			ID:        n.ID,
			RequestID: n.RequestID,
			Message:   n.Message,
			Read:      n.Read,
			CreatedAt: api.Date{Time: n.CreatedAt},
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := s.renewalService.Vehicles(r.Context(), actorFrom(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]api.VehicleRef, 0, len(vehicles))
	for _, v := range vehicles {
		out = append(out, vehicleRef(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddVehicle(w http.ResponseWriter, r *http.Request) {
	var body api.VehicleBody
	if !decodeBody(w, r, &body) {
		return
	}
	v := insurance.Vehicle{
		RegistrationNumber: body.RegistrationNumber,
		Make:               body.Make,
		Model:              body.Model,
		InsuranceProvider:  body.InsuranceProvider,
		PolicyNumber:       body.InsuranceNumber,
	}
	if body.InsuranceExpiryDate != nil {
		expiry := body.InsuranceExpiryDate.Time
		v.InsuranceExpiry = &expiry
	}
	created, err := s.renewalService.AddVehicle(r.Context(), actorFrom(r), v)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, vehicleRef(created))
}

// encodeFor renders req with the owner contact scoped to actor.
func encodeFor(actor renewal.Actor, req renewal.Request) api.WireRequest {
	return api.EncodeRequest(view.Project(actor, req, false).Request)
}

func userRef(u auth.User) api.UserRef {
	return api.UserRef{
		ID:      u.ID,
		Name:    u.Name,
		Email:   u.Email,
		Phone:   deref(u.Phone),
		Address: deref(u.Address),
		Company: deref(u.Company),
	}
}

func vehicleRef(v insurance.Vehicle) api.VehicleRef {
	ref := api.VehicleRef{
		ID:                 v.ID,
		RegistrationNumber: v.RegistrationNumber,
		Make:               v.Make,
		Model:              v.Model,
		InsuranceProvider:  v.InsuranceProvider,
		InsuranceNumber:    v.PolicyNumber,
	}
	if v.InsuranceExpiry != nil {
		ref.InsuranceExpiryDate = &api.Date{Time: *v.InsuranceExpiry}
	}
	return ref
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *renewal.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, verr.Field+" "+verr.Msg)
	case errors.Is(err, renewal.ErrTransitionRejected):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, renewal.ErrNotFound), errors.Is(err, insurance.ErrVehicleNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, insurance.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, insurance.ErrDuplicateVehicle), errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, auth.ErrInactive):
		writeError(w, http.StatusForbidden, "account is deactivated")
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrInvalidRegistration):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
