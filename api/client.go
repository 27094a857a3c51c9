// Package api is the REST client for the FleetTrackR insurance endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"fleettrackr/auth"
	"fleettrackr/renewal"
	"fleettrackr/session"
)

const defaultTimeout = 15 * time.Second

// Client calls the insurance endpoints on behalf of one session.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	role    auth.Role
	logger  *slog.Logger
}

type clientOptions struct {
	base    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// Option customises a Client.
type Option func(*clientOptions)

// WithHTTPClient sets the underlying client the bearer transport wraps.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.base = c }
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// WithLogger sets the logger used for decode warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// NewClient builds a client for baseURL (the API root, e.g.
// http://localhost:5000/api) that authenticates as sess.
func NewClient(baseURL string, sess *session.Session, opts ...Option) (*Client, error) {
	if sess == nil {
		return nil, fmt.Errorf("api: nil session")
	}
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api: invalid base url %q", baseURL)
	}

	o := clientOptions{timeout: defaultTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	ctx := context.Background()
	if o.base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.base)
	}
	httpClient := oauth2.NewClient(ctx, sess.TokenSource())
	httpClient.Timeout = o.timeout

	return &Client{
		baseURL: u,
		http:    httpClient,
		role:    sess.Role,
		logger:  o.logger,
	}, nil
}

// ListRequests returns the requests scoped to the session's actor: incoming
// requests for agents, the owner's own requests for owners. An empty list is
// not an error.
func (c *Client) ListRequests(ctx context.Context) ([]renewal.Request, error) {
	var path string
	switch c.role {
	case auth.RoleAgent:
		path = "/insurance/agent/incoming-requests"
	case auth.RoleOwner:
		path = "/insurance/user-requests"
	default:
		return nil, fmt.Errorf("api: role %q has no renewal request list: %w", c.role, ErrRoleMismatch)
	}

	var wire []WireRequest
	if err := c.do(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]renewal.Request, 0, len(wire))
	for _, w := range wire {
		req, err := c.decode(w)
		if err != nil {
			c.logger.Warn("skipping undecodable renewal request", "id", w.ID, "error", err)
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

// Transition submits cmd for request id and returns the updated record.
func (c *Client) Transition(ctx context.Context, id string, cmd renewal.Command) (renewal.Request, error) {
	path, err := TransitionPath(cmd.Action, id)
	if err != nil {
		return renewal.Request{}, err
	}

	var body any
	switch cmd.Action {
	case renewal.ActionSendOffer:
		if cmd.Offer == nil {
			return renewal.Request{}, &renewal.ValidationError{Field: "offer", Msg: "is required"}
		}
		body = OfferBody{
			RenewalAmount:   Amount(cmd.Offer.Amount),
			InsuranceCover:  cmd.Offer.CoverType,
			CoverageDetails: cmd.Offer.CoverageDetails,
		}
	case renewal.ActionDecline, renewal.ActionReject, renewal.ActionRejectOffer:
		reason := renewal.NormalizeReason(cmd.Reason)
		body = RejectBody{RejectionReason: &reason}
	case renewal.ActionComplete:
		if cmd.Completion == nil {
			return renewal.Request{}, &renewal.ValidationError{Field: "completionDetails", Msg: "is required"}
		}
		body = CompleteBody{
			NewPolicyNumber:   cmd.Completion.PolicyNumber,
			NewExpiryDate:     Date{cmd.Completion.ExpiryDate},
			InsuranceProvider: cmd.Completion.Provider,
		}
	default:
		body = struct{}{}
	}

	var wire WireRequest
	if err := c.do(ctx, http.MethodPut, path, body, &wire); err != nil {
		return renewal.Request{}, err
	}
	return c.decode(wire)
}

// SendUserRequest creates a user_to_agent request as the owner.
func (c *Client) SendUserRequest(ctx context.Context, body UserSendBody) (renewal.Request, error) {
	var wire WireRequest
	if err := c.do(ctx, http.MethodPost, "/insurance/user/send-request", body, &wire); err != nil {
		return renewal.Request{}, err
	}
	return c.decode(wire)
}

// SendAgentProposal creates an agent_to_user request as the agent.
func (c *Client) SendAgentProposal(ctx context.Context, body AgentSendBody) (renewal.Request, error) {
	var wire WireRequest
	if err := c.do(ctx, http.MethodPost, "/insurance/agent/send-request", body, &wire); err != nil {
		return renewal.Request{}, err
	}
	return c.decode(wire)
}

// ListAgents returns the insurance agent directory.
func (c *Client) ListAgents(ctx context.Context) ([]AgentProfile, error) {
	var agents []AgentProfile
	if err := c.do(ctx, http.MethodGet, "/insurance/insurance-agents", nil, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// ExpiringVehicles returns vehicles whose cover lapses soon.
func (c *Client) ExpiringVehicles(ctx context.Context) ([]ExpiringVehicle, error) {
	var vehicles []ExpiringVehicle
	if err := c.do(ctx, http.MethodGet, "/insurance/agent/expiring-vehicles", nil, &vehicles); err != nil {
		return nil, err
	}
	return vehicles, nil
}

// Stats returns the agent dashboard counts.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := c.do(ctx, http.MethodGet, "/insurance/agent/stats", nil, &stats)
	return stats, err
}

// Timeline returns the status history of request id.
func (c *Client) Timeline(ctx context.Context, id string) ([]TimelineEvent, error) {
	var events []TimelineEvent
	if err := c.do(ctx, http.MethodGet, "/insurance/requests/"+url.PathEscape(id)+"/timeline", nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Notifications returns the current user's recent notifications.
func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	var notes []Notification
	if err := c.do(ctx, http.MethodGet, "/notifications", nil, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// AddVehicle registers a vehicle for the owner.
func (c *Client) AddVehicle(ctx context.Context, body VehicleBody) (VehicleRef, error) {
	var v VehicleRef
	err := c.do(ctx, http.MethodPost, "/vehicles", body, &v)
	return v, err
}

// Vehicles lists the owner's vehicles.
func (c *Client) Vehicles(ctx context.Context) ([]VehicleRef, error) {
	var vehicles []VehicleRef
	if err := c.do(ctx, http.MethodGet, "/vehicles", nil, &vehicles); err != nil {
		return nil, err
	}
	return vehicles, nil
}

func (c *Client) decode(w WireRequest) (renewal.Request, error) {
	req, err := w.Decode()
	if err != nil {
		return renewal.Request{}, err
	}
	if dropped := renewal.Sanitize(&req); len(dropped) > 0 {
		c.logger.Warn("dropped fields inconsistent with request state", "id", req.ID, "status", req.Status, "type", req.Type, "fields", dropped)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	target := c.baseURL.JoinPath(path)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: "read " + path, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Message: eb.Message}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("api: decode %s: %w", path, err)
	}
	return nil
}

// Login exchanges credentials for a bearer token. Token issuance belongs to
// the auth service; this helper only speaks its login contract.
func Login(ctx context.Context, httpClient *http.Client, baseURL, email, password string) (LoginResponse, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || u.Scheme == "" {
		return LoginResponse{}, fmt.Errorf("api: invalid base url %q", baseURL)
	}
	payload, err := json.Marshal(auth.LoginRequest{Email: email, Password: password})
	if err != nil {
		return LoginResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.JoinPath("/auth/login").String(), bytes.NewReader(payload))
	if err != nil {
		return LoginResponse{}, fmt.Errorf("api: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return LoginResponse{}, &NetworkError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return LoginResponse{}, &StatusError{Method: http.MethodPost, Path: "/auth/login", Code: resp.StatusCode, Message: eb.Message}
	}

	var out LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return LoginResponse{}, fmt.Errorf("api: decode login: %w", err)
	}
	if out.Token == "" {
		return LoginResponse{}, errors.New("api: login returned no token")
	}
	return out, nil
}
