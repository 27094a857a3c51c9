package insurance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleettrackr/renewal"
)

var (
	// ErrVehicleNotFound signals that the vehicle does not exist.
	ErrVehicleNotFound = errors.New("insurance: vehicle not found")
	// ErrDuplicateVehicle signals a registration number the owner already has
	// on file.
	ErrDuplicateVehicle = errors.New("insurance: registration number already exists")
)

// Repository persists renewal requests, their timelines and vehicles.
type Repository interface {
	CreateRequest(ctx context.Context, req renewal.Request) (renewal.Request, error)
	GetRequest(ctx context.Context, id string) (renewal.Request, error)
	ListForOwner(ctx context.Context, ownerID string) ([]renewal.Request, error)
	ListForAgent(ctx context.Context, agentID string) ([]renewal.Request, error)
	// UpdateRequest locks the request, applies fn and records the resulting
	// status change in the timeline.
	UpdateRequest(ctx context.Context, id, actorID string, fn TransitionFunc) (renewal.Request, error)
	Events(ctx context.Context, requestID string) ([]Event, error)

	CreateVehicle(ctx context.Context, v Vehicle) (Vehicle, error)
	GetVehicle(ctx context.Context, id string) (Vehicle, error)
	ListVehicles(ctx context.Context, ownerID string) ([]Vehicle, error)
	ExpiringVehicles(ctx context.Context, from, to time.Time) ([]Vehicle, error)

	Notifications(ctx context.Context, userID string) ([]Notification, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const requestColumns = `
	id::text, request_type, status, vehicle_id::text, user_id::text, agent_id::text,
	renewal_amount, insurance_cover, coverage_details,
	user_expected_amount, user_cover_type, user_message,
	rejection_reason, new_policy_number, new_expiry_date, new_provider,
	created_at, updated_at, completed_at`

func scanRequest(row pgx.Row) (renewal.Request, error) {
	var (
		req          renewal.Request
		reqType      string
		status       string
		askAmount    *float64
		askCover     *string
		askMessage   *string
		policyNumber *string
		expiry       *time.Time
		provider     *string
	)
	if err := row.Scan(
		&req.ID, &reqType, &status, &req.VehicleRef, &req.OwnerRef, &req.AgentRef,
		&req.Offer.Amount, &req.Offer.CoverType, &req.Offer.CoverageDetails,
		&askAmount, &askCover, &askMessage,
		&req.RejectionReason, &policyNumber, &expiry, &provider,
		&req.CreatedAt, &req.UpdatedAt, &req.CompletedAt,
	); err != nil {
		return renewal.Request{}, err
	}
	req.Type = renewal.RequestType(reqType)
	req.Status = renewal.Status(status)
	if askAmount != nil {
		req.OwnerAsk = &renewal.OwnerAsk{ExpectedAmount: *askAmount}
		if askCover != nil {
			req.OwnerAsk.CoverType = *askCover
		}
		if askMessage != nil {
			req.OwnerAsk.Message = *askMessage
		}
	}
	if policyNumber != nil && expiry != nil {
		req.Completion = &renewal.CompletionDetails{PolicyNumber: *policyNumber, ExpiryDate: *expiry}
		if provider != nil {
			req.Completion.Provider = *provider
		}
	}
	return req, nil
}

func askColumns(req renewal.Request) (amount *float64, cover, message *string) {
	if req.OwnerAsk == nil {
		return nil, nil, nil
	}
	return &req.OwnerAsk.ExpectedAmount, &req.OwnerAsk.CoverType, &req.OwnerAsk.Message
}

func completionColumns(req renewal.Request) (policy *string, expiry *time.Time, provider *string) {
	if req.Completion == nil {
		return nil, nil, nil
	}
	return &req.Completion.PolicyNumber, &req.Completion.ExpiryDate, &req.Completion.Provider
}

// CreateRequest inserts a new request and notifies the addressed party.
func (r *PGRepository) CreateRequest(ctx context.Context, req renewal.Request) (renewal.Request, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return renewal.Request{}, fmt.Errorf("insurance: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	askAmount, askCover, askMessage := askColumns(req)
	const insertSQL = `
INSERT INTO renewal_requests (
	id, request_type, status, vehicle_id, user_id, agent_id,
	renewal_amount, insurance_cover, coverage_details,
	user_expected_amount, user_cover_type, user_message,
	created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
RETURNING ` + requestColumns

	created, err := scanRequest(tx.QueryRow(ctx, insertSQL,
		req.ID, string(req.Type), string(req.Status), req.VehicleRef, req.OwnerRef, req.AgentRef,
		req.Offer.Amount, req.Offer.CoverType, req.Offer.CoverageDetails,
		askAmount, askCover, askMessage,
		req.CreatedAt,
	))
	if err != nil {
		return renewal.Request{}, fmt.Errorf("insurance: insert request: %w", err)
	}

	userID, message := newRequestNotice(created)
	if err := insertNotification(ctx, tx, userID, created.ID, message); err != nil {
		return renewal.Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return renewal.Request{}, fmt.Errorf("insurance: commit create: %w", err)
	}
	return created, nil
}

// GetRequest loads a request by id.
func (r *PGRepository) GetRequest(ctx context.Context, id string) (renewal.Request, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM renewal_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return renewal.Request{}, renewal.ErrNotFound
		}
		return renewal.Request{}, fmt.Errorf("insurance: get request: %w", err)
	}
	return req, nil
}

// ListForOwner returns the owner's requests, newest first.
func (r *PGRepository) ListForOwner(ctx context.Context, ownerID string) ([]renewal.Request, error) {
	return r.list(ctx, `SELECT `+requestColumns+` FROM renewal_requests WHERE user_id = $1 ORDER BY created_at DESC`, ownerID)
}

// ListForAgent returns the requests addressed to or sent by the agent,
// newest first.
func (r *PGRepository) ListForAgent(ctx context.Context, agentID string) ([]renewal.Request, error) {
	return r.list(ctx, `SELECT `+requestColumns+` FROM renewal_requests WHERE agent_id = $1 ORDER BY created_at DESC`, agentID)
}

func (r *PGRepository) list(ctx context.Context, query string, args ...any) ([]renewal.Request, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insurance: list requests: %w", err)
	}
	defer rows.Close()

	out := []renewal.Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("insurance: scan request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insurance: list requests: %w", err)
	}
	return out, nil
}

// UpdateRequest applies fn under a row lock. The status change, its timeline
// event, the counterparty notification and, on completion, the vehicle's new
// policy are written in one transaction.
func (r *PGRepository) UpdateRequest(ctx context.Context, id, actorID string, fn TransitionFunc) (renewal.Request, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return renewal.Request{}, fmt.Errorf("insurance: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanRequest(tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM renewal_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return renewal.Request{}, renewal.ErrNotFound
		}
		return renewal.Request{}, fmt.Errorf("insurance: lock request: %w", err)
	}

	next, err := fn(current)
	if err != nil {
		return renewal.Request{}, err
	}

	policy, expiry, provider := completionColumns(next)
	const updateSQL = `
UPDATE renewal_requests
SET status = $2,
    renewal_amount = $3,
    insurance_cover = $4,
    coverage_details = $5,
    rejection_reason = $6,
    new_policy_number = $7,
    new_expiry_date = $8,
    new_provider = $9,
    updated_at = $10,
    completed_at = $11
WHERE id = $1
RETURNING ` + requestColumns

	updated, err := scanRequest(tx.QueryRow(ctx, updateSQL,
		id, string(next.Status),
		next.Offer.Amount, next.Offer.CoverType, next.Offer.CoverageDetails,
		next.RejectionReason, policy, expiry, provider,
		next.UpdatedAt, next.CompletedAt,
	))
	if err != nil {
		return renewal.Request{}, fmt.Errorf("insurance: update request: %w", err)
	}

	if current.Status != updated.Status {
		const eventSQL = `
INSERT INTO renewal_events (request_id, seq, from_status, to_status, actor_id, created_at)
SELECT $1::uuid, COALESCE(MAX(seq), 0) + 1, $2::text, $3::text, $4::uuid, $5::timestamptz
FROM renewal_events WHERE request_id = $1::uuid
`
		if _, err := tx.Exec(ctx, eventSQL, id, string(current.Status), string(updated.Status), actorID, updated.UpdatedAt); err != nil {
			return renewal.Request{}, fmt.Errorf("insurance: insert event: %w", err)
		}
		if userID, message, ok := notificationFor(current, updated); ok {
			if err := insertNotification(ctx, tx, userID, id, message); err != nil {
				return renewal.Request{}, err
			}
		}
	}

	if updated.Status == renewal.StatusCompleted && updated.Completion != nil {
		const vehicleSQL = `
UPDATE vehicles
SET insurance_number = $2,
    insurance_expiry_date = $3,
    insurance_provider = COALESCE(NULLIF($4, ''), insurance_provider)
WHERE id = $1
`
		if _, err := tx.Exec(ctx, vehicleSQL, updated.VehicleRef, updated.Completion.PolicyNumber, updated.Completion.ExpiryDate, updated.Completion.Provider); err != nil {
			return renewal.Request{}, fmt.Errorf("insurance: update vehicle policy: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return renewal.Request{}, fmt.Errorf("insurance: commit update: %w", err)
	}
	return updated, nil
}

// Events returns the request's timeline in sequence order.
func (r *PGRepository) Events(ctx context.Context, requestID string) ([]Event, error) {
	rows, err := r.pool.Query(ctx, `
SELECT request_id::text, seq, from_status, to_status, actor_id::text, created_at
FROM renewal_events
WHERE request_id = $1
ORDER BY seq
`, requestID)
	if err != nil {
		return nil, fmt.Errorf("insurance: list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev       Event
			from, to string
		)
		if err := rows.Scan(&ev.RequestID, &ev.Seq, &from, &to, &ev.ActorID, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("insurance: scan event: %w", err)
		}
		ev.From = renewal.Status(from)
		ev.To = renewal.Status(to)
		out = append(out, ev)
	}
	return out, rows.Err()
}

const vehicleColumns = `id::text, user_id::text, registration_number, make, model, insurance_provider, insurance_number, insurance_expiry_date, created_at`

func scanVehicle(row pgx.Row) (Vehicle, error) {
	var v Vehicle
	err := row.Scan(&v.ID, &v.OwnerID, &v.RegistrationNumber, &v.Make, &v.Model, &v.InsuranceProvider, &v.PolicyNumber, &v.InsuranceExpiry, &v.CreatedAt)
	return v, err
}

// CreateVehicle registers a vehicle for its owner.
func (r *PGRepository) CreateVehicle(ctx context.Context, v Vehicle) (Vehicle, error) {
	const insertSQL = `
INSERT INTO vehicles (id, user_id, registration_number, make, model, insurance_provider, insurance_number, insurance_expiry_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + vehicleColumns

	created, err := scanVehicle(r.pool.QueryRow(ctx, insertSQL,
		v.ID, v.OwnerID, v.RegistrationNumber, v.Make, v.Model, v.InsuranceProvider, v.PolicyNumber, v.InsuranceExpiry))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Vehicle{}, ErrDuplicateVehicle
		}
		return Vehicle{}, fmt.Errorf("insurance: create vehicle: %w", err)
	}
	return created, nil
}

// GetVehicle loads a vehicle by id.
func (r *PGRepository) GetVehicle(ctx context.Context, id string) (Vehicle, error) {
	v, err := scanVehicle(r.pool.QueryRow(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Vehicle{}, ErrVehicleNotFound
		}
		return Vehicle{}, fmt.Errorf("insurance: get vehicle: %w", err)
	}
	return v, nil
}

// ListVehicles returns the owner's vehicles.
func (r *PGRepository) ListVehicles(ctx context.Context, ownerID string) ([]Vehicle, error) {
	return r.vehicles(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE user_id = $1 ORDER BY registration_number`, ownerID)
}

// ExpiringVehicles returns vehicles whose cover expires in [from, to].
func (r *PGRepository) ExpiringVehicles(ctx context.Context, from, to time.Time) ([]Vehicle, error) {
	return r.vehicles(ctx, `
SELECT `+vehicleColumns+`
FROM vehicles
WHERE insurance_expiry_date BETWEEN $1 AND $2
ORDER BY insurance_expiry_date
`, from, to)
}

func (r *PGRepository) vehicles(ctx context.Context, query string, args ...any) ([]Vehicle, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insurance: list vehicles: %w", err)
	}
	defer rows.Close()

	out := []Vehicle{}
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("insurance: scan vehicle: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Notifications returns the user's notifications, newest first.
func (r *PGRepository) Notifications(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id::text, user_id::text, request_id::text, message, read, created_at
FROM notifications
WHERE user_id = $1
ORDER BY created_at DESC, id
LIMIT 50
`, userID)
	if err != nil {
		return nil, fmt.Errorf("insurance: list notifications: %w", err)
	}
	defer rows.Close()

	out := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.RequestID, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("insurance: scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func insertNotification(ctx context.Context, tx pgx.Tx, userID, requestID, message string) error {
	if userID == "" {
		return nil
	}
	const q = `INSERT INTO notifications (user_id, request_id, message) VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, q, userID, requestID, message); err != nil {
		return fmt.Errorf("insurance: insert notification: %w", err)
	}
	return nil
}
