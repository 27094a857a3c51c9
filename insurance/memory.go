package insurance

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"fleettrackr/renewal"
)

// MemoryRepository is an in-process Repository for local runs and tests.
type MemoryRepository struct {
	mu            sync.Mutex
	requests      map[string]renewal.Request
	events        map[string][]Event
	vehicles      map[string]Vehicle
	notifications []Notification
	entropy       *ulid.MonotonicEntropy
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		requests: make(map[string]renewal.Request),
		events:   make(map[string][]Event),
		vehicles: make(map[string]Vehicle),
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

func clone(req renewal.Request) renewal.Request {
	if req.OwnerAsk != nil {
		ask := *req.OwnerAsk
		req.OwnerAsk = &ask
	}
	if req.Completion != nil {
		details := *req.Completion
		req.Completion = &details
	}
	if req.CompletedAt != nil {
		at := *req.CompletedAt
		req.CompletedAt = &at
	}
	return req
}

func (m *MemoryRepository) CreateRequest(ctx context.Context, req renewal.Request) (renewal.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests[req.ID] = clone(req)
	userID, message := newRequestNotice(req)
	m.notify(userID, req.ID, message, req.CreatedAt)
	return clone(req), nil
}

func (m *MemoryRepository) GetRequest(ctx context.Context, id string) (renewal.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return renewal.Request{}, renewal.ErrNotFound
	}
	return clone(req), nil
}

func (m *MemoryRepository) ListForOwner(ctx context.Context, ownerID string) ([]renewal.Request, error) {
	return m.filter(func(r renewal.Request) bool { return r.OwnerRef == ownerID }), nil
}

func (m *MemoryRepository) ListForAgent(ctx context.Context, agentID string) ([]renewal.Request, error) {
	return m.filter(func(r renewal.Request) bool { return r.AgentRef == agentID }), nil
}

func (m *MemoryRepository) filter(keep func(renewal.Request) bool) []renewal.Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []renewal.Request{}
	for _, r := range m.requests {
		if keep(r) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *MemoryRepository) UpdateRequest(ctx context.Context, id, actorID string, fn TransitionFunc) (renewal.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.requests[id]
	if !ok {
		return renewal.Request{}, renewal.ErrNotFound
	}
	next, err := fn(clone(current))
	if err != nil {
		return renewal.Request{}, err
	}
	m.requests[id] = clone(next)

	if current.Status != next.Status {
		m.events[id] = append(m.events[id], Event{
			RequestID: id,
			Seq:       len(m.events[id]) + 1,
			From:      current.Status,
			To:        next.Status,
			ActorID:   actorID,
			CreatedAt: next.UpdatedAt,
		})
		if userID, message, ok := notificationFor(current, next); ok {
			m.notify(userID, id, message, next.UpdatedAt)
		}
	}
	if v, ok := m.vehicles[next.VehicleRef]; ok {
		propagate(&v, next)
		m.vehicles[v.ID] = v
	}
	return clone(next), nil
}

func (m *MemoryRepository) Events(ctx context.Context, requestID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events[requestID]...), nil
}

func (m *MemoryRepository) CreateVehicle(ctx context.Context, v Vehicle) (Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.vehicles {
		if existing.OwnerID == v.OwnerID && strings.EqualFold(existing.RegistrationNumber, v.RegistrationNumber) {
			return Vehicle{}, ErrDuplicateVehicle
		}
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	m.vehicles[v.ID] = v
	return v, nil
}

func (m *MemoryRepository) GetVehicle(ctx context.Context, id string) (Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.vehicles[id]
	if !ok {
		return Vehicle{}, ErrVehicleNotFound
	}
	return v, nil
}

func (m *MemoryRepository) ListVehicles(ctx context.Context, ownerID string) ([]Vehicle, error) {
	return m.vehicleFilter(func(v Vehicle) bool { return v.OwnerID == ownerID }, func(a, b Vehicle) bool {
		return a.RegistrationNumber < b.RegistrationNumber
	}), nil
}

func (m *MemoryRepository) ExpiringVehicles(ctx context.Context, from, to time.Time) ([]Vehicle, error) {
	return m.vehicleFilter(func(v Vehicle) bool {
		return v.InsuranceExpiry != nil && !v.InsuranceExpiry.Before(from) && !v.InsuranceExpiry.After(to)
	}, func(a, b Vehicle) bool {
		return a.InsuranceExpiry.Before(*b.InsuranceExpiry)
	}), nil
}

func (m *MemoryRepository) vehicleFilter(keep func(Vehicle) bool, less func(a, b Vehicle) bool) []Vehicle {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []Vehicle{}
	for _, v := range m.vehicles {
		if keep(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (m *MemoryRepository) Notifications(ctx context.Context, userID string) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []Notification{}
	for i := len(m.notifications) - 1; i >= 0; i-- {
		if m.notifications[i].UserID == userID {
			out = append(out, m.notifications[i])
		}
	}
	return out, nil
}

func (m *MemoryRepository) notify(userID, requestID, message string, at time.Time) {
	if userID == "" {
		return
	}
	m.notifications = append(m.notifications, Notification{
		ID:        ulid.MustNew(ulid.Timestamp(at), m.entropy).String(),
		UserID:    userID,
		RequestID: requestID,
		Message:   message,
		CreatedAt: at,
	})
}
