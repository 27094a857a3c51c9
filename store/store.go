// Package store keeps the local copy of one actor's renewal requests.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"fleettrackr/renewal"
)

// Fetcher loads the actor-scoped request list. *api.Client satisfies it.
type Fetcher interface {
	ListRequests(ctx context.Context) ([]renewal.Request, error)
}

// ErrStale signals that a refresh result was discarded because a newer
// refresh or a local write had already been applied.
var ErrStale = errors.New("store: stale refresh discarded")

// FetchError wraps the cause of a failed load.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("store: fetch requests: %v", e.Err) }

func (e *FetchError) Unwrap() error { return e.Err }

// Store is the canonical local representation of renewal requests for one
// session. It is safe for concurrent use.
type Store struct {
	fetcher Fetcher

	mu      sync.RWMutex
	byID    map[string]renewal.Request
	issued  uint64
	applied uint64
	loaded  bool
}

// New returns an empty store that loads through f.
func New(f Fetcher) *Store {
	return &Store{
		fetcher: f,
		byID:    make(map[string]renewal.Request),
	}
}

// Begin issues the sequence number for a refresh about to start.
func (s *Store) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// Apply replaces the whole list with the result of refresh seq. Results
// older than the last applied refresh or local write are dropped with
// ErrStale.
func (s *Store) Apply(seq uint64, list []renewal.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq <= s.applied {
		return ErrStale
	}
	next := make(map[string]renewal.Request, len(list))
	for _, r := range list {
		next[r.ID] = r
	}
	s.byID = next
	s.applied = seq
	s.loaded = true
	return nil
}

// Load fetches the actor-scoped list and applies it, returning the store's
// contents afterwards. An empty result is an empty list. A result overtaken
// by a newer refresh or write is discarded without error.
func (s *Store) Load(ctx context.Context) ([]renewal.Request, error) {
	seq := s.Begin()
	list, err := s.fetcher.ListRequests(ctx)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	if err := s.Apply(seq, list); err != nil && !errors.Is(err, ErrStale) {
		return nil, err
	}
	return s.List(), nil
}

// Get returns the request with id or renewal.ErrNotFound.
func (s *Store) Get(id string) (renewal.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byID[id]
	if !ok {
		return renewal.Request{}, fmt.Errorf("store: request %s: %w", id, renewal.ErrNotFound)
	}
	return r, nil
}

// Upsert replaces or inserts the whole record. Refreshes issued before the
// write can no longer overwrite it.
func (s *Store) Upsert(r renewal.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[r.ID] = r
	if s.issued > s.applied {
		s.applied = s.issued
	}
}

// List returns every request, newest first.
func (s *Store) List() []renewal.Request {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]renewal.Request, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Loaded reports whether any refresh has been applied.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}
