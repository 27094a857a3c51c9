// Package syncer runs the shared per-session poll service that keeps the
// request store current.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fleettrackr/renewal"
)

const defaultInterval = 30 * time.Second

// Loader refreshes the store and returns its contents. *store.Store
// satisfies it.
type Loader interface {
	Load(ctx context.Context) ([]renewal.Request, error)
}

// Listener receives the store contents after every successful refresh.
type Listener func(list []renewal.Request)

// ErrorSink receives refresh failures. It must not block.
type ErrorSink func(err error)

// Config controls the poll loop.
type Config struct {
	Interval time.Duration
	// Fatal reports errors that retrying cannot fix, such as an expired
	// session. The loop reports them once and parks until Start is called
	// again. A nil Fatal retries everything.
	Fatal func(error) bool
}

// Service polls the API on an interval and on demand. One Service is shared
// by every view of a session.
type Service struct {
	cfg    Config
	loader Loader
	logger *slog.Logger

	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int
	onError   ErrorSink
	cancel    context.CancelFunc
	stopped   chan struct{}
	running   bool
}

// NewService creates a poll service over loader.
func NewService(cfg Config, loader Loader, logger *slog.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		loader:    loader,
		logger:    logger,
		listeners: make(map[int]Listener),
	}
}

// OnError installs the sink that receives poll failures.
func (s *Service) OnError(sink ErrorSink) {
	s.mu.Lock()
	s.onError = sink
	s.mu.Unlock()
}

// Subscribe registers fn and returns a func that removes it.
func (s *Service) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// IsRunning returns true when the poll loop is active.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Start launches the poll loop. The first refresh runs immediately.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopped = make(chan struct{})
	s.running = true

	go s.loop(ctx, s.stopped)
	s.logger.Info("sync service started", "interval", s.cfg.Interval.String())
}

// Stop halts the loop, cancelling any refresh it has in flight, and waits
// for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	stopped := s.stopped
	s.running = false
	s.cancel = nil
	s.stopped = nil
	s.mu.Unlock()

	cancel()
	<-stopped
	s.logger.Info("sync service stopped")
}

func (s *Service) loop(ctx context.Context, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	if !s.poll(ctx) {
		s.park(stopped)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.poll(ctx) {
				s.park(stopped)
				return
			}
		}
	}
}

// poll refreshes once and returns false when the loop must not continue.
func (s *Service) poll(ctx context.Context) bool {
	err := s.Refresh(ctx)
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return true
	}
	if s.cfg.Fatal != nil && s.cfg.Fatal(err) {
		s.logger.Warn("refresh failed, polling parked", "error", err)
		s.report(err)
		return false
	}
	s.logger.Warn("periodic refresh failed", "error", err)
	s.report(err)
	return true
}

// park marks the run that owns stopped as finished so Start can relaunch it.
func (s *Service) park(stopped chan<- struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.stopped != stopped {
		return
	}
	s.cancel()
	s.running = false
	s.cancel = nil
	s.stopped = nil
}

// Refresh loads the list now and notifies listeners. Callers that need the
// store current before continuing await it.
func (s *Service) Refresh(ctx context.Context) error {
	list, err := s.loader.Load(ctx)
	if err != nil {
		return err
	}
	s.notify(list)
	return nil
}

func (s *Service) notify(list []renewal.Request) {
	s.mu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(list)
	}
}

func (s *Service) report(err error) {
	s.mu.RLock()
	sink := s.onError
	s.mu.RUnlock()
	if sink != nil {
		sink(err)
	}
}
