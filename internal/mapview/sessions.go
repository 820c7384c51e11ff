package mapview

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-parcels/internal/logging"
	"github.com/joeblew999/plat-parcels/internal/metrics"
)

// Factory builds an unopened controller for a new session ID.
type Factory func(id string) (*Controller, error)

// Sessions tracks the open map sessions of the server.
type Sessions struct {
	factory Factory
	log     *logging.Logger
	metrics *metrics.View

	mu       sync.RWMutex
	sessions map[string]*Controller
}

// NewSessions creates a session registry. log and m may be nil.
func NewSessions(factory Factory, log *logging.Logger, m *metrics.View) *Sessions {
	if log == nil {
		log = logging.Nop()
	}
	return &Sessions{
		factory:  factory,
		log:      log.Named("sessions"),
		metrics:  m,
		sessions: make(map[string]*Controller),
	}
}

// Create opens a controller under a fresh ID and applies the initial
// events. The session is registered only once all of them succeed.
func (s *Sessions) Create(ctx context.Context, initial ...Event) (*Controller, error) {
	id := uuid.NewString()
	c, err := s.factory(id)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	ctx = logging.WithSession(ctx, id)
	if err := c.Open(ctx); err != nil {
		s.discard(ctx, c)
		return nil, fmt.Errorf("opening session: %w", err)
	}
	for _, ev := range initial {
		if err := c.Handle(ctx, ev); err != nil {
			s.discard(ctx, c)
			return nil, fmt.Errorf("initializing session: %w", err)
		}
	}

	s.mu.Lock()
	s.sessions[id] = c
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionOpened()
	}
	s.log.Info(ctx, "session created")
	return c, nil
}

func (s *Sessions) discard(ctx context.Context, c *Controller) {
	if err := c.Close(ctx); err != nil {
		s.log.Warn(ctx, "closing failed session", zap.Error(err))
	}
}

// Get returns the controller for id.
func (s *Sessions) Get(id string) (*Controller, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return c, nil
}

// IDs lists open session IDs in sorted order.
func (s *Sessions) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Delete closes and forgets a session.
func (s *Sessions) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	c, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.metrics != nil {
		s.metrics.SessionClosed()
	}
	return c.Close(logging.WithSession(ctx, id))
}

// CloseAll closes every session, for shutdown.
func (s *Sessions) CloseAll(ctx context.Context) {
	s.mu.Lock()
	open := s.sessions
	s.sessions = make(map[string]*Controller)
	s.mu.Unlock()

	for id, c := range open {
		if err := c.Close(logging.WithSession(ctx, id)); err != nil {
			s.log.Warn(ctx, "closing session failed", zap.String("session_id", id), zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.SessionClosed()
		}
	}
}
