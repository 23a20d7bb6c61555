package workflow

import (
	"sync"

	"github.com/google/uuid"

	"github.com/kalambet/eclipse/internal/metrics"
)

// Sessions is an in-memory registry of controllers keyed by session id.
type Sessions struct {
	mu      sync.Mutex
	byID    map[string]*Controller
	factory func() *Controller
}

// NewSessions returns an empty registry building controllers with factory.
func NewSessions(factory func() *Controller) *Sessions {
	return &Sessions{
		byID:    make(map[string]*Controller),
		factory: factory,
	}
}

// Create opens a new session and returns its id.
func (s *Sessions) Create() (string, *Controller) {
	id := uuid.NewString()
	c := s.factory()

	s.mu.Lock()
	s.byID[id] = c
	metrics.ActiveSessions.Set(float64(len(s.byID)))
	s.mu.Unlock()
	return id, c
}

// Get returns the session with the given id.
func (s *Sessions) Get(id string) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	return c, ok
}

// Delete removes and closes a session. It reports whether the id existed.
func (s *Sessions) Delete(id string) bool {
	s.mu.Lock()
	c, ok := s.byID[id]
	delete(s.byID, id)
	metrics.ActiveSessions.Set(float64(len(s.byID)))
	s.mu.Unlock()

	if ok {
		c.Close()
	}
	return ok
}

// Len returns the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// CloseAll closes every session and empties the registry.
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	all := s.byID
	s.byID = make(map[string]*Controller)
	metrics.ActiveSessions.Set(0)
	s.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}
