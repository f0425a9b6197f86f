package generation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alxbtnk/duck/pkg/logger"
	"github.com/rs/zerolog"
)

// ErrSessionLimit is returned when no more visitor sessions can be tracked.
var ErrSessionLimit = errors.New("generation: too many active sessions")

type sessionEntry struct {
	ctrl     *Controller
	lastSeen time.Time
}

// Sessions gives every visitor its own Controller, the way each browser tab
// owns one duckify widget. Idle sessions are reset and dropped.
type Sessions struct {
	newController func() *Controller
	idleTTL       time.Duration
	max           int
	now           func() time.Time
	log           zerolog.Logger

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

func NewSessions(newController func() *Controller, idleTTL time.Duration, max int) *Sessions {
	return &Sessions{
		newController: newController,
		idleTTL:       idleTTL,
		max:           max,
		now:           time.Now,
		log:           logger.With("generation.sessions"),
		entries:       make(map[string]*sessionEntry),
	}
}

// Get returns the controller for id, creating it on first use.
func (s *Sessions) Get(id string) (*Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok {
		e.lastSeen = s.now()
		return e.ctrl, nil
	}
	if s.max > 0 && len(s.entries) >= s.max {
		s.sweepLocked()
		if len(s.entries) >= s.max {
			return nil, ErrSessionLimit
		}
	}

	e := &sessionEntry{ctrl: s.newController(), lastSeen: s.now()}
	s.entries[id] = e
	return e.ctrl, nil
}

// Lookup returns the controller for id without creating one.
func (s *Sessions) Lookup(id string) (*Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = s.now()
	return e.ctrl, true
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops sessions idle for longer than the TTL. Sessions with a request
// in flight are kept until it resolves.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

func (s *Sessions) sweepLocked() int {
	cutoff := s.now().Add(-s.idleTTL)
	dropped := 0
	for id, e := range s.entries {
		if e.lastSeen.After(cutoff) || e.ctrl.Busy() {
			continue
		}
		e.ctrl.Reset()
		delete(s.entries, id)
		dropped++
	}
	if dropped > 0 {
		s.log.Debug().Int("dropped", dropped).Int("remaining", len(s.entries)).Msg("idle duckify sessions dropped")
	}
	return dropped
}

// Run sweeps periodically until ctx is done.
func (s *Sessions) Run(ctx context.Context) {
	interval := s.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
