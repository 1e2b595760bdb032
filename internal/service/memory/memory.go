// Package memory holds per-session conversation state: the last known
// geography and segment filters carried between questions.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
)

// Memory is the filter state of one conversation. Safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	state domain.Filters
}

// New returns an empty Memory.
func New() *Memory {
	return &Memory{}
}

// Get returns a snapshot of the remembered filters.
func (m *Memory) Get() domain.Filters {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Reset clears every remembered filter.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = domain.Filters{}
}

// UpdateFromSpec folds a parsed spec into memory.
//
// Country rules, first match wins:
//  1. grouping by country clears the remembered country;
//  2. with an explicit_country marker, the country is kept only when explicit;
//  3. without the marker, the incoming country is kept when present.
//
// City, zone, and zone type are overwritten whenever the spec carries them.
func (m *Memory) UpdateFromSpec(spec *domain.AnalyticsSpec) {
	if spec == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	explicit, hasContext := spec.ExplicitCountry()
	switch {
	case spec.HasGroup(domain.DimCountry):
		m.state.Country = ""
	case hasContext:
		if explicit && spec.Filters.Country != "" {
			m.state.Country = spec.Filters.Country
		} else {
			m.state.Country = ""
		}
	default:
		m.state.Country = spec.Filters.Country
	}

	if spec.Filters.City != "" {
		m.state.City = spec.Filters.City
	}
	if spec.Filters.Zone != "" {
		m.state.Zone = spec.Filters.Zone
	}
	if spec.Filters.ZoneType != "" {
		m.state.ZoneType = spec.Filters.ZoneType
	}
}

// DefaultIdleTTL is how long a session may go unused before it is evicted.
const DefaultIdleTTL = 30 * time.Minute

type session struct {
	mem      *Memory
	lastUsed time.Time
}

// Store keeps one Memory per session id. Sessions unused for longer than the
// idle TTL are removed by Sweep.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*session
	idleTTL  time.Duration
	now      func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIdleTTL sets the idle expiry. Non-positive values keep the default.
func WithIdleTTL(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.idleTTL = d
		}
	}
}

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore returns an empty Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions: map[string]*session{},
		idleTTL:  DefaultIdleTTL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Session returns the Memory for id, creating it on first use, and marks the
// session as used.
func (s *Store) Session(id string) *Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		e = &session{mem: New()}
		s.sessions[id] = e
	}
	e.lastUsed = s.now()
	return e.mem
}

// Reset clears the Memory for id. It reports whether the session existed.
func (s *Store) Reset(id string) bool {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if ok {
		e.lastUsed = s.now()
	}
	s.mu.Unlock()
	if ok {
		e.mem.Reset()
	}
	return ok
}

// Sweep removes sessions idle for longer than the TTL and returns how many
// were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.idleTTL)
	removed := 0
	for id, e := range s.sessions {
		if e.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (s *Store) StartSweeper(ctx context.Context, every time.Duration) {
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep()
			}
		}
	}()
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Has reports whether a Memory exists for id.
func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	return ok
}
