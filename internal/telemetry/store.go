package telemetry

import (
	"sync"
	"time"
)

type Observer func(state AircraftState)

// Store keeps the latest aircraft snapshot. Ingest is expected to be called from a
// single owner goroutine, Current may be read from anywhere.
type Store struct {
	mu        sync.RWMutex
	current   AircraftState
	observers []Observer
}

func NewStore() *Store {
	return &Store{current: Unknown()}
}

// Ingest replaces the snapshot and notifies observers in subscription order.
// Out of range values are clamped, never rejected.
func (s *Store) Ingest(state AircraftState) {
	state = state.clamped()
	if state.Timestamp.IsZero() {
		state.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	s.current = state
	observers := s.observers
	s.mu.Unlock()

	for _, o := range observers {
		o(state)
	}
}

func (s *Store) Current() AircraftState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Store) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Age returns how old the snapshot is, or zero when nothing has been ingested
func (s *Store) Age(now time.Time) time.Duration {
	current := s.Current()
	if !current.IsKnown() {
		return 0
	}
	return now.Sub(current.Timestamp)
}
