// Package conversation tracks per-session turn history and derives
// multi-turn attack signals: gradual escalation, split injection, and
// topic drift.
package conversation

import (
	"sync"
	"time"

	"aegis/internal/semantic"
)

// TurnInfo is one recorded message in a session.
type TurnInfo struct {
	Message   string          `json:"message"`
	Intent    semantic.Intent `json:"intent"`
	RiskScore float64         `json:"riskScore"`
	Timestamp time.Time       `json:"timestamp"`
}

// SessionState is the tracked state for one conversation. Turns are ordered
// by timestamp and trimmed to the configured history cap.
type SessionState struct {
	SessionID     string     `json:"sessionId"`
	Turns         []TurnInfo `json:"turns"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastUpdatedAt time.Time  `json:"lastUpdatedAt"`
}

func (s *SessionState) clone() *SessionState {
	c := *s
	c.Turns = append([]TurnInfo(nil), s.Turns...)
	return &c
}

// Store defines session persistence. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get retrieves a session by ID.
	Get(id string) (*SessionState, bool)

	// Put stores a session.
	Put(state *SessionState)

	// Delete removes a session.
	Delete(id string)

	// List returns all sessions matching the filter.
	List(filter func(*SessionState) bool) []*SessionState

	// Count returns the number of sessions matching the filter.
	Count(filter func(*SessionState) bool) int
}

// MemoryStore is an in-memory session store. Stored states are snapshots:
// Get hands out a copy and Put stores one, so an entry is never mutated
// after insertion.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionState
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*SessionState)}
}

// Get retrieves a copy of a session by ID.
func (s *MemoryStore) Get(id string) (*SessionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return state.clone(), true
}

// Put stores a snapshot of the session.
func (s *MemoryStore) Put(state *SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[state.SessionID] = state.clone()
}

// Delete removes a session.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// List returns all sessions matching the filter.
func (s *MemoryStore) List(filter func(*SessionState) bool) []*SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*SessionState
	for _, state := range s.sessions {
		if filter == nil || filter(state) {
			result = append(result, state)
		}
	}
	return result
}

// Count returns the number of sessions matching the filter.
func (s *MemoryStore) Count(filter func(*SessionState) bool) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, state := range s.sessions {
		if filter == nil || filter(state) {
			count++
		}
	}
	return count
}

// StaleFilter returns a filter matching sessions idle longer than ttl.
func StaleFilter(now time.Time, ttl time.Duration) func(*SessionState) bool {
	return func(s *SessionState) bool {
		return now.Sub(s.LastUpdatedAt) > ttl
	}
}
