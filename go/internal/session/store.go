// Package session holds the authoritative registry of active game sessions.
// Each session is owned by exactly one actor goroutine; the store maps
// session ids to those actors and routes cross-cutting signals (user
// offline/online) to every session that references a user.
package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/holyword/trivia/go/internal/models"
)

// Handle is the store's view of a running session actor. UserOffline and
// UserOnline must not block: implementations enqueue into their own inbox.
type Handle interface {
	SessionID() uuid.UUID
	Kind() models.SessionKind
	UserOffline(userID string)
	UserOnline(userID string)
}

// Store is the single source of truth for which sessions are live.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]Handle
	byUser   map[string]map[uuid.UUID]bool
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[uuid.UUID]Handle),
		byUser:   make(map[string]map[uuid.UUID]bool),
	}
}

// Register adds a running session actor.
func (s *Store) Register(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[h.SessionID()] = h
	log.Debug().
		Str("session_id", h.SessionID().String()).
		Str("kind", string(h.Kind())).
		Int("active_sessions", len(s.sessions)).
		Msg("session registered")
}

// Get returns the actor owning the session, if any.
func (s *Store) Get(id uuid.UUID) (Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.sessions[id]
	return h, ok
}

// Remove drops a finished session and all its user bindings.
func (s *Store) Remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	for userID, set := range s.byUser {
		delete(set, id)
		if len(set) == 0 {
			delete(s.byUser, userID)
		}
	}
}

// Bind records that a user participates in a session, so disconnect policy
// reaches it.
func (s *Store) Bind(userID string, sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[uuid.UUID]bool)
	}
	s.byUser[userID][sessionID] = true
}

// Unbind removes a user/session association, e.g. on voluntary leave.
func (s *Store) Unbind(userID string, sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.byUser[userID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(s.byUser, userID)
		}
	}
}

// ForUser returns the actors of every session the user participates in.
func (s *Store) ForUser(userID string) []Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	handles := make([]Handle, 0, len(s.byUser[userID]))
	for id := range s.byUser[userID] {
		if h, ok := s.sessions[id]; ok {
			handles = append(handles, h)
		}
	}
	return handles
}

// NotifyUserOffline fans a user-offline signal out to every session the
// user belongs to. Wired as a registry offline handler.
func (s *Store) NotifyUserOffline(userID string) {
	for _, h := range s.ForUser(userID) {
		h.UserOffline(userID)
	}
}

// NotifyUserOnline fans a reconnect signal out the same way.
func (s *Store) NotifyUserOnline(userID string) {
	for _, h := range s.ForUser(userID) {
		h.UserOnline(userID)
	}
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
