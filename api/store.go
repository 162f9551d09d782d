package api

import (
	"errors"
	"sync"

	"github.com/workspace-agents/orchestrator/session"
)

// ErrSessionNotFound is returned for a session id this process has never
// issued.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore holds live sessions keyed by id. Sessions are in-memory
// and die with the process.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*session.Session)}
}

// Create starts a new session and registers it.
func (st *SessionStore) Create() *session.Session {
	s := session.New()

	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID()] = s
	return s
}

// Get returns the session with the given id.
func (st *SessionStore) Get(id string) (*session.Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, exists := st.sessions[id]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// GetOrCreate resolves id, creating a fresh session when id is empty.
func (st *SessionStore) GetOrCreate(id string) (*session.Session, error) {
	if id == "" {
		return st.Create(), nil
	}
	return st.Get(id)
}

// Len reports the number of live sessions.
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
