// Package memory provides the in-process session store used by default.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	domainauth "github.com/code4history/IIIF-MCP/internal/domain/auth"
	"github.com/code4history/IIIF-MCP/internal/ports"
)

// SessionStore keeps one session per resource URL in memory. Sessions are lost
// when the process exits.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domainauth.Session
}

var _ ports.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates an empty in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]domainauth.Session)}
}

func (s *SessionStore) Get(_ context.Context, resourceURL string) (domainauth.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[resourceURL]
	if !ok {
		return domainauth.Session{}, ports.ErrSessionNotFound
	}
	return sess, nil
}

func (s *SessionStore) Set(_ context.Context, sess domainauth.Session) error {
	if sess.ResourceURL == "" {
		return errors.New("session resource URL cannot be empty")
	}
	s.mu.Lock()
	s.sessions[sess.ResourceURL] = sess
	s.mu.Unlock()
	return nil
}

func (s *SessionStore) Delete(_ context.Context, resourceURL string) error {
	s.mu.Lock()
	delete(s.sessions, resourceURL)
	s.mu.Unlock()
	return nil
}

// List returns all sessions ordered by resource URL.
func (s *SessionStore) List(_ context.Context) ([]domainauth.Session, error) {
	s.mu.RLock()
	out := make([]domainauth.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceURL < out[j].ResourceURL })
	return out, nil
}
