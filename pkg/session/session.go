// Package session implements server-side sessions: data lives in the
// key-value store, the browser only holds a signed reference to it.
package session

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

const userIDKey = "_auth_user_id"

// Session is the mutable per-visitor state of one request.
type Session struct {
	mu      sync.Mutex
	id      string
	values  map[string]string
	dirty   bool
	retired []string
}

// New returns an empty, unsaved session.
func New() *Session {
	return &Session{id: uuid.NewString(), values: map[string]string{}}
}

func restore(id string, values map[string]string) *Session {
	if values == nil {
		values = map[string]string{}
	}
	return &Session{id: id, values: values}
}

// ID is the current session id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Session) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.dirty = true
}

// Pop removes key and returns its previous value.
func (s *Session) Pop(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if ok {
		delete(s.values, key)
		s.dirty = true
	}
	return v, ok
}

func (s *Session) Delete(key string) {
	s.Pop(key)
}

// UserID reports the logged-in user, if any.
func (s *Session) UserID() (int64, bool) {
	v, ok := s.Get(userIDKey)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Login binds the session to userID under a fresh session id.
func (s *Session) Login(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotateLocked()
	s.values[userIDKey] = strconv.FormatInt(userID, 10)
	s.dirty = true
}

// Logout drops all session data and the session id.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotateLocked()
	s.values = map[string]string{}
	s.dirty = true
}

func (s *Session) rotateLocked() {
	s.retired = append(s.retired, s.id)
	s.id = uuid.NewString()
}

// snapshot returns what Save must persist and clears the dirty state.
func (s *Session) snapshot() (id string, values map[string]string, retired []string, dirty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values = make(map[string]string, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	id, retired, dirty = s.id, s.retired, s.dirty
	s.retired = nil
	s.dirty = false
	return id, values, retired, dirty
}

type ctxKey struct{}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// From returns the request session. Outside the middleware it returns a
// detached session that is never persisted.
func From(ctx context.Context) *Session {
	if s, ok := ctx.Value(ctxKey{}).(*Session); ok {
		return s
	}
	return New()
}
