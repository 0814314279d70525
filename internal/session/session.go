// Package session holds the per-actor state every protocol engine and the
// dispatcher share. A Session outlives a single socket: connection-oriented
// engines reuse it on reconnect, the HTTP engine keys it by cookie.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Download records a file an actor pulled (or tried to pull) inside the
// emulated system.
type Download struct {
	URL      string
	Filename string
}

// Session is a per-actor state container. ID is opaque and immutable once
// assigned. The mutable state lives behind accessors: one IP can hold
// several live connections at once, and each worker mutates the same
// session, so every read and write goes through the session mutex.
type Session struct {
	ID        string
	ClientIP  string
	CreatedAt time.Time

	mu            sync.Mutex
	cwd           string
	vars          map[string]string
	activeBackend string
	downloads     []Download
	ext           map[string]string
}

func newSession(clientIP string, now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		ClientIP:  clientIP,
		CreatedAt: now,
		cwd:       "/root",
		vars:      make(map[string]string),
		ext:       make(map[string]string),
	}
}

// Cwd returns the session's working directory.
func (s *Session) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// SetCwd moves the session's working directory.
func (s *Session) SetCwd(cwd string) {
	s.mu.Lock()
	s.cwd = cwd
	s.mu.Unlock()
}

// Var reads a shell variable.
func (s *Session) Var(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vars[name]
	return v, ok
}

// SetVar stores a shell variable.
func (s *Session) SetVar(name, value string) {
	s.mu.Lock()
	if s.vars == nil {
		s.vars = make(map[string]string)
	}
	s.vars[name] = value
	s.mu.Unlock()
}

// ActiveBackend reports the backend the session last resolved to.
func (s *Session) ActiveBackend() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeBackend
}

// SetActiveBackend records the backend the session resolved to.
func (s *Session) SetActiveBackend(name string) {
	s.mu.Lock()
	s.activeBackend = name
	s.mu.Unlock()
}

// SetExt stores a free-form extension value on the session.
func (s *Session) SetExt(key, value string) {
	s.mu.Lock()
	if s.ext == nil {
		s.ext = make(map[string]string)
	}
	s.ext[key] = value
	s.mu.Unlock()
}

// Ext reads a free-form extension value.
func (s *Session) Ext(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ext[key]
}

// AddDownload appends to the session's download history.
func (s *Session) AddDownload(url, filename string) {
	s.mu.Lock()
	s.downloads = append(s.downloads, Download{URL: url, Filename: filename})
	s.mu.Unlock()
}

// Downloads returns a copy of the session's download history.
func (s *Session) Downloads() []Download {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Download, len(s.downloads))
	copy(out, s.downloads)
	return out
}
