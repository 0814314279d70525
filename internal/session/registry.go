package session

import (
	"sync"
	"time"
)

// DefaultTTL bounds the reconnection window for IP-keyed sessions and the
// idle lifetime of cookie-keyed ones.
const DefaultTTL = 180 * time.Second

type entry struct {
	sess     *Session
	lastSeen time.Time
}

// Registry owns every live session. Expired entries are purged lazily on
// the next lookup or create, never by a background sweep. Writes are
// serialized; the registry never hands out two different sessions for the
// same key.
type Registry struct {
	mu   sync.RWMutex
	ttl  time.Duration
	byID map[string]*entry
	byIP map[string]string // client ip -> session id

	// now is swappable so expiry is testable without sleeping.
	now func() time.Time
}

// NewRegistry creates an empty registry. ttl <= 0 falls back to DefaultTTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		ttl:  ttl,
		byID: make(map[string]*entry),
		byIP: make(map[string]string),
		now:  time.Now,
	}
}

// SetClock replaces the registry's time source. Test hook.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// New creates and registers a fresh session for the given client IP.
func (r *Registry) New(clientIP string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeLocked()
	s := newSession(clientIP, r.now())
	r.byID[s.ID] = &entry{sess: s, lastSeen: r.now()}
	if clientIP != "" {
		r.byIP[clientIP] = s.ID
	}
	return s
}

// Get returns the session with the given id and refreshes its lastSeen.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	if r.expiredLocked(e) {
		r.removeLocked(id)
		return nil, false
	}
	e.lastSeen = r.now()
	return e.sess, true
}

// ByIP returns the live session previously created for clientIP, modeling
// "same operator returning" within the TTL window. Expired entries are
// purged on the way.
func (r *Registry) ByIP(clientIP string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeLocked()
	id, ok := r.byIP[clientIP]
	if !ok {
		return nil, false
	}
	e, ok := r.byID[id]
	if !ok {
		delete(r.byIP, clientIP)
		return nil, false
	}
	e.lastSeen = r.now()
	return e.sess, true
}

// Touch refreshes a session's lastSeen without returning it.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	if e, ok := r.byID[id]; ok {
		e.lastSeen = r.now()
	}
	r.mu.Unlock()
}

// Len reports the number of live sessions (expired ones included until the
// next lazy purge).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) expiredLocked(e *entry) bool {
	return r.now().Sub(e.lastSeen) > r.ttl
}

func (r *Registry) removeLocked(id string) {
	if e, ok := r.byID[id]; ok {
		if e.sess.ClientIP != "" && r.byIP[e.sess.ClientIP] == id {
			delete(r.byIP, e.sess.ClientIP)
		}
		delete(r.byID, id)
	}
}

func (r *Registry) purgeLocked() {
	for id, e := range r.byID {
		if r.expiredLocked(e) {
			r.removeLocked(id)
		}
	}
}
