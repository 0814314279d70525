// Package dispatch pins sessions to named backends. Stickiness is a hard
// guarantee: once a session is classified, every later request goes to the
// same backend until a reply carries an explicit switch_to naming another
// configured backend.
package dispatch

import (
	"context"
	"fmt"
	mrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/SolSoCoG/mirage/internal/backend"
	"github.com/SolSoCoG/mirage/internal/metrics"
	"github.com/SolSoCoG/mirage/internal/session"
)

// BackendDescriptor names a configured backend. The table is supplied at
// construction and read-only afterwards.
type BackendDescriptor struct {
	Name    string
	Kind    string
	Handler backend.ResponseGenerator
}

// Route maps a request path or command prefix to a backend name.
type Route struct {
	Path string
	Name string
}

// UnknownBackendError is the request-scoped failure produced when a reply
// asks to switch to a backend that is not configured. The previous pin is
// left intact.
type UnknownBackendError struct {
	Name string
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("unknown backend %q", e.Name)
}

type pin struct {
	name     string
	lastSeen time.Time
}

// Dispatcher owns the session-to-backend routing table.
type Dispatcher struct {
	mu       sync.Mutex
	backends map[string]BackendDescriptor
	order    []string // configured order, for deterministic iteration
	routes   []Route
	pins     map[string]*pin
	rand     *mrand.Rand
	log      zerolog.Logger
}

// New builds a dispatcher over a static backend table.
func New(backends []BackendDescriptor, routes []Route, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		backends: make(map[string]BackendDescriptor, len(backends)),
		routes:   routes,
		pins:     make(map[string]*pin),
		rand:     mrand.New(mrand.NewSource(time.Now().UnixNano())),
		log:      log,
	}
	for _, b := range backends {
		if _, dup := d.backends[b.Name]; dup {
			continue
		}
		d.backends[b.Name] = b
		d.order = append(d.order, b.Name)
	}
	return d
}

// Backends returns the configured backend names in order.
func (d *Dispatcher) Backends() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Pinned reports the backend a session is currently pinned to.
func (d *Dispatcher) Pinned(sessionID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pins[sessionID]
	if !ok {
		return "", false
	}
	return p.name, true
}

// Route resolves (and persists, exactly once) the backend that owns the
// session, classifying from the first request when no pin exists yet. Two
// workers racing on the same fresh session id get the same answer.
func (d *Dispatcher) Route(sessionID, firstReq string) (BackendDescriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pins[sessionID]; ok {
		p.lastSeen = time.Now()
		return d.backends[p.name], nil
	}
	name, ok := d.classifyLocked(firstReq)
	if !ok {
		return BackendDescriptor{}, fmt.Errorf("no backends configured")
	}
	d.pins[sessionID] = &pin{name: name, lastSeen: time.Now()}
	metrics.Classifications.WithLabelValues(name).Inc()
	d.log.Debug().Str("session", sessionID).Str("backend", name).Msg("session pinned")
	return d.backends[name], nil
}

// classifyLocked applies the classification order: configured route
// prefixes, then backend-name substrings, then a uniform random choice.
func (d *Dispatcher) classifyLocked(firstReq string) (string, bool) {
	for _, r := range d.routes {
		if r.Path == "" || r.Name == "" {
			continue
		}
		if _, ok := d.backends[r.Name]; !ok {
			continue
		}
		if r.Path == "/" || firstReq == r.Path || strings.HasPrefix(firstReq, r.Path+"/") || strings.HasPrefix(firstReq, r.Path) {
			return r.Name, true
		}
	}
	lowered := strings.ToLower(firstReq)
	for _, name := range d.order {
		if strings.Contains(lowered, strings.ToLower(name)) {
			return name, true
		}
	}
	if len(d.order) == 0 {
		return "", false
	}
	return d.order[d.rand.Intn(len(d.order))], true
}

// ReclassifyOnSwitch repins the session to target. The repin happens before
// the triggering request's output is produced, so the very next interaction
// already lands on the new backend.
func (d *Dispatcher) ReclassifyOnSwitch(sessionID, target string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.backends[target]; !ok {
		return &UnknownBackendError{Name: target}
	}
	d.pins[sessionID] = &pin{name: target, lastSeen: time.Now()}
	metrics.Switches.WithLabelValues(target).Inc()
	d.log.Info().Str("session", sessionID).Str("backend", target).Msg("session switched")
	return nil
}

// Query routes one command for the session and applies any switch_to in the
// reply. No lock is held across the backend call.
func (d *Dispatcher) Query(ctx context.Context, sess *session.Session, command string) (backend.Response, error) {
	desc, err := d.Route(sess.ID, command)
	if err != nil {
		return backend.Response{}, err
	}
	resp, err := desc.Handler.Query(ctx, command, sess)
	if err != nil {
		return resp, err
	}
	return d.applySwitch(sess, desc.Name, resp)
}

// Request routes one HTTP-shaped exchange for the session.
func (d *Dispatcher) Request(ctx context.Context, sess *session.Session, info backend.RequestInfo) (backend.Response, error) {
	desc, err := d.Route(sess.ID, info.Path)
	if err != nil {
		return backend.Response{}, err
	}
	resp, err := desc.Handler.Request(ctx, info, sess)
	if err != nil {
		return resp, err
	}
	return d.applySwitch(sess, desc.Name, resp)
}

func (d *Dispatcher) applySwitch(sess *session.Session, current string, resp backend.Response) (backend.Response, error) {
	if resp.SwitchTo == "" || resp.SwitchTo == current {
		sess.SetActiveBackend(current)
		return resp, nil
	}
	if err := d.ReclassifyOnSwitch(sess.ID, resp.SwitchTo); err != nil {
		return resp, err
	}
	sess.SetActiveBackend(resp.SwitchTo)
	resp.SwitchTo = ""
	return resp, nil
}
