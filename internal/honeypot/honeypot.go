// Package honeypot carries the lifecycle contract every protocol engine
// implements, the kind-to-constructor registry engines register themselves
// into, and the fleet runner that starts and stops them together.
package honeypot

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/SolSoCoG/mirage/internal/backend"
	"github.com/SolSoCoG/mirage/internal/dispatch"
	"github.com/SolSoCoG/mirage/internal/logsink"
	"github.com/SolSoCoG/mirage/internal/profile"
	"github.com/SolSoCoG/mirage/internal/session"
)

// DefaultStopTimeout bounds how long Stop waits for in-flight workers to
// notice the listener is gone.
const DefaultStopTimeout = 5 * time.Second

// Engine is the uniform lifecycle every protocol engine implements.
// Start binds the socket (":0" lets the OS choose; Addr is readable
// afterwards) and spawns the accept loop. Stop closes the listener and
// waits, bounded, for workers; it does not sever accepted sockets.
type Engine interface {
	Name() string
	Kind() string
	Start() error
	Stop() error
	Addr() net.Addr
}

// Env is everything an engine needs at construction: explicit, owned
// components rather than package globals.
type Env struct {
	Name        string
	Addr        string
	Sessions    *session.Registry
	Backend     backend.ResponseGenerator
	Dispatcher  *dispatch.Dispatcher
	Sink        *logsink.Sink
	Profiles    *profile.Source
	Log         zerolog.Logger
	StopTimeout time.Duration
	Options     map[string]string // engine-specific knobs from config
}

// Option reads an engine-specific config knob, with a default.
func (e Env) Option(key, def string) string {
	if v, ok := e.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// Query dispatches one decoded command: through the sticky dispatcher when
// the engine runs in multi-backend mode, directly otherwise.
func (e Env) Query(ctx context.Context, sess *session.Session, command string) (backend.Response, error) {
	if e.Dispatcher != nil {
		return e.Dispatcher.Query(ctx, sess, command)
	}
	if e.Backend == nil {
		return backend.Response{}, backend.ErrNotFound
	}
	return e.Backend.Query(ctx, command, sess)
}

// Connect resolves a session for a fresh connection.
func (e Env) Connect(ctx context.Context, auth backend.AuthInfo) (*session.Session, error) {
	if e.Backend != nil {
		return e.Backend.Connect(ctx, auth)
	}
	return e.Sessions.New(auth.ClientIP), nil
}

// Constructor builds an engine of one protocol kind.
type Constructor func(env Env) (Engine, error)

var (
	regMu        sync.RWMutex
	constructors = map[string]Constructor{}
)

// Register installs a constructor for a protocol kind. Engines call this
// from init; the lookup replaces type-string if/else chains.
func Register(kind string, c Constructor) {
	regMu.Lock()
	defer regMu.Unlock()
	constructors[kind] = c
}

// NewEngine looks up the constructor for kind and builds the engine.
func NewEngine(kind string, env Env) (Engine, error) {
	regMu.RLock()
	c, ok := constructors[kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown honeypot kind %q", kind)
	}
	return c(env)
}

// Kinds lists the registered protocol kinds, sorted.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(constructors))
	for k := range constructors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Fleet runs a set of engines as one unit.
type Fleet struct {
	engines []Engine
	log     zerolog.Logger

	mu      sync.Mutex
	running []Engine
}

// NewFleet wraps the given engines.
func NewFleet(log zerolog.Logger, engines ...Engine) *Fleet {
	return &Fleet{engines: engines, log: log}
}

// Start brings every engine up. A bind failure is fatal to that engine
// only: it is logged and the rest keep serving. Start errors only when
// not a single engine came up.
func (f *Fleet) Start() error {
	var g errgroup.Group
	for _, e := range f.engines {
		e := e
		g.Go(func() error {
			if err := e.Start(); err != nil {
				f.log.Error().Err(err).Str("engine", e.Name()).Msg("engine failed to start")
				return nil
			}
			f.mu.Lock()
			f.running = append(f.running, e)
			f.mu.Unlock()
			f.log.Info().Str("engine", e.Name()).Str("kind", e.Kind()).
				Stringer("addr", e.Addr()).Msg("engine listening")
			return nil
		})
	}
	g.Wait() //nolint:errcheck
	if len(f.engines) > 0 && f.Running() == 0 {
		return fmt.Errorf("no engine started")
	}
	return nil
}

// Running reports how many engines are up.
func (f *Fleet) Running() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.running)
}

// Stop shuts every running engine down, collecting the first error.
func (f *Fleet) Stop() error {
	f.mu.Lock()
	running := f.running
	f.running = nil
	f.mu.Unlock()
	var first error
	for _, e := range running {
		if err := e.Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
