package honeypot

import (
	"net"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"

	"github.com/SolSoCoG/mirage/internal/metrics"
)

// Server is the accept-loop scaffold shared by the socket engines: one
// worker goroutine per accepted connection, all tracked by a tomb so Stop
// can wait for them (bounded).
type Server struct {
	name    string
	kind    string
	addr    string
	handle  func(net.Conn)
	log     zerolog.Logger
	timeout time.Duration

	ln net.Listener
	t  tomb.Tomb
}

// NewServer builds the scaffold. handle runs once per connection and owns
// closing nothing: the scaffold closes the socket when handle returns.
func NewServer(name, kind, addr string, timeout time.Duration, log zerolog.Logger, handle func(net.Conn)) *Server {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	return &Server{name: name, kind: kind, addr: addr, handle: handle, log: log, timeout: timeout}
}

// Name implements Engine.
func (s *Server) Name() string { return s.name }

// Kind implements Engine.
func (s *Server) Kind() string { return s.kind }

// Addr returns the resolved listen address; valid after Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start binds the listener and spawns the accept loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.t.Go(s.acceptLoop)
	return nil
}

func (s *Server) acceptLoop() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.t.Dying():
				// Listener closed by Stop; normal shutdown.
				return nil
			default:
			}
			return err
		}
		metrics.Connections.WithLabelValues(s.name).Inc()
		s.t.Go(func() error {
			defer conn.Close()
			s.handle(conn)
			return nil
		})
	}
}

// Stop closes the listener and waits, bounded by the stop timeout, for
// workers to notice at their next blocking read. Accepted sockets are not
// forcibly severed.
func (s *Server) Stop() error {
	s.t.Kill(nil)
	if s.ln != nil {
		s.ln.Close()
	}
	done := make(chan error, 1)
	go func() { done <- s.t.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(s.timeout):
		s.log.Warn().Str("engine", s.name).Msg("stop timeout; leaving workers to drain")
		return nil
	}
}

// ClientIP extracts the remote host from a connection.
func ClientIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
