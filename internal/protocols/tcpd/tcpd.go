// Package tcpd is the fallback engine for protocols without a dedicated
// state machine: every chunk a read returns is one complete command, and
// the raw reply is written back unmodified.
package tcpd

import (
	"context"
	"errors"
	"net"

	"github.com/SolSoCoG/mirage/internal/backend"
	"github.com/SolSoCoG/mirage/internal/honeypot"
	"github.com/SolSoCoG/mirage/internal/metrics"
)

func init() {
	honeypot.Register("tcp", New)
}

// Engine is the generic TCP honeypot.
type Engine struct {
	*honeypot.Server
	env honeypot.Env
}

// New builds a TCP engine.
func New(env honeypot.Env) (honeypot.Engine, error) {
	e := &Engine{env: env}
	e.Server = honeypot.NewServer(env.Name, "tcp", env.Addr, env.StopTimeout, env.Log, e.handle)
	return e, nil
}

func (e *Engine) handle(conn net.Conn) {
	ctx := context.Background()
	ip := honeypot.ClientIP(conn)

	sess, ok := e.env.Sessions.ByIP(ip)
	if !ok {
		var err error
		sess, err = e.env.Connect(ctx, backend.AuthInfo{ClientIP: ip})
		if err != nil {
			return
		}
	}
	e.env.Sink.LogLogin(sess, map[string]any{"protocol": "tcp"})

	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			command := string(buf[:n])
			metrics.Commands.WithLabelValues(e.Name()).Inc()
			e.env.Sink.LogData(sess, map[string]any{"command": command})

			resp, qerr := e.env.Query(ctx, sess, command)
			switch {
			case qerr == nil:
				if resp.Output != "" {
					if _, werr := conn.Write([]byte(resp.Output)); werr != nil {
						return
					}
				}
			case errors.Is(qerr, backend.ErrNotFound):
				conn.Write([]byte("command not found\n")) //nolint:errcheck
			default:
				e.env.Log.Warn().Err(qerr).Str("engine", e.Name()).Msg("backend error")
				conn.Write([]byte("error\n")) //nolint:errcheck
			}
		}
		if err != nil {
			return
		}
	}
}
