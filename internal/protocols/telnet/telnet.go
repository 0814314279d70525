// Package telnet emulates a login shell over a bare TCP stream. Sessions
// are keyed by client IP: a reconnection inside the TTL window is treated
// as the same operator returning and reuses the session; expired entries
// are purged lazily when the next connection arrives.
package telnet

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/SolSoCoG/mirage/internal/backend"
	"github.com/SolSoCoG/mirage/internal/honeypot"
	"github.com/SolSoCoG/mirage/internal/metrics"
	"github.com/SolSoCoG/mirage/internal/term"
)

func init() {
	honeypot.Register("telnet", New)
}

// Engine is the telnet honeypot.
type Engine struct {
	*honeypot.Server
	env honeypot.Env

	banner         string
	loginPrompt    string
	passwordPrompt string
	postLogin      string
	shellPrompt    string
}

// New builds a telnet engine. Prompts come from the engine options.
func New(env honeypot.Env) (honeypot.Engine, error) {
	e := &Engine{
		env:            env,
		banner:         env.Option("banner", "Ubuntu 22.04.3 LTS"),
		loginPrompt:    env.Option("login_prompt", "login: "),
		passwordPrompt: env.Option("password_prompt", "Password: "),
		postLogin:      env.Option("post_login", "Welcome to Ubuntu 22.04.3 LTS (GNU/Linux)"),
		shellPrompt:    env.Option("shell_prompt", "$ "),
	}
	e.Server = honeypot.NewServer(env.Name, "telnet", env.Addr, env.StopTimeout, env.Log, e.handle)
	return e, nil
}

func (e *Engine) handle(conn net.Conn) {
	ctx := context.Background()
	ip := honeypot.ClientIP(conn)
	t := term.NewReader(conn)

	if e.banner != "" {
		t.Write(e.banner + "\r\n")
	}
	t.Write("\r\n" + e.loginPrompt)
	username, ok := t.ReadLine(true)
	if !ok {
		return
	}
	t.Write("\r\n" + e.passwordPrompt)
	password, ok := t.ReadLine(false)
	if !ok {
		return
	}
	if e.postLogin != "" {
		t.Write("\r\n" + e.postLogin + "\r\n")
	}

	// Any credential is accepted; the point is to capture it.
	sess, reused := e.env.Sessions.ByIP(ip)
	if !reused {
		var err error
		sess, err = e.env.Connect(ctx, backend.AuthInfo{
			Username: strings.TrimSpace(username),
			Password: strings.TrimSpace(password),
			ClientIP: ip,
		})
		if err != nil {
			return
		}
	}
	e.env.Sink.LogLogin(sess, map[string]any{
		"protocol": "telnet",
		"username": strings.TrimSpace(username),
		"password": strings.TrimSpace(password),
		"reused":   reused,
	})

	t.Write("\r\n" + e.shellPrompt)
	for {
		line, ok := t.ReadLine(true)
		if !ok {
			return
		}
		line = strings.TrimSpace(line)
		e.env.Sessions.Touch(sess.ID)
		if line == "exit" || line == "quit" || line == "logout" {
			t.Write("\r\nGoodbye!\r\n")
			return
		}
		if line != "" {
			metrics.Commands.WithLabelValues(e.Name()).Inc()
			e.env.Sink.LogData(sess, map[string]any{"command": line})
			resp, err := e.env.Query(ctx, sess, line)
			switch {
			case err == nil:
				if resp.Output != "" {
					t.Write("\r\n" + strings.ReplaceAll(resp.Output, "\n", "\r\n"))
				}
			case errors.Is(err, backend.ErrNotFound):
				t.Write("\r\n" + firstWord(line) + ": command not found")
			default:
				e.env.Log.Warn().Err(err).Str("engine", e.Name()).Msg("backend error")
			}
		}
		t.Write("\r\n" + e.shellPrompt)
	}
}

func firstWord(line string) string {
	if i := strings.IndexByte(line, ' '); i > 0 {
		return line[:i]
	}
	return line
}
