// Package sshd is the SSH honeypot engine. Every password and public key
// is accepted; the interesting part starts after login, when shell and
// exec requests flow into the backend path and scp uploads are captured
// to disk.
package sshd

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/SolSoCoG/mirage/internal/backend"
	"github.com/SolSoCoG/mirage/internal/honeypot"
	"github.com/SolSoCoG/mirage/internal/metrics"
	"github.com/SolSoCoG/mirage/internal/session"
	"github.com/SolSoCoG/mirage/internal/term"
)

func init() {
	honeypot.Register("ssh", New)
}

// Engine is the SSH honeypot.
type Engine struct {
	*honeypot.Server
	env        honeypot.Env
	hostKey    ssh.Signer
	captureDir string
}

// New builds an SSH engine. The host key persists across restarts so
// repeat visitors see a stable fingerprint.
func New(env honeypot.Env) (honeypot.Engine, error) {
	key, err := loadOrGenHostKey(env.Option("host_key", "mirage_host_key"), env)
	if err != nil {
		return nil, fmt.Errorf("host key: %w", err)
	}
	e := &Engine{env: env, hostKey: key, captureDir: env.Option("capture_dir", "captures")}
	e.Server = honeypot.NewServer(env.Name, "ssh", env.Addr, env.StopTimeout, env.Log, e.handle)
	return e, nil
}

func loadOrGenHostKey(path string, env honeypot.Env) (ssh.Signer, error) {
	if data, err := os.ReadFile(path); err == nil {
		block, _ := pem.Decode(data)
		if block != nil {
			if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
				return ssh.NewSignerFromKey(key)
			}
		}
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}
	pem.Encode(f, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}) //nolint:errcheck
	f.Close()
	env.Log.Info().Str("path", path).Msg("generated new host key")
	return ssh.NewSignerFromKey(key)
}

func (e *Engine) serverConfig() *ssh.ServerConfig {
	prof := e.env.Profiles.Get()
	cfg := &ssh.ServerConfig{
		ServerVersion: prof.SSHVersion,
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return &ssh.Permissions{Extensions: map[string]string{
				"password": string(password),
			}}, nil
		},
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			return &ssh.Permissions{Extensions: map[string]string{
				"pubkey": ssh.FingerprintSHA256(key),
			}}, nil
		},
	}
	cfg.AddHostKey(e.hostKey)
	return cfg
}

func (e *Engine) handle(conn net.Conn) {
	ctx := context.Background()
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, e.serverConfig())
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	ip := honeypot.ClientIP(conn)
	username := sshConn.User()
	extra := map[string]string{}
	password := ""
	if sshConn.Permissions != nil {
		password = sshConn.Permissions.Extensions["password"]
		if fp := sshConn.Permissions.Extensions["pubkey"]; fp != "" {
			extra["pubkey"] = fp
		}
	}

	sess, reused := e.env.Sessions.ByIP(ip)
	if !reused {
		sess, err = e.env.Connect(ctx, backend.AuthInfo{
			Username: username,
			Password: password,
			ClientIP: ip,
			Extra:    extra,
		})
		if err != nil {
			return
		}
	}
	e.env.Sink.LogLogin(sess, map[string]any{
		"protocol": "ssh",
		"username": username,
		"password": password,
		"pubkey":   extra["pubkey"],
		"reused":   reused,
	})

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type") //nolint:errcheck
			continue
		}
		ch, chReqs, err := newChan.Accept()
		if err != nil {
			break
		}
		e.handleSession(ctx, ch, chReqs, sess, username)
	}
}

func (e *Engine) handleSession(ctx context.Context, ch ssh.Channel, reqs <-chan *ssh.Request, sess *session.Session, username string) {
	defer ch.Close()

	for req := range reqs {
		switch req.Type {
		case "pty-req", "env":
			req.Reply(true, nil) //nolint:errcheck
		case "shell":
			req.Reply(true, nil) //nolint:errcheck
			e.runShell(ctx, ch, sess, username)
			return
		case "exec":
			var cmd string
			if len(req.Payload) >= 4 {
				n := binary.BigEndian.Uint32(req.Payload[:4])
				if int(n) <= len(req.Payload)-4 {
					cmd = string(req.Payload[4 : 4+n])
				}
			}
			req.Reply(true, nil) //nolint:errcheck
			if strings.HasPrefix(cmd, "scp -t") {
				e.env.Sink.LogData(sess, map[string]any{"scp": cmd})
				e.captureUpload(ch, sess)
			} else {
				e.runExec(ctx, ch, sess, cmd)
			}
			return
		case "window-change":
			req.Reply(false, nil) //nolint:errcheck
		default:
			if req.WantReply {
				req.Reply(false, nil) //nolint:errcheck
			}
		}
	}
}

// runExec answers a single exec request. A command no generator recognizes
// gets the shell's stock complaint and exit status 1; a recognized command
// with an empty reply still exits 0.
func (e *Engine) runExec(ctx context.Context, ch ssh.Channel, sess *session.Session, cmd string) {
	metrics.Commands.WithLabelValues(e.Name()).Inc()
	e.env.Sink.LogData(sess, map[string]any{"exec": cmd})

	// Exec has no pty; output stays bare-newline.
	resp, err := e.env.Query(ctx, sess, cmd)
	status := []byte{0, 0, 0, 0}
	switch {
	case err == nil:
		if resp.Output != "" {
			out := resp.Output
			if !strings.HasSuffix(out, "\n") {
				out += "\n"
			}
			ch.Write([]byte(out)) //nolint:errcheck
		}
	case errors.Is(err, backend.ErrNotFound):
		ch.Write([]byte(firstWord(cmd) + ": command not found\n")) //nolint:errcheck
		status = []byte{0, 0, 0, 1}
	default:
		e.env.Log.Warn().Err(err).Str("engine", e.Name()).Msg("backend error")
		status = []byte{0, 0, 0, 1}
	}
	ch.SendRequest("exit-status", false, status) //nolint:errcheck
}

func (e *Engine) runShell(ctx context.Context, ch ssh.Channel, sess *session.Session, username string) {
	prof := e.env.Profiles.Get()
	t := term.NewReader(ch)

	for {
		t.Write(e.prompt(username, prof.Hostname, sess))
		line, ok := t.ReadLine(true)
		if !ok {
			t.Write("\r\nlogout\r\n")
			ch.SendRequest("exit-status", false, []byte{0, 0, 0, 0}) //nolint:errcheck
			return
		}
		t.Write("\r\n")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		e.env.Sessions.Touch(sess.ID)
		if line == "exit" || line == "quit" || line == "logout" {
			t.Write("logout\r\n")
			ch.SendRequest("exit-status", false, []byte{0, 0, 0, 0}) //nolint:errcheck
			return
		}
		metrics.Commands.WithLabelValues(e.Name()).Inc()
		e.env.Sink.LogData(sess, map[string]any{"command": line})
		resp, err := e.env.Query(ctx, sess, line)
		switch {
		case err == nil:
			if resp.Output != "" {
				out := resp.Output
				if !strings.HasSuffix(out, "\n") {
					out += "\n"
				}
				t.Write(strings.ReplaceAll(out, "\n", "\r\n"))
			}
		case errors.Is(err, backend.ErrNotFound):
			t.Write(firstWord(line) + ": command not found\r\n")
		default:
			e.env.Log.Warn().Err(err).Str("engine", e.Name()).Msg("backend error")
		}
	}
}

func (e *Engine) prompt(username, hostname string, sess *session.Session) string {
	cwd := sess.Cwd()
	if cwd == "/root" {
		cwd = "~"
	}
	mark := "$"
	if username == "root" {
		mark = "#"
	}
	return fmt.Sprintf("%s@%s:%s%s ", username, hostname, cwd, mark)
}

func firstWord(line string) string {
	if i := strings.IndexByte(line, ' '); i > 0 {
		return line[:i]
	}
	return line
}
