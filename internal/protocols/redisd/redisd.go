// Package redisd speaks enough RESP to keep redis clients and scanners
// engaged. Malformed or partial input is discardable noise: the engine
// buffers until a complete command is available and never crashes on
// garbage framing.
package redisd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/SolSoCoG/mirage/internal/backend"
	"github.com/SolSoCoG/mirage/internal/honeypot"
	"github.com/SolSoCoG/mirage/internal/metrics"
	"github.com/SolSoCoG/mirage/internal/session"
)

func init() {
	honeypot.Register("redis", New)
}

const (
	// maxArrayElems bounds the element count a RESP array header may
	// announce. Larger headers are hostile framing, not commands.
	maxArrayElems = 1024
	// maxBuffer bounds how many bytes a connection may accumulate
	// without completing a command.
	maxBuffer = 1 << 16
)

// Engine is the Redis honeypot.
type Engine struct {
	*honeypot.Server
	env     honeypot.Env
	started time.Time

	mu    sync.Mutex
	store map[string]map[string]string // db index (as string) -> key -> value
}

// New builds a Redis engine.
func New(env honeypot.Env) (honeypot.Engine, error) {
	e := &Engine{env: env, started: time.Now(), store: make(map[string]map[string]string)}
	e.Server = honeypot.NewServer(env.Name, "redis", env.Addr, env.StopTimeout, env.Log, e.handle)
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
	sess.SetExt("redis_db", "0")
	e.env.Sink.LogLogin(sess, map[string]any{"protocol": "redis"})

	var buffer []byte
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
			for {
				command, rest, complete := ExtractCommand(buffer)
				if !complete {
					break // partial frame: wait for more bytes
				}
				buffer = rest
				if command == "" {
					continue // noise, drop it
				}
				metrics.Commands.WithLabelValues(e.Name()).Inc()
				e.env.Sink.LogData(sess, map[string]any{"command": command})
				reply := e.process(ctx, command, sess)
				if _, werr := conn.Write(reply); werr != nil {
					return
				}
			}
			if len(buffer) > maxBuffer {
				// A peer dripping an endless frame never completes a
				// command; drop the backlog as noise.
				buffer = nil
			}
		}
		if err != nil {
			return
		}
	}
}

// ExtractCommand pulls one human-readable command off the front of buf.
// complete=false means no full command is buffered yet (wait for more
// bytes); command may be empty for lines that parse to nothing (noise).
func ExtractCommand(buf []byte) (command string, rest []byte, complete bool) {
	s := string(buf)
	start := 0
	for start < len(s) && (s[start] == ' ' || s[start] == '\r' || s[start] == '\n') {
		start++
	}
	s = s[start:]
	idx := strings.IndexByte(s, '\n')
	if idx < 0 {
		return "", buf, false
	}

	if s[0] != '*' {
		// Inline command: first complete line.
		return strings.TrimSpace(s[:idx]), buf[start+idx+1:], true
	}

	// RESP array: *N, then N pairs of $len / payload lines. Every line
	// must be newline-terminated before we dispatch.
	lines := strings.Split(s, "\n")
	full := lines[:len(lines)-1] // each of these had a trailing \n
	var count int
	if _, err := fmt.Sscanf(strings.TrimSpace(full[0]), "*%d", &count); err != nil || count < 0 || count > maxArrayElems {
		// Malformed or absurdly large header: discard it as noise
		// instead of buffering toward a count that never arrives.
		return "", buf[start+idx+1:], true
	}
	need := 1 + count*2
	if len(full) < need {
		return "", buf, false
	}
	consumed := start
	for i := 0; i < need; i++ {
		consumed += len(lines[i]) + 1
	}
	var parts []string
	for i := 1; i+1 < need+1; i += 2 {
		if !strings.HasPrefix(full[i], "$") {
			// Not bulk-framed where it should be; the array is noise.
			return "", buf[consumed:], true
		}
		parts = append(parts, strings.TrimRight(full[i+1], "\r"))
	}
	return strings.Join(parts, " "), buf[consumed:], true
}

// process answers one command: builtin table first, then the backend, then
// the hardcoded fallbacks. The reply is always valid RESP.
func (e *Engine) process(ctx context.Context, command string, sess *session.Session) []byte {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return []byte("-ERR unknown command\r\n")
	}
	cmd := strings.ToUpper(parts[0])
	db := sess.Ext("redis_db")

	switch cmd {
	case "AUTH":
		password := ""
		if len(parts) > 1 {
			password = parts[1]
		}
		e.env.Sink.LogData(sess, map[string]any{"auth_password": password})
		return []byte("+OK\r\n") // always accept

	case "SELECT":
		if len(parts) >= 2 {
			if !isDigits(parts[1]) {
				return []byte("-ERR invalid DB index\r\n")
			}
			sess.SetExt("redis_db", parts[1])
			return []byte("+OK\r\n")
		}

	case "SET":
		if len(parts) >= 3 {
			e.setKey(db, parts[1], strings.Join(parts[2:], " "))
			return []byte("+OK\r\n")
		}

	case "GET":
		if len(parts) >= 2 {
			if val, ok := e.getKey(db, parts[1]); ok {
				return bulk(val)
			}
			return []byte("$-1\r\n")
		}

	case "DEL":
		if len(parts) >= 2 {
			count := e.delKeys(db, parts[1:])
			return []byte(fmt.Sprintf(":%d\r\n", count))
		}

	case "KEYS":
		pattern := "*"
		if len(parts) > 1 {
			pattern = parts[1]
		}
		keys := e.keys(db, pattern)
		var b strings.Builder
		fmt.Fprintf(&b, "*%d\r\n", len(keys))
		for _, k := range keys {
			fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(k), k)
		}
		return []byte(b.String())

	case "FLUSHDB":
		e.mu.Lock()
		delete(e.store, db)
		e.mu.Unlock()
		return []byte("+OK\r\n")

	case "FLUSHALL":
		e.mu.Lock()
		e.store = make(map[string]map[string]string)
		e.mu.Unlock()
		return []byte("+OK\r\n")

	case "INFO":
		return bulk(e.info(db))

	case "COMMAND":
		// Empty array satisfies redis-cli introspection.
		return []byte("*0\r\n")
	}

	resp, err := e.env.Query(ctx, sess, command)
	switch {
	case err == nil:
		return Wrap(resp.Output)
	case errors.Is(err, backend.ErrNotFound):
		if cmd == "PING" {
			return []byte("+PONG\r\n")
		}
		return []byte("+OK\r\n")
	default:
		e.env.Log.Warn().Err(err).Str("engine", e.Name()).Msg("backend error")
		return []byte("-ERR " + firstLine(err.Error()) + "\r\n")
	}
}

// Wrap converts a backend reply into RESP. Replies already starting with a
// RESP type marker pass through verbatim; short single-line text becomes a
// simple string, anything else a bulk string.
func Wrap(output string) []byte {
	if output == "" {
		return []byte("+OK\r\n")
	}
	switch output[0] {
	case '+', '-', '$', ':', '*':
		if !strings.HasSuffix(output, "\r\n") {
			output += "\r\n"
		}
		return []byte(output)
	}
	if !strings.Contains(output, "\n") && len(output) < 100 {
		return []byte("+" + output + "\r\n")
	}
	return bulk(output)
}

func bulk(s string) []byte {
	return []byte(fmt.Sprintf("$%d\r\n%s\r\n", len(s), s))
}

func (e *Engine) info(db string) string {
	e.mu.Lock()
	keys := len(e.store[db])
	e.mu.Unlock()
	uptime := int(time.Since(e.started).Seconds())
	return fmt.Sprintf("# Server\r\nredis_version:6.2.6\r\nos:Linux\r\narch_bits:64\r\nmultiplexing_api:epoll\r\nuptime_in_seconds:%d\r\nuptime_in_days:0\r\n# Clients\r\nconnected_clients:1\r\n# Memory\r\nused_memory:1024000\r\nused_memory_human:1.00M\r\n# Replication\r\nrole:master\r\nconnected_slaves:0\r\n# Keyspace\r\ndb%s:keys=%d,expires=0,avg_ttl=0\r\n", uptime, db, keys)
}

func (e *Engine) setKey(db, key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store[db] == nil {
		e.store[db] = make(map[string]string)
	}
	e.store[db][key] = value
}

func (e *Engine) getKey(db, key string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.store[db][key]
	return v, ok
}

func (e *Engine) delKeys(db string, keys []string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for _, k := range keys {
		if _, ok := e.store[db][k]; ok {
			delete(e.store[db], k)
			count++
		}
	}
	return count
}

func (e *Engine) keys(db, pattern string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for k := range e.store[db] {
		if pattern == "*" || k == pattern {
			out = append(out, k)
		}
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimRight(s[:i], "\r")
	}
	return s
}
