// Package postgres performs the PostgreSQL startup sequence (rejecting
// SSL/GSSENC probes, accepting the plaintext startup packet, then
// AuthenticationOk and ReadyForQuery) and captures everything the client
// sends afterwards. Query responses beyond ReadyForQuery are not encoded;
// the engine exists to harvest the post-connect traffic.
package postgres

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strings"

	"github.com/SolSoCoG/mirage/internal/backend"
	"github.com/SolSoCoG/mirage/internal/honeypot"
	"github.com/SolSoCoG/mirage/internal/metrics"
)

func init() {
	honeypot.Register("postgres", New)
}

const (
	probeLen    = 8
	sslTail     = 0x2f // SSLRequest code 80877103, last byte
	gssencTail  = 0x30 // GSSENCRequest code 80877104, last byte
	maxStartup  = 1 << 16
	maxQueryLen = 1 << 20
)

// Engine is the PostgreSQL honeypot.
type Engine struct {
	*honeypot.Server
	env honeypot.Env
}

// New builds a postgres engine.
func New(env honeypot.Env) (honeypot.Engine, error) {
	e := &Engine{env: env}
	e.Server = honeypot.NewServer(env.Name, "postgres", env.Addr, env.StopTimeout, env.Log, e.handle)
	return e, nil
}

// isProbe reports whether an 8-byte pre-startup message is an SSLRequest
// or GSSENCRequest, recognized by its fixed shape.
func isProbe(b []byte) bool {
	if len(b) != probeLen {
		return false
	}
	if binary.BigEndian.Uint32(b[:4]) != probeLen {
		return false
	}
	if b[4] != 0x04 || b[5] != 0xd2 || b[6] != 0x16 {
		return false
	}
	return b[7] == sslTail || b[7] == gssencTail
}

func (e *Engine) handle(conn net.Conn) {
	ctx := context.Background()
	ip := honeypot.ClientIP(conn)

	// Up to two probes (SSLRequest then GSSENCRequest, either order),
	// each answered with a single 'N': reject, continue unencrypted.
	var head [probeLen]byte
	probes := 0
	for probes < 2 {
		if _, err := io.ReadFull(conn, head[:4]); err != nil {
			return
		}
		length := binary.BigEndian.Uint32(head[:4])
		if length == probeLen {
			if _, err := io.ReadFull(conn, head[4:]); err != nil {
				return
			}
			if isProbe(head[:]) {
				if _, err := conn.Write([]byte{'N'}); err != nil {
					return
				}
				probes++
				continue
			}
			// 8-byte message that is not a probe: treat the tail as the
			// start of a (short) startup payload.
			e.finishStartup(ctx, conn, ip, head[4:])
			return
		}
		if length < 4 || length > maxStartup {
			return // ProtocolViolation: close, no process-level effect
		}
		payload := make([]byte, length-4)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		e.finishStartup(ctx, conn, ip, payload)
		return
	}

	// Both probes spent; the next packet must be the real startup.
	if _, err := io.ReadFull(conn, head[:4]); err != nil {
		return
	}
	length := binary.BigEndian.Uint32(head[:4])
	if length < 4 || length > maxStartup {
		return
	}
	payload := make([]byte, length-4)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return
	}
	e.finishStartup(ctx, conn, ip, payload)
}

// finishStartup accepts the startup packet without deep validation, sends
// AuthenticationOk + ReadyForQuery and enters the capture loop.
func (e *Engine) finishStartup(ctx context.Context, conn net.Conn, ip string, startup []byte) {
	user := startupParam(startup, "user")

	sess, ok := e.env.Sessions.ByIP(ip)
	if !ok {
		var err error
		sess, err = e.env.Connect(ctx, backend.AuthInfo{Username: user, ClientIP: ip})
		if err != nil {
			return
		}
	}
	e.env.Sink.LogLogin(sess, map[string]any{"protocol": "postgres", "username": user})

	// AuthenticationOk: 'R', length 8, code 0.
	// ReadyForQuery: 'Z', length 5, transaction status 'I'.
	reply := []byte{
		'R', 0, 0, 0, 8, 0, 0, 0, 0,
		'Z', 0, 0, 0, 5, 'I',
	}
	if _, err := conn.Write(reply); err != nil {
		return
	}

	// Capture loop: subsequent bytes go to the logging/backend path.
	// Simple-query text is decoded for the capture record; the response
	// is just another ReadyForQuery so the client keeps talking.
	var hdr [5]byte
	for {
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		tag := hdr[0]
		length := binary.BigEndian.Uint32(hdr[1:])
		if length < 4 || length > maxQueryLen {
			return
		}
		payload := make([]byte, length-4)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		if tag == 'X' { // Terminate
			return
		}
		record := map[string]any{"tag": string(tag)}
		if tag == 'Q' {
			query := strings.TrimRight(string(payload), "\x00")
			record["query"] = query
			metrics.Commands.WithLabelValues(e.Name()).Inc()
			if _, err := e.env.Query(ctx, sess, query); err != nil {
				e.env.Log.Debug().Err(err).Str("engine", e.Name()).Msg("capture query")
			}
		}
		e.env.Sink.LogData(sess, record)
		if _, err := conn.Write([]byte{'Z', 0, 0, 0, 5, 'I'}); err != nil {
			return
		}
	}
}

// startupParam walks the startup packet's key/value region for one
// parameter. Tolerant of malformed packets: returns "" on anything odd.
func startupParam(payload []byte, key string) string {
	if len(payload) < 4 {
		return ""
	}
	parts := strings.Split(string(payload[4:]), "\x00")
	for i := 0; i+1 < len(parts); i += 2 {
		if parts[i] == key {
			return parts[i+1]
		}
	}
	return ""
}
