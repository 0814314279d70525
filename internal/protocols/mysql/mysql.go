// Package mysql emulates a MySQL 8 server far enough for clients and
// scanners to log in and run queries. Authentication always succeeds;
// queries flow through the backend path and come back as text resultsets,
// OK packets, or ERR packets.
package mysql

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"

	"github.com/SolSoCoG/mirage/internal/backend"
	"github.com/SolSoCoG/mirage/internal/honeypot"
	"github.com/SolSoCoG/mirage/internal/metrics"
	"github.com/SolSoCoG/mirage/internal/session"
)

func init() {
	honeypot.Register("mysql", New)
}

const (
	comQuit  = 0x01
	comQuery = 0x03
	comPing  = 0x0e
)

// Engine is the MySQL honeypot.
type Engine struct {
	*honeypot.Server
	env     honeypot.Env
	version string
	connID  uint32
}

// New builds a MySQL engine.
func New(env honeypot.Env) (honeypot.Engine, error) {
	e := &Engine{env: env, version: env.Option("version", "8.0.35")}
	e.Server = honeypot.NewServer(env.Name, "mysql", env.Addr, env.StopTimeout, env.Log, e.handle)
	return e, nil
}

func (e *Engine) handle(conn net.Conn) {
	ctx := context.Background()
	ip := honeypot.ClientIP(conn)

	id := atomic.AddUint32(&e.connID, 1)
	if err := WritePacket(conn, 0, Handshake(e.version, id)); err != nil {
		return
	}
	payload, seq, err := ReadPacket(conn)
	if err != nil {
		return
	}
	username := ParseHandshakeResponse(payload)

	sess, ok := e.env.Sessions.ByIP(ip)
	if !ok {
		sess, err = e.env.Connect(ctx, backend.AuthInfo{Username: username, ClientIP: ip})
		if err != nil {
			return
		}
	}
	e.env.Sink.LogLogin(sess, map[string]any{"protocol": "mysql", "username": username})

	// Any handshake response is accepted.
	if err := WritePacket(conn, seq+1, OK()); err != nil {
		return
	}

	for {
		payload, seq, err := ReadPacket(conn)
		if err != nil || len(payload) == 0 {
			return
		}
		switch payload[0] {
		case comQuit:
			return
		case comPing:
			if err := WritePacket(conn, seq+1, OK()); err != nil {
				return
			}
		case comQuery:
			query := string(payload[1:])
			metrics.Commands.WithLabelValues(e.Name()).Inc()
			e.env.Sink.LogData(sess, map[string]any{"query": query})
			if err := e.answer(ctx, conn, seq, query, sess); err != nil {
				return
			}
		default:
			msg := "Unknown command"
			if err := WritePacket(conn, seq+1, Err(1047, "08S01", msg)); err != nil {
				return
			}
		}
	}
}

// answer runs one query through the backend and writes the full response
// packet sequence, whatever shape the reply takes.
func (e *Engine) answer(ctx context.Context, conn net.Conn, seq byte, query string, sess *session.Session) error {
	resp, err := e.env.Query(ctx, sess, strings.TrimSpace(query))
	switch {
	case err == nil:
		if resp.Structured() {
			return e.writeResultset(conn, seq, resp.Columns, resp.Rows)
		}
		// Plain-text replies ("Query OK, 1 row affected") ride in the OK
		// packet's info field.
		ok := OK()
		if resp.Output != "" {
			ok = append(ok, resp.Output...)
		}
		return WritePacket(conn, seq+1, ok)
	case errors.Is(err, backend.ErrNotFound):
		return WritePacket(conn, seq+1, Err(1064, "42000",
			"You have an error in your SQL syntax; check the manual that corresponds to your MySQL server version for the right syntax to use"))
	default:
		var sqlErr *backend.SQLError
		if errors.As(err, &sqlErr) {
			return WritePacket(conn, seq+1, Err(sqlErr.Code, sqlErr.State, sqlErr.Message))
		}
		e.env.Log.Warn().Err(err).Str("engine", e.Name()).Msg("backend error")
		return WritePacket(conn, seq+1, Err(1105, "HY000", "Unknown error"))
	}
}

// writeResultset emits a text resultset: column count, N column
// definitions, EOF, the rows, EOF. Sequence numbers increase by one per
// packet starting from the request's.
func (e *Engine) writeResultset(conn net.Conn, seq byte, columns []string, rows [][]string) error {
	seq++
	if err := WritePacket(conn, seq, lenenc(nil, uint64(len(columns)))); err != nil {
		return err
	}
	for _, col := range columns {
		seq++
		if err := WritePacket(conn, seq, ColumnDef(col)); err != nil {
			return err
		}
	}
	seq++
	if err := WritePacket(conn, seq, EOF()); err != nil {
		return err
	}
	for _, row := range rows {
		seq++
		if err := WritePacket(conn, seq, Row(row)); err != nil {
			return err
		}
	}
	seq++
	return WritePacket(conn, seq, EOF())
}
