// Package backend defines the response-generator contract the protocol
// engines dispatch into, plus the builtin generators that answer without an
// external model: a JSONL lookup table, a shell emulation over the virtual
// filesystem, and a SQL emulation producing structured rows.
package backend

import (
	"context"
	"errors"
	"net/url"

	"github.com/SolSoCoG/mirage/internal/session"
)

// ErrNotFound signals that a generator recognized nothing in the command.
// Engines translate it into their protocol's "not found" idiom (SSH exit
// status 1, Redis -ERR, HTTP 404) instead of crashing or going silent.
var ErrNotFound = errors.New("command not found")

// AuthInfo carries whatever the client offered during the handshake. No
// generator performs a real credential check; "accepted" never means
// "authenticated".
type AuthInfo struct {
	Username string
	Password string
	ClientIP string
	Extra    map[string]string
}

// RequestInfo is the HTTP-flavored request descriptor handed to Request.
type RequestInfo struct {
	Method       string
	Path         string
	Query        url.Values
	Headers      map[string]string
	Cookies      string
	ClientIP     string
	Body         string
	ResourceType string
}

// Response is what a generator produces. Output is the plain reply;
// Columns/Rows carry a structured result for SQL-shaped protocols.
// SwitchTo, when set, asks the dispatcher to repin the session to the named
// backend before the next interaction.
type Response struct {
	Output   string
	SwitchTo string
	Columns  []string
	Rows     [][]string
}

// Structured reports whether the response carries a tabular result.
func (r Response) Structured() bool { return len(r.Columns) > 0 }

// ResponseGenerator computes what a command or request "would" produce on
// the real emulated system. Implementations may mutate session state
// through its accessors; the engines persist those mutations for the
// session's lifetime.
type ResponseGenerator interface {
	// Connect resolves or creates a session for the connecting actor.
	// It always succeeds for this deception use case.
	Connect(ctx context.Context, auth AuthInfo) (*session.Session, error)

	// Query answers one decoded protocol unit (a shell line, SQL text, a
	// Redis command).
	Query(ctx context.Context, command string, s *session.Session) (Response, error)

	// Request answers an HTTP-shaped exchange.
	Request(ctx context.Context, info RequestInfo, s *session.Session) (Response, error)
}
