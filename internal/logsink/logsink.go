// Package logsink captures what attackers do: login attempts and per-
// exchange records, appended as JSONL. Sink failures are swallowed and
// reported locally; they never propagate into a protocol loop.
package logsink

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/SolSoCoG/mirage/internal/session"
)

// Sink appends capture records under a directory. A zero-dir sink only
// emits the event log, which keeps tests quiet.
type Sink struct {
	dir string
	log zerolog.Logger

	loginMu sync.Mutex
	dataMu  sync.Mutex
}

// New creates a sink rooted at dir. The directory is created on first use.
func New(dir string, log zerolog.Logger) *Sink {
	return &Sink{dir: dir, log: log}
}

// LogLogin records a connection/authentication attempt. Fire-and-forget.
func (s *Sink) LogLogin(sess *session.Session, meta map[string]any) {
	rec := s.record(sess, meta)
	s.log.Info().Str("session", sessID(sess)).Fields(meta).Msg("login")
	s.loginMu.Lock()
	defer s.loginMu.Unlock()
	s.appendLine("logins.jsonl", rec)
}

// LogData records one protocol exchange. Fire-and-forget.
func (s *Sink) LogData(sess *session.Session, rec map[string]any) {
	line := s.record(sess, rec)
	s.log.Debug().Str("session", sessID(sess)).Fields(rec).Msg("data")
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	s.appendLine("data.jsonl", line)
}

func (s *Sink) record(sess *session.Session, fields map[string]any) map[string]any {
	rec := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		rec[k] = v
	}
	rec["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	rec["session_id"] = sessID(sess)
	if sess != nil && sess.ClientIP != "" {
		rec["client_ip"] = sess.ClientIP
	}
	return rec
}

func (s *Sink) appendLine(name string, rec map[string]any) {
	if s.dir == "" {
		return
	}
	b, err := json.Marshal(rec)
	if err != nil {
		s.log.Warn().Err(err).Msg("sink: marshal record")
		return
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		s.log.Warn().Err(err).Msg("sink: mkdir")
		return
	}
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		s.log.Warn().Err(err).Msg("sink: open")
		return
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		s.log.Warn().Err(err).Msg("sink: write")
	}
}

func sessID(sess *session.Session) string {
	if sess == nil {
		return ""
	}
	return sess.ID
}
