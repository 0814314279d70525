package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/SolSoCoG/mirage/internal/session"
)

// connector is the Connect half shared by every builtin generator: always
// accept, stash whatever the client offered on the session.
type connector struct {
	sessions *session.Registry
}

func (c connector) Connect(_ context.Context, auth AuthInfo) (*session.Session, error) {
	s := c.sessions.New(auth.ClientIP)
	if auth.Username != "" {
		s.SetExt("username", auth.Username)
	}
	if auth.Password != "" {
		s.SetExt("password", auth.Password)
	}
	for k, v := range auth.Extra {
		s.SetExt(k, v)
	}
	return s, nil
}

type staticEntry struct {
	Command  string `json:"command"`
	Path     string `json:"path"`
	Response string `json:"response"`
	Content  string `json:"content"`
	SwitchTo string `json:"switch_to"`
}

// Static answers from a JSONL lookup table: one {command|path, response}
// record per line. Unknown commands miss with ErrNotFound so the caller
// can degrade protocol-idiomatically.
type Static struct {
	connector
	log zerolog.Logger

	mu      sync.RWMutex
	entries []staticEntry
}

// NewStatic builds a table-backed generator. A missing file is an empty
// table, not an error.
func NewStatic(sessions *session.Registry, dataFile string, log zerolog.Logger) *Static {
	s := &Static{connector: connector{sessions: sessions}, log: log}
	if dataFile == "" {
		return s
	}
	f, err := os.Open(dataFile)
	if err != nil {
		log.Warn().Err(err).Str("file", dataFile).Msg("static backend: no data file")
		return s
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e staticEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			log.Warn().Err(err).Str("file", dataFile).Msg("static backend: bad record")
			continue
		}
		s.entries = append(s.entries, e)
	}
	return s
}

// Add installs a command entry programmatically (used by wiring and tests).
func (s *Static) Add(command, response string) {
	s.mu.Lock()
	s.entries = append(s.entries, staticEntry{Command: command, Response: response})
	s.mu.Unlock()
}

// AddPath installs a path entry programmatically.
func (s *Static) AddPath(path, content string) {
	s.mu.Lock()
	s.entries = append(s.entries, staticEntry{Path: path, Content: content})
	s.mu.Unlock()
}

// Query implements ResponseGenerator.
func (s *Static) Query(_ context.Context, command string, _ *session.Session) (Response, error) {
	command = strings.TrimSpace(command)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.Command != "" && e.Command == command {
			return Response{Output: e.Response, SwitchTo: e.SwitchTo}, nil
		}
	}
	return Response{}, ErrNotFound
}

// Request implements ResponseGenerator.
func (s *Static) Request(_ context.Context, info RequestInfo, _ *session.Session) (Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		// Exact match, or subtree match for entries spelled with a
		// trailing slash ("/api/"). A bare "/" stays exact so it does not
		// swallow the whole tree.
		match := e.Path == info.Path ||
			(len(e.Path) > 1 && strings.HasSuffix(e.Path, "/") && strings.HasPrefix(info.Path, e.Path))
		if e.Path != "" && match {
			out := e.Content
			if out == "" {
				out = e.Response
			}
			return Response{Output: out, SwitchTo: e.SwitchTo}, nil
		}
	}
	return Response{}, ErrNotFound
}
