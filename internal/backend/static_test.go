package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SolSoCoG/mirage/internal/session"
)

func TestStaticFromJSONL(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "responses.jsonl")
	data := `{"command": "uptime", "response": "up 12 days"}
{"command": "get flag", "response": "nope", "switch_to": "sql"}
{"path": "/admin", "content": "<html>admin</html>"}
`
	require.NoError(t, os.WriteFile(file, []byte(data), 0600))

	s := NewStatic(session.NewRegistry(session.DefaultTTL), file, zerolog.Nop())
	ctx := context.Background()

	resp, err := s.Query(ctx, "uptime", nil)
	require.NoError(t, err)
	assert.Equal(t, "up 12 days", resp.Output)

	resp, err = s.Query(ctx, "get flag", nil)
	require.NoError(t, err)
	assert.Equal(t, "sql", resp.SwitchTo)

	_, err = s.Query(ctx, "unlisted", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	resp, err = s.Request(ctx, RequestInfo{Path: "/admin"}, nil)
	require.NoError(t, err)
	assert.Contains(t, resp.Output, "admin")
}

func TestStaticMissingFileIsEmptyTable(t *testing.T) {
	s := NewStatic(session.NewRegistry(session.DefaultTTL), "/no/such/file.jsonl", zerolog.Nop())
	_, err := s.Query(context.Background(), "anything", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStaticAdd(t *testing.T) {
	s := NewStatic(session.NewRegistry(session.DefaultTTL), "", zerolog.Nop())
	s.Add("ping", "pong")
	resp, err := s.Query(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Output)
}
