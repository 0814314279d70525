package backend

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SolSoCoG/mirage/internal/profile"
	"github.com/SolSoCoG/mirage/internal/session"
	"github.com/SolSoCoG/mirage/internal/vfs"
)

func TestChainStaticOverridesShell(t *testing.T) {
	reg := session.NewRegistry(session.DefaultTTL)
	static := NewStatic(reg, "", zerolog.Nop())
	static.Add("pwd", "/srv/override")
	shell := NewShell(reg, vfs.NewMemory().Seed(), profile.NewSource(), zerolog.Nop())
	chain := NewChain(static, shell)

	ctx := context.Background()
	sess, err := chain.Connect(ctx, AuthInfo{ClientIP: "198.51.100.7"})
	require.NoError(t, err)

	// The static table answers first.
	resp, err := chain.Query(ctx, "pwd", sess)
	require.NoError(t, err)
	assert.Equal(t, "/srv/override", resp.Output)

	// Misses fall through to the shell.
	resp, err = chain.Query(ctx, "whoami", sess)
	require.NoError(t, err)
	assert.Equal(t, "root", resp.Output)

	// Nobody recognizes it: the miss propagates.
	_, err = chain.Query(ctx, "launch-missiles", sess)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChainPropagatesRealErrors(t *testing.T) {
	reg := session.NewRegistry(session.DefaultTTL)
	sql := NewSQL(reg)
	chain := NewChain(sql)

	sess := reg.New("198.51.100.7")
	_, err := chain.Query(context.Background(), "USE production", sess)
	var sqlErr *SQLError
	assert.ErrorAs(t, err, &sqlErr)
}
