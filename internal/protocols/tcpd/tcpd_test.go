package tcpd

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SolSoCoG/mirage/internal/backend"
	"github.com/SolSoCoG/mirage/internal/honeypot"
	"github.com/SolSoCoG/mirage/internal/logsink"
	"github.com/SolSoCoG/mirage/internal/session"
)

func startEngine(t *testing.T, reg *session.Registry, gen backend.ResponseGenerator) net.Conn {
	t.Helper()
	env := honeypot.Env{
		Name:     "tcp-test",
		Addr:     "127.0.0.1:0",
		Sessions: reg,
		Backend:  gen,
		Sink:     logsink.New("", zerolog.Nop()),
		Log:      zerolog.Nop(),
	}
	eng, err := New(env)
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	t.Cleanup(func() { eng.Stop() })

	conn, err := net.DialTimeout("tcp", eng.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestChunkIsOneCommand(t *testing.T) {
	reg := session.NewRegistry(session.DefaultTTL)
	static := backend.NewStatic(reg, "", zerolog.Nop())
	static.Add("STATUS", "all systems nominal\n")
	conn := startEngine(t, reg, static)

	_, err := conn.Write([]byte("STATUS"))
	require.NoError(t, err)

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "all systems nominal\n", string(buf[:n]))
}

func TestUnknownCommandReply(t *testing.T) {
	reg := session.NewRegistry(session.DefaultTTL)
	conn := startEngine(t, reg, backend.NewStatic(reg, "", zerolog.Nop()))

	_, err := conn.Write([]byte("whatever"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "command not found\n", string(buf[:n]))
}
