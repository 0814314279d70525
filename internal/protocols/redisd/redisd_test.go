package redisd

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SolSoCoG/mirage/internal/honeypot"
	"github.com/SolSoCoG/mirage/internal/logsink"
	"github.com/SolSoCoG/mirage/internal/session"
)

func TestExtractCommandInline(t *testing.T) {
	cmd, rest, complete := ExtractCommand([]byte("PING\r\n"))
	assert.True(t, complete)
	assert.Equal(t, "PING", cmd)
	assert.Empty(t, rest)
}

func TestExtractCommandRESPArray(t *testing.T) {
	buf := []byte("*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n")
	cmd, rest, complete := ExtractCommand(buf)
	assert.True(t, complete)
	assert.Equal(t, "SET foo bar", cmd)
	assert.Empty(t, rest)
}

func TestExtractCommandPartialBuffers(t *testing.T) {
	// No newline at all: nothing to do yet.
	_, rest, complete := ExtractCommand([]byte("PIN"))
	assert.False(t, complete)
	assert.Equal(t, []byte("PIN"), rest)

	// Array header present but bulk lines still in flight.
	buf := []byte("*2\r\n$3\r\nGET\r\n$3\r\nfo")
	_, rest, complete = ExtractCommand(buf)
	assert.False(t, complete)
	assert.Equal(t, buf, rest)
}

func TestExtractCommandPipelined(t *testing.T) {
	buf := []byte("PING\r\nPING\r\n")
	cmd, rest, complete := ExtractCommand(buf)
	require.True(t, complete)
	assert.Equal(t, "PING", cmd)

	cmd, rest, complete = ExtractCommand(rest)
	require.True(t, complete)
	assert.Equal(t, "PING", cmd)
	assert.Empty(t, rest)
}

func TestExtractCommandMalformedIsNoise(t *testing.T) {
	cmd, rest, complete := ExtractCommand([]byte("*x\r\nPING\r\n"))
	assert.True(t, complete)
	assert.Empty(t, cmd, "malformed header drops as noise")

	cmd, _, complete = ExtractCommand(rest)
	assert.True(t, complete)
	assert.Equal(t, "PING", cmd, "stream recovers on the next line")
}

func TestExtractCommandHugeArrayHeaderIsNoise(t *testing.T) {
	cmd, rest, complete := ExtractCommand([]byte("*999999999\r\nPING\r\n"))
	assert.True(t, complete, "an impossible element count must not buffer forever")
	assert.Empty(t, cmd)

	cmd, _, complete = ExtractCommand(rest)
	assert.True(t, complete)
	assert.Equal(t, "PING", cmd)
}

func TestHostileArrayHeaderKeepsConnectionUsable(t *testing.T) {
	eng := startEngine(t)

	conn, err := net.Dial("tcp", eng.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	_, err = conn.Write([]byte("*999999999\r\nPING\r\n"))
	require.NoError(t, err)

	reply := make([]byte, 64)
	n, err := conn.Read(reply)
	require.NoError(t, err)
	assert.Equal(t, "+PONG\r\n", string(reply[:n]))
}

func TestExtractCommandLeadingWhitespace(t *testing.T) {
	cmd, _, complete := ExtractCommand([]byte("\r\n  PING\r\n"))
	assert.True(t, complete)
	assert.Equal(t, "PING", cmd)
}

func TestWrap(t *testing.T) {
	assert.Equal(t, []byte("+OK\r\n"), Wrap(""))
	assert.Equal(t, []byte("+PONG\r\n"), Wrap("+PONG\r\n"))
	assert.Equal(t, []byte("+short\r\n"), Wrap("short"))
	assert.Equal(t, []byte(":42\r\n"), Wrap(":42"))
	assert.Equal(t, []byte("$11\r\nline1\nline2\r\n"), Wrap("line1\nline2"))
}

func startEngine(t *testing.T) honeypot.Engine {
	t.Helper()
	env := honeypot.Env{
		Name:     "redis-test",
		Addr:     "127.0.0.1:0",
		Sessions: session.NewRegistry(session.DefaultTTL),
		Sink:     logsink.New("", zerolog.Nop()),
		Log:      zerolog.Nop(),
	}
	eng, err := New(env)
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	t.Cleanup(func() { eng.Stop() })
	return eng
}

func TestRedisClientPingSetGet(t *testing.T) {
	eng := startEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: eng.Addr().String()})
	defer client.Close()

	require.NoError(t, client.Ping(ctx).Err())
	require.NoError(t, client.Set(ctx, "beacon", "active", 0).Err())

	val, err := client.Get(ctx, "beacon").Result()
	require.NoError(t, err)
	assert.Equal(t, "active", val)

	_, err = client.Get(ctx, "missing").Result()
	assert.ErrorIs(t, err, redis.Nil)
}

func TestRedisClientSelectIsolatesDB(t *testing.T) {
	eng := startEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db0 := redis.NewClient(&redis.Options{Addr: eng.Addr().String(), DB: 0})
	defer db0.Close()
	db2 := redis.NewClient(&redis.Options{Addr: eng.Addr().String(), DB: 2})
	defer db2.Close()

	require.NoError(t, db0.Set(ctx, "k", "zero", 0).Err())
	_, err := db2.Get(ctx, "k").Result()
	assert.ErrorIs(t, err, redis.Nil)
}

func TestRedisInfoAndFlush(t *testing.T) {
	eng := startEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: eng.Addr().String()})
	defer client.Close()

	require.NoError(t, client.Set(ctx, "k", "v", 0).Err())
	info, err := client.Info(ctx).Result()
	require.NoError(t, err)
	assert.Contains(t, info, "redis_version:6.2.6")
	assert.Contains(t, info, "db0:keys=1")

	require.NoError(t, client.FlushDB(ctx).Err())
	_, err = client.Get(ctx, "k").Result()
	assert.ErrorIs(t, err, redis.Nil)
}
