package sshd

import (
	"crypto/rand"
	"crypto/rsa"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/SolSoCoG/mirage/internal/backend"
	"github.com/SolSoCoG/mirage/internal/honeypot"
	"github.com/SolSoCoG/mirage/internal/logsink"
	"github.com/SolSoCoG/mirage/internal/profile"
	"github.com/SolSoCoG/mirage/internal/session"
	"github.com/SolSoCoG/mirage/internal/vfs"
)

func startEngine(t *testing.T) (honeypot.Engine, *session.Registry, string) {
	t.Helper()
	dir := t.TempDir()
	reg := session.NewRegistry(session.DefaultTTL)
	shell := backend.NewShell(reg, vfs.NewMemory().Seed(), profile.NewSource(), zerolog.Nop())
	env := honeypot.Env{
		Name:     "ssh-test",
		Addr:     "127.0.0.1:0",
		Sessions: reg,
		Backend:  shell,
		Sink:     logsink.New("", zerolog.Nop()),
		Profiles: profile.NewSource(),
		Log:      zerolog.Nop(),
		Options: map[string]string{
			"host_key":    filepath.Join(dir, "host_key"),
			"capture_dir": filepath.Join(dir, "captures"),
		},
	}
	eng, err := New(env)
	require.NoError(t, err)
	require.NoError(t, eng.Start())
	t.Cleanup(func() { eng.Stop() })
	return eng, reg, dir
}

func dial(t *testing.T, eng honeypot.Engine, user string, auth ssh.AuthMethod) *ssh.Client {
	t.Helper()
	client, err := ssh.Dial("tcp", eng.Addr().String(), &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestAnyPasswordAccepted(t *testing.T) {
	eng, reg, _ := startEngine(t)
	dial(t, eng, "root", ssh.Password("definitely-wrong"))

	// The server registers the session just after the handshake lands.
	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 10*time.Millisecond)
	sess, ok := reg.ByIP("127.0.0.1")
	require.True(t, ok)
	assert.Equal(t, "root", sess.Ext("username"))
	assert.Equal(t, "definitely-wrong", sess.Ext("password"))
}

func TestExecKnownCommandExitsZero(t *testing.T) {
	eng, _, _ := startEngine(t)
	client := dial(t, eng, "root", ssh.Password("x"))

	s, err := client.NewSession()
	require.NoError(t, err)
	defer s.Close()

	out, err := s.Output("pwd")
	require.NoError(t, err, "recognized command must exit 0")
	assert.Contains(t, string(out), "/root")
}

func TestExecEmptyOutputStillExitsZero(t *testing.T) {
	eng, _, _ := startEngine(t)
	client := dial(t, eng, "root", ssh.Password("x"))

	s, err := client.NewSession()
	require.NoError(t, err)
	defer s.Close()

	// history answers with nothing, but it is a recognized command.
	out, err := s.Output("history")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestExecUnknownCommandExitsOne(t *testing.T) {
	eng, _, _ := startEngine(t)
	client := dial(t, eng, "root", ssh.Password("x"))

	s, err := client.NewSession()
	require.NoError(t, err)
	defer s.Close()

	out, err := s.CombinedOutput("frobnicate --hard")
	var exitErr *ssh.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitStatus())
	assert.Contains(t, string(out), "frobnicate: command not found")
}

func TestExecRepeatable(t *testing.T) {
	eng, _, _ := startEngine(t)
	client := dial(t, eng, "root", ssh.Password("x"))

	for i := 0; i < 3; i++ {
		s, err := client.NewSession()
		require.NoError(t, err)
		out, err := s.Output("whoami")
		s.Close()
		require.NoError(t, err)
		assert.Contains(t, string(out), "root")
	}
}

func TestStateCarriesAcrossExecs(t *testing.T) {
	eng, _, _ := startEngine(t)
	client := dial(t, eng, "root", ssh.Password("x"))

	s, err := client.NewSession()
	require.NoError(t, err)
	_, err = s.Output("cd /etc")
	s.Close()
	require.NoError(t, err)

	s, err = client.NewSession()
	require.NoError(t, err)
	out, err := s.Output("pwd")
	s.Close()
	require.NoError(t, err)
	assert.Contains(t, string(out), "/etc")
}

func TestHostKeyPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host_key")
	env := honeypot.Env{Log: zerolog.Nop()}

	k1, err := loadOrGenHostKey(path, env)
	require.NoError(t, err)
	k2, err := loadOrGenHostKey(path, env)
	require.NoError(t, err)
	assert.Equal(t, k1.PublicKey().Marshal(), k2.PublicKey().Marshal())
}

func TestPublicKeyAuthAccepted(t *testing.T) {
	eng, reg, _ := startEngine(t)

	signer, err := generateTestSigner()
	require.NoError(t, err)
	dial(t, eng, "deploy", ssh.PublicKeys(signer))

	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 10*time.Millisecond)
	sess, ok := reg.ByIP("127.0.0.1")
	require.True(t, ok)
	assert.NotEmpty(t, sess.Ext("pubkey"))
}

func generateTestSigner() (ssh.Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return ssh.NewSignerFromKey(key)
}
