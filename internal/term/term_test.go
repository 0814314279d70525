package term

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipe struct {
	in  *bytes.Reader
	out bytes.Buffer
}

func (p *pipe) Read(b []byte) (int, error)  { return p.in.Read(b) }
func (p *pipe) Write(b []byte) (int, error) { return p.out.Write(b) }

func newPipe(input string) *pipe {
	return &pipe{in: bytes.NewReader([]byte(input))}
}

func TestReadLineEcho(t *testing.T) {
	p := newPipe("ls -la\r")
	r := NewReader(p)
	line, ok := r.ReadLine(true)
	require.True(t, ok)
	assert.Equal(t, "ls -la", line)
	assert.Equal(t, "ls -la", p.out.String())
}

func TestReadLineMasksPassword(t *testing.T) {
	p := newPipe("hunter2\n")
	r := NewReader(p)
	line, ok := r.ReadLine(false)
	require.True(t, ok)
	assert.Equal(t, "hunter2", line)
	assert.Equal(t, "*******", p.out.String())
}

func TestReadLineBackspace(t *testing.T) {
	p := newPipe("cat\x7f\x7fd /tmp\r")
	r := NewReader(p)
	line, ok := r.ReadLine(true)
	require.True(t, ok)
	assert.Equal(t, "cd /tmp", line)
	// Each erase rubs the character out on screen too.
	assert.Contains(t, p.out.String(), "\b \b")
}

func TestReadLineBackspaceOnEmptyLine(t *testing.T) {
	p := newPipe("\x7f\x7fok\r")
	r := NewReader(p)
	line, ok := r.ReadLine(true)
	require.True(t, ok)
	assert.Equal(t, "ok", line)
	assert.NotContains(t, p.out.String(), "\b", "nothing to erase")
}

func TestReadLineCtrlCClearsBuffer(t *testing.T) {
	p := newPipe("rm -rf /\x03ls\r")
	r := NewReader(p)
	line, ok := r.ReadLine(true)
	require.True(t, ok)
	assert.Equal(t, "ls", line)
}

func TestReadLineCtrlDOnEmptyEndsSession(t *testing.T) {
	p := newPipe("\x04")
	r := NewReader(p)
	_, ok := r.ReadLine(true)
	assert.False(t, ok)
}

func TestReadLineCtrlDMidLineIgnored(t *testing.T) {
	p := newPipe("ab\x04c\r")
	r := NewReader(p)
	line, ok := r.ReadLine(true)
	require.True(t, ok)
	assert.Equal(t, "abc", line)
}

func TestReadLineSkipsTelnetNegotiation(t *testing.T) {
	// IAC DO ECHO, IAC WILL SGA, then the typed username. Real telnet
	// clients open with a burst like this; none of it is input.
	p := newPipe("\xff\xfd\x01\xff\xfb\x03admin\r")
	r := NewReader(p)
	line, ok := r.ReadLine(true)
	require.True(t, ok)
	assert.Equal(t, "admin", line)
	assert.Equal(t, "admin", p.out.String(), "negotiation bytes never echo")
}

func TestReadLineSkipsTwoByteIACCommands(t *testing.T) {
	// IAC NOP has no option byte; the next byte is input again.
	p := newPipe("\xff\xf1ls\r")
	r := NewReader(p)
	line, ok := r.ReadLine(true)
	require.True(t, ok)
	assert.Equal(t, "ls", line)
}

func TestReadLineEOF(t *testing.T) {
	p := newPipe("partial")
	r := NewReader(p)
	line, ok := r.ReadLine(true)
	assert.True(t, ok, "buffered bytes survive EOF")
	assert.Equal(t, "partial", line)

	_, ok = r.ReadLine(true)
	assert.False(t, ok)
}

var _ io.ReadWriter = (*pipe)(nil)
