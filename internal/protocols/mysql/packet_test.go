package mysql

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, 3, []byte{0x03, 'S', 'E', 'L'}))

	payload, seq, err := ReadPacket(&buf)
	require.NoError(t, err)
	assert.Equal(t, byte(3), seq)
	assert.Equal(t, []byte{0x03, 'S', 'E', 'L'}, payload)
}

func TestPacketHeaderLittleEndian(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, 0, make([]byte, 0x0201)))
	hdr := buf.Bytes()[:4]
	assert.Equal(t, []byte{0x01, 0x02, 0x00, 0x00}, hdr)
}

func TestHandshakeShape(t *testing.T) {
	p := Handshake("8.0.35", 42)
	assert.Equal(t, byte(10), p[0], "protocol version")
	assert.Contains(t, string(p), "8.0.35")
	assert.Contains(t, string(p), "mysql_native_password")
	// Version string is NUL-terminated right after the leading byte.
	assert.Equal(t, byte(0), p[1+len("8.0.35")])
}

func TestHandshakeDoesNotOfferDeprecateEOF(t *testing.T) {
	p := Handshake("8.0.35", 42)
	// version NUL, conn id, auth-data part 1, filler, lower caps,
	// charset, status, then the upper capability bytes.
	off := 1 + len("8.0.35") + 1 + 4 + 8 + 1 + 2 + 1 + 2
	upper := p[off : off+2]
	// Bit 24 (CLIENT_DEPRECATE_EOF) is the low bit of the high byte. The
	// resultset encoder always terminates with EOF packets, so the
	// greeting must never let a client negotiate OK-terminated sets.
	assert.Zero(t, upper[1]&0x01)
}

func TestOKAndEOFAndErr(t *testing.T) {
	ok := OK()
	assert.Equal(t, byte(0x00), ok[0])
	assert.Equal(t, []byte{0x02, 0x00}, ok[3:5], "autocommit status")

	eof := EOF()
	assert.Equal(t, byte(0xfe), eof[0])
	assert.Len(t, eof, 5)

	e := Err(1064, "42000", "boom")
	assert.Equal(t, byte(0xff), e[0])
	assert.Equal(t, byte(0x28), e[1]) // 1064 little-endian
	assert.Equal(t, byte(0x04), e[2])
	assert.Equal(t, byte('#'), e[3])
	assert.Equal(t, "42000", string(e[4:9]))
	assert.Equal(t, "boom", string(e[9:]))
}

func TestErrBadStateFallsBack(t *testing.T) {
	e := Err(1105, "xx", "oops")
	assert.Equal(t, "HY000", string(e[4:9]))
}

func TestLenenc(t *testing.T) {
	assert.Equal(t, []byte{0x05}, lenenc(nil, 5))
	assert.Equal(t, []byte{0xfc, 0x00, 0x01}, lenenc(nil, 256))
	assert.Equal(t, []byte{0xfd, 0x00, 0x00, 0x01}, lenenc(nil, 1<<16))
}

func TestRowEncodesNull(t *testing.T) {
	p := Row([]string{"a", "NULL", "bc"})
	assert.Equal(t, []byte{0x01, 'a', 0xfb, 0x02, 'b', 'c'}, p)
}

func TestColumnDefCarriesName(t *testing.T) {
	p := ColumnDef("username")
	assert.Contains(t, string(p), "def")
	assert.Contains(t, string(p), "username")
}

func TestParseHandshakeResponse(t *testing.T) {
	payload := make([]byte, 32)
	payload = append(payload, []byte("root\x00junk")...)
	assert.Equal(t, "root", ParseHandshakeResponse(payload))

	assert.Empty(t, ParseHandshakeResponse([]byte{1, 2, 3}))
}
