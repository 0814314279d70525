package mysql

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Wire framing: 3-byte little-endian payload length plus a sequence byte,
// then the payload. Sequence numbers restart at 0 with each client command
// and increase by one for every packet either side sends after it.

const maxPacket = 1 << 24

// ReadPacket reads one framed packet, returning payload and sequence.
func ReadPacket(r io.Reader) ([]byte, byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, 0, err
	}
	length := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16
	if length >= maxPacket {
		return nil, 0, fmt.Errorf("mysql: oversized packet (%d bytes)", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, 0, err
	}
	return payload, hdr[3], nil
}

// WritePacket frames and writes one payload with the given sequence.
func WritePacket(w io.Writer, seq byte, payload []byte) error {
	if len(payload) >= maxPacket {
		return fmt.Errorf("mysql: payload too large (%d bytes)", len(payload))
	}
	hdr := []byte{
		byte(len(payload)),
		byte(len(payload) >> 8),
		byte(len(payload) >> 16),
		seq,
	}
	if _, err := w.Write(append(hdr, payload...)); err != nil {
		return err
	}
	return nil
}

// lenenc appends a length-encoded integer.
func lenenc(dst []byte, n uint64) []byte {
	switch {
	case n < 0xfb:
		return append(dst, byte(n))
	case n <= 0xffff:
		return append(dst, 0xfc, byte(n), byte(n>>8))
	case n <= 0xffffff:
		return append(dst, 0xfd, byte(n), byte(n>>8), byte(n>>16))
	default:
		dst = append(dst, 0xfe)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], n)
		return append(dst, b[:]...)
	}
}

// lenencStr appends a length-encoded string.
func lenencStr(dst []byte, s string) []byte {
	dst = lenenc(dst, uint64(len(s)))
	return append(dst, s...)
}

// Handshake builds the HandshakeV10 greeting payload.
func Handshake(version string, connID uint32) []byte {
	p := []byte{10} // protocol version
	p = append(p, version...)
	p = append(p, 0)
	var id [4]byte
	binary.LittleEndian.PutUint32(id[:], connID)
	p = append(p, id[:]...)
	// auth-plugin-data part 1 (8 bytes) + filler
	p = append(p, "abcdefgh"...)
	p = append(p, 0)
	// capability flags (lower 2 bytes): CLIENT_PROTOCOL_41 | CLIENT_SECURE_CONNECTION | CLIENT_PLUGIN_AUTH
	p = append(p, 0xff, 0xf7)
	p = append(p, 33)       // charset: utf8_general_ci
	p = append(p, 0x02, 0)  // status: SERVER_STATUS_AUTOCOMMIT
	// capability flags upper 2 bytes. CLIENT_DEPRECATE_EOF stays cleared:
	// resultsets here are always EOF-terminated, so the greeting must not
	// let a modern client negotiate the OK-terminated form.
	p = append(p, 0xff, 0x80)
	p = append(p, 21)       // auth-plugin-data total length
	p = append(p, make([]byte, 10)...)
	// auth-plugin-data part 2 (12 bytes) + NUL
	p = append(p, "ijklmnopqrst"...)
	p = append(p, 0)
	p = append(p, "mysql_native_password"...)
	p = append(p, 0)
	return p
}

// OK builds an OK_Packet payload (affected rows and last insert id zero).
func OK() []byte {
	return []byte{0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}
}

// EOF builds an EOF_Packet payload.
func EOF() []byte {
	return []byte{0xfe, 0x00, 0x00, 0x02, 0x00}
}

// Err builds an ERR_Packet payload with a SQL state marker.
func Err(code uint16, state, message string) []byte {
	if len(state) != 5 {
		state = "HY000"
	}
	p := []byte{0xff, byte(code), byte(code >> 8), '#'}
	p = append(p, state...)
	return append(p, message...)
}

// ColumnDef builds a Protocol::ColumnDefinition41 payload for a text column.
func ColumnDef(name string) []byte {
	var p []byte
	p = lenencStr(p, "def") // catalog
	p = lenencStr(p, "")    // schema
	p = lenencStr(p, "")    // table
	p = lenencStr(p, "")    // org_table
	p = lenencStr(p, name)
	p = lenencStr(p, name) // org_name
	p = append(p, 0x0c)    // fixed-length fields
	p = append(p, 33, 0)   // charset utf8_general_ci
	p = append(p, 0xff, 0x00, 0x00, 0x00) // column length
	p = append(p, 0xfd)    // type VAR_STRING
	p = append(p, 0, 0)    // flags
	p = append(p, 0)       // decimals
	p = append(p, 0, 0)    // filler
	return p
}

// Row builds a text-resultset row. The generators spell SQL NULL as the
// literal string "NULL"; it goes on the wire as the NULL marker 0xfb.
func Row(values []string) []byte {
	var p []byte
	for _, v := range values {
		if v == "NULL" {
			p = append(p, 0xfb)
			continue
		}
		p = lenencStr(p, v)
	}
	return p
}

// ParseHandshakeResponse pulls the username out of a HandshakeResponse41.
// Best effort: malformed packets yield an empty name, never an error.
func ParseHandshakeResponse(payload []byte) (username string) {
	// 4 capability + 4 max-packet + 1 charset + 23 reserved = 32 bytes,
	// then a NUL-terminated username.
	if len(payload) < 33 {
		return ""
	}
	rest := payload[32:]
	for i, b := range rest {
		if b == 0 {
			return string(rest[:i])
		}
	}
	return ""
}
