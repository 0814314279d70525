// Package term implements the character-oriented read-line primitive the
// interactive engines share: echo (or mask), backspace/DEL erasing the last
// buffered character both logically and on screen, Ctrl-C clearing the
// line, Ctrl-D/EOF ending the session.
package term

import "io"

// Reader reads lines one byte at a time from an interactive peer.
type Reader struct {
	rw  io.ReadWriter
	one [1]byte
}

// NewReader wraps a duplex byte stream.
func NewReader(rw io.ReadWriter) *Reader {
	return &Reader{rw: rw}
}

// ReadLine collects bytes until CR or LF. When echo is true typed bytes are
// echoed back; when false printable bytes echo as '*' (password fields).
// Returns ok=false on EOF or Ctrl-D with nothing buffered.
func (r *Reader) ReadLine(echo bool) (string, bool) {
	var buf []byte
	iacSkip := 0
	for {
		n, err := r.rw.Read(r.one[:])
		if n == 0 {
			if err != nil {
				return string(buf), len(buf) > 0
			}
			continue
		}
		b := r.one[0]
		switch {
		case iacSkip > 0:
			iacSkip--
			if b >= 0xfb && b <= 0xfe {
				iacSkip = 1 // WILL/WONT/DO/DONT carry an option byte
			}
		case b == 0xff: // telnet IAC; negotiation bytes are not input
			iacSkip = 1
		case b == '\r' || b == '\n':
			return string(buf), true
		case b == 0x7f || b == 0x08: // DEL / backspace
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
				r.write("\b \b")
			}
		case b == 0x03: // Ctrl-C
			buf = buf[:0]
			r.write("\r\n")
		case b == 0x04: // Ctrl-D
			if len(buf) == 0 {
				return "", false
			}
		case b >= 0x20:
			buf = append(buf, b)
			if echo {
				r.write(string(b))
			} else {
				r.write("*")
			}
		}
		if err != nil {
			return string(buf), len(buf) > 0
		}
	}
}

// Write sends raw bytes to the peer, CRLF-translating nothing.
func (r *Reader) Write(s string) {
	r.write(s)
}

func (r *Reader) write(s string) {
	r.rw.Write([]byte(s)) //nolint:errcheck
}
