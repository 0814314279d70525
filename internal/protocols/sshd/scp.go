package sshd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/SolSoCoG/mirage/internal/session"
)

const scpMaxSize = 10 << 20

// captureUpload implements the receiving half of scp (scp -t) and writes
// the uploaded file under captureDir/<ip>/ for later analysis.
func (e *Engine) captureUpload(ch ssh.Channel, sess *session.Session) {
	defer ch.Close()

	if _, err := ch.Write([]byte{0}); err != nil {
		return
	}
	reader := bufio.NewReader(ch)

	// Header line: "C0644 <size> <filename>\n".
	header, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "C") {
		return
	}
	parts := strings.SplitN(header, " ", 3)
	if len(parts) < 3 {
		return
	}
	size, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || size <= 0 || size > scpMaxSize {
		return
	}

	// Never trust the client-supplied path.
	filename := sanitizeName(strings.TrimSpace(parts[2]))
	if filename == "" {
		filename = fmt.Sprintf("upload_%d", time.Now().Unix())
	}

	if _, err := ch.Write([]byte{0}); err != nil {
		return
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(reader, data); err != nil {
		e.env.Log.Warn().Err(err).Str("engine", e.Name()).Msg("scp read")
		return
	}
	reader.ReadByte() //nolint:errcheck

	ipSafe := strings.NewReplacer(":", "_", ".", "_", "[", "", "]", "").Replace(sess.ClientIP)
	dir := filepath.Join(e.captureDir, ipSafe)
	if err := os.MkdirAll(dir, 0700); err != nil {
		e.env.Log.Warn().Err(err).Str("engine", e.Name()).Msg("scp mkdir")
		return
	}
	savePath := filepath.Join(dir, filename)
	if err := os.WriteFile(savePath, data, 0600); err != nil {
		e.env.Log.Warn().Err(err).Str("engine", e.Name()).Msg("scp write")
		return
	}

	e.env.Sink.LogData(sess, map[string]any{
		"upload": filename,
		"size":   size,
		"path":   savePath,
	})

	ch.Write([]byte{0})                                       //nolint:errcheck
	ch.SendRequest("exit-status", false, []byte{0, 0, 0, 0}) //nolint:errcheck
}

func sanitizeName(raw string) string {
	base := filepath.Base(raw)
	var b strings.Builder
	for _, c := range base {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '.' || c == '_' || c == '-' {
			b.WriteRune(c)
		}
	}
	return strings.TrimLeft(b.String(), ".")
}
