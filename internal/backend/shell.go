package backend

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/SolSoCoG/mirage/internal/profile"
	"github.com/SolSoCoG/mirage/internal/session"
	"github.com/SolSoCoG/mirage/internal/vfs"
)

// Shell emulates a small Linux userland over the virtual filesystem and the
// server identity profile. Commands it does not recognize miss with
// ErrNotFound; callers usually chain it in front of another generator.
type Shell struct {
	connector
	fs       vfs.Provider
	profiles *profile.Source
	log      zerolog.Logger
}

// NewShell builds the shell generator.
func NewShell(sessions *session.Registry, fs vfs.Provider, profiles *profile.Source, log zerolog.Logger) *Shell {
	return &Shell{connector: connector{sessions: sessions}, fs: fs, profiles: profiles, log: log}
}

// Request implements ResponseGenerator; the shell has no HTTP surface.
func (sh *Shell) Request(_ context.Context, _ RequestInfo, _ *session.Session) (Response, error) {
	return Response{}, ErrNotFound
}

// Query implements ResponseGenerator.
func (sh *Shell) Query(_ context.Context, line string, s *session.Session) (Response, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Response{}, nil
	}
	name, args := splitCommand(line)
	p := sh.profiles.Get()

	switch name {
	case "pwd":
		return Response{Output: s.Cwd()}, nil
	case "cd":
		return Response{Output: sh.cd(s, args)}, nil
	case "ls", "ll":
		return Response{Output: sh.ls(s, name == "ll" || strings.Contains(args, "-l"), args)}, nil
	case "cat":
		return Response{Output: sh.cat(s, args)}, nil
	case "mkdir":
		return Response{Output: sh.mkdir(s, args)}, nil
	case "touch":
		return Response{Output: sh.touch(s, args)}, nil
	case "echo":
		return Response{Output: sh.echo(s, args)}, nil
	case "export":
		return Response{Output: sh.export(s, args)}, nil
	case "whoami":
		return Response{Output: username(s)}, nil
	case "id":
		u := username(s)
		if u == "root" {
			return Response{Output: "uid=0(root) gid=0(root) groups=0(root)"}, nil
		}
		return Response{Output: fmt.Sprintf("uid=1001(%s) gid=1001(%s) groups=1001(%s)", u, u, u)}, nil
	case "hostname":
		return Response{Output: p.Hostname}, nil
	case "uname":
		if strings.Contains(args, "-a") {
			return Response{Output: fmt.Sprintf("Linux %s %s %s x86_64 x86_64 x86_64 GNU/Linux",
				p.Hostname, p.KernelShort(), p.KernelBuild())}, nil
		}
		return Response{Output: "Linux"}, nil
	case "uptime":
		return Response{Output: fmt.Sprintf(" %s up %s,  1 user,  load average: %s",
			time.Now().Format("15:04:05"), p.UptimeStr, p.LoadStr)}, nil
	case "w":
		return Response{Output: fmt.Sprintf(" %s up %s,  1 user,  load average: %s\nUSER     TTY      FROM             LOGIN@   IDLE   WHAT\n%-8s pts/0    %-16s %s    0.00s  -bash",
			time.Now().Format("15:04:05"), p.UptimeStr, p.LoadStr, username(s), p.LastIP, time.Now().Format("15:04"))}, nil
	case "wget", "curl":
		return Response{Output: sh.download(s, name, args)}, nil
	case "history":
		return Response{Output: ""}, nil
	}
	return Response{}, ErrNotFound
}

func splitCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}

func username(s *session.Session) string {
	if u := s.Ext("username"); u != "" {
		return u
	}
	return "root"
}

func (sh *Shell) cd(s *session.Session, args string) string {
	target := strings.TrimSpace(args)
	if target == "" || target == "~" {
		s.SetCwd("/root")
		return ""
	}
	cwd := s.Cwd()
	node, ok := sh.fs.Resolve(target, cwd)
	if !ok || !node.IsDir {
		return fmt.Sprintf("cd: no such file or directory: %s", target)
	}
	s.SetCwd(vfs.Normalize(target, cwd))
	return ""
}

func (sh *Shell) ls(s *session.Session, long bool, args string) string {
	cwd := s.Cwd()
	target := cwd
	for _, a := range strings.Fields(args) {
		if !strings.HasPrefix(a, "-") {
			target = a
			break
		}
	}
	node, ok := sh.fs.Resolve(target, cwd)
	if !ok {
		return fmt.Sprintf("ls: cannot access '%s': No such file or directory", target)
	}
	if !node.IsDir {
		return path.Base(vfs.Normalize(target, cwd))
	}
	names := node.Children()
	if !long {
		return strings.Join(names, "  ")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "total %d\n", len(names))
	for _, name := range names {
		child, _ := node.Child(name)
		mode := "-rw-r--r--"
		size := len(child.Content)
		if child.IsDir {
			mode = "drwxr-xr-x"
			size = 4096
		}
		fmt.Fprintf(&b, "%s  1 root root %6d Jan  1 00:00 %s\n", mode, size, name)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (sh *Shell) cat(s *session.Session, args string) string {
	target := strings.TrimSpace(args)
	if target == "" {
		return ""
	}
	node, ok := sh.fs.Resolve(target, s.Cwd())
	if !ok {
		return fmt.Sprintf("cat: %s: No such file or directory", target)
	}
	if node.IsDir {
		return fmt.Sprintf("cat: %s: Is a directory", target)
	}
	return strings.TrimRight(node.Content, "\n")
}

func (sh *Shell) mkdir(s *session.Session, args string) string {
	target := strings.TrimSpace(strings.TrimPrefix(args, "-p "))
	if target == "" {
		return "mkdir: missing operand"
	}
	cwd := s.Cwd()
	if _, exists := sh.fs.Resolve(target, cwd); exists {
		return fmt.Sprintf("mkdir: cannot create directory '%s': File exists", target)
	}
	if err := sh.fs.Mkdir(vfs.Normalize(target, cwd)); err != nil {
		return fmt.Sprintf("mkdir: cannot create directory '%s': %v", target, err)
	}
	return ""
}

func (sh *Shell) touch(s *session.Session, args string) string {
	target := strings.TrimSpace(args)
	if target == "" {
		return "touch: missing file operand"
	}
	if err := sh.fs.Create(vfs.Normalize(target, s.Cwd()), ""); err != nil {
		return fmt.Sprintf("touch: cannot touch '%s': %v", target, err)
	}
	return ""
}

func (sh *Shell) echo(s *session.Session, args string) string {
	out := strings.Trim(args, `"'`)
	if strings.HasPrefix(out, "$") {
		if v, ok := s.Var(strings.TrimPrefix(out, "$")); ok {
			return v
		}
		return ""
	}
	return out
}

func (sh *Shell) export(s *session.Session, args string) string {
	kv := strings.SplitN(strings.TrimSpace(args), "=", 2)
	if len(kv) != 2 {
		return ""
	}
	s.SetVar(kv[0], strings.Trim(kv[1], `"'`))
	return ""
}

// download fakes a wget/curl transfer, stores the "file" in the virtual
// tree and records the attempt in the session's download history.
func (sh *Shell) download(s *session.Session, tool, args string) string {
	url := ""
	for _, a := range strings.Fields(args) {
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			url = a
			break
		}
	}
	if url == "" {
		if tool == "wget" {
			return "wget: missing URL"
		}
		return "curl: no URL specified"
	}
	filename := path.Base(strings.TrimRight(url, "/"))
	if filename == "" || strings.Contains(filename, "://") {
		filename = "index.html"
	}
	s.AddDownload(url, filename)
	_ = sh.fs.Create("/tmp/"+filename, "")
	sh.log.Info().Str("session", s.ID).Str("url", url).Msg("download attempt")

	if tool == "curl" {
		return ""
	}
	host := url
	if i := strings.Index(url, "://"); i >= 0 {
		host = url[i+3:]
	}
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	now := time.Now().Format("2006-01-02 15:04:05")
	size := 1024 + len(url)*7
	return fmt.Sprintf(
		"--%s--  %s\nResolving %s... done.\nConnecting to %s|192.0.2.1|:80... connected.\nHTTP request sent, awaiting response... 200 OK\nLength: %d [text/plain]\nSaving to: '%s'\n\n%s              100%%[%d/%d]   1.21K/s   in 0.01s\n\n%s (1.21 KB/s) - '%s' saved [%d/%d]",
		now, url, host, host, size, filename, filename, size, size, now, filename, size, size)
}
