// Package vfs is the virtual filesystem the shell-style command handlers
// browse. The core consumes it through the Provider interface only; the
// in-memory implementation here exists so the builtin shell backend has
// something to walk.
package vfs

import (
	"path"
	"sort"
	"strings"
	"sync"
)

// Node is one entry in the emulated tree.
type Node struct {
	Name     string
	IsDir    bool
	Content  string
	children map[string]*Node
}

// Children returns the node's child names, sorted.
func (n *Node) Children() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Child returns a child node by name.
func (n *Node) Child(name string) (*Node, bool) {
	c, ok := n.children[name]
	return c, ok
}

// Provider is the narrow contract the shell handlers depend on.
type Provider interface {
	// Resolve walks path relative to cwd and returns the node, or false
	// when nothing is there.
	Resolve(p, cwd string) (*Node, bool)

	// Create writes a file (parents created as needed).
	Create(p, content string) error

	// Mkdir creates a directory (parents created as needed).
	Mkdir(p string) error
}

// Memory is a mutex-guarded in-memory tree.
type Memory struct {
	mu   sync.RWMutex
	root *Node
}

// NewMemory returns an empty tree containing only "/".
func NewMemory() *Memory {
	return &Memory{root: &Node{Name: "/", IsDir: true, children: map[string]*Node{}}}
}

// Normalize joins p against cwd and cleans it to an absolute path.
func Normalize(p, cwd string) string {
	if !strings.HasPrefix(p, "/") {
		p = path.Join(cwd, p)
	}
	return path.Clean(p)
}

func (m *Memory) walk(p string) (*Node, bool) {
	cur := m.root
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		if part == "" || part == "." {
			continue
		}
		next, ok := cur.children[part]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Resolve implements Provider.
func (m *Memory) Resolve(p, cwd string) (*Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.walk(Normalize(p, cwd))
}

func (m *Memory) ensureDir(p string) *Node {
	cur := m.root
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		if part == "" || part == "." {
			continue
		}
		next, ok := cur.children[part]
		if !ok {
			next = &Node{Name: part, IsDir: true, children: map[string]*Node{}}
			cur.children[part] = next
		}
		cur = next
	}
	return cur
}

// Create implements Provider.
func (m *Memory) Create(p, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = Normalize(p, "/")
	dir := m.ensureDir(path.Dir(p))
	name := path.Base(p)
	dir.children[name] = &Node{Name: name, IsDir: false, Content: content}
	return nil
}

// Mkdir implements Provider.
func (m *Memory) Mkdir(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureDir(Normalize(p, "/"))
	return nil
}

// Seed populates the tree with the paths a returning operator expects to
// see on a small production box.
func (m *Memory) Seed() *Memory {
	dirs := []string{
		"/root/.ssh", "/root/backup", "/etc/ssh", "/var/www/html",
		"/var/log", "/home/deploy", "/tmp", "/opt",
	}
	files := map[string]string{
		"/root/.bash_history":  "ls\ncat /etc/passwd\nmysql -u root -p\nexit\n",
		"/root/notes.txt":      "TODO: rotate db password after the migration\n",
		"/etc/hostname":        "web-prod-01\n",
		"/etc/passwd":          "root:x:0:0:root:/root:/bin/bash\ndeploy:x:1001:1001::/home/deploy:/bin/bash\n",
		"/var/www/html/config.php": "<?php\n$db_host = 'localhost';\n$db_user = 'webapp';\n$db_pass = 'S3same!web';\n",
	}
	for _, d := range dirs {
		_ = m.Mkdir(d)
	}
	for p, c := range files {
		_ = m.Create(p, c)
	}
	return m
}
