// Package config loads the platform's TOML configuration: which engines to
// run, the dispatcher route table, and capture/identity settings.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration for TOML text values like "180s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Engine configures one protocol listener.
type Engine struct {
	Name       string            `toml:"name"`
	Kind       string            `toml:"kind"`
	Addr       string            `toml:"addr"`
	Backend    string            `toml:"backend"`
	Dispatcher bool              `toml:"dispatcher"`
	Options    map[string]string `toml:"options"`
}

// Route maps a path/command prefix to a backend name for the dispatcher.
type Route struct {
	Path string `toml:"path"`
	Name string `toml:"name"`
}

// Config is the root document.
type Config struct {
	LogDir      string   `toml:"log_dir"`
	CaptureDir  string   `toml:"capture_dir"`
	HostKey     string   `toml:"host_key"`
	DataFile    string   `toml:"data_file"`
	MetricsAddr string   `toml:"metrics_addr"`
	SessionTTL  Duration `toml:"session_ttl"`
	StopTimeout Duration `toml:"stop_timeout"`
	Engines     []Engine `toml:"engine"`
	Routes      []Route  `toml:"route"`
}

// Default returns the configuration used when no file is given: one engine
// per protocol on its conventional high port, shell backend.
func Default() *Config {
	c := &Config{
		LogDir:     "./mirage_logs",
		CaptureDir: "./mirage_logs/captures",
		HostKey:    "./mirage_host_key",
		Engines: []Engine{
			{Name: "ssh", Kind: "ssh", Addr: ":2222", Backend: "shell"},
			{Name: "telnet", Kind: "telnet", Addr: ":2323", Backend: "shell"},
			{Name: "mysql", Kind: "mysql", Addr: ":3306", Backend: "sql"},
			{Name: "postgres", Kind: "postgres", Addr: ":5432", Backend: "sql"},
			{Name: "redis", Kind: "redis", Addr: ":6379"},
			{Name: "tcp", Kind: "tcp", Addr: ":9000", Backend: "shell"},
			{Name: "http", Kind: "http", Addr: ":8080", Dispatcher: true},
		},
	}
	c.SessionTTL.Duration = 180 * time.Second
	c.StopTimeout.Duration = 5 * time.Second
	return c
}

// Load reads a TOML file and validates it.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	c.Engines = nil
	c.Routes = nil
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if len(c.Engines) == 0 {
		return nil, fmt.Errorf("config %s: no engines defined", path)
	}
	seen := map[string]bool{}
	for i := range c.Engines {
		e := &c.Engines[i]
		if e.Kind == "" {
			return nil, fmt.Errorf("config %s: engine %d has no kind", path, i)
		}
		if e.Name == "" {
			e.Name = e.Kind
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("config %s: duplicate engine name %q", path, e.Name)
		}
		seen[e.Name] = true
		if e.Addr == "" {
			e.Addr = ":0"
		}
	}
	if c.SessionTTL.Duration <= 0 {
		c.SessionTTL.Duration = 180 * time.Second
	}
	if c.StopTimeout.Duration <= 0 {
		c.StopTimeout.Duration = 5 * time.Second
	}
	return c, nil
}
