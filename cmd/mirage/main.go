// Command mirage runs the deception platform: one protocol engine per
// configured listener, all sharing the session registry, the backend
// generators, and the sticky dispatcher.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/SolSoCoG/mirage/internal/backend"
	"github.com/SolSoCoG/mirage/internal/config"
	"github.com/SolSoCoG/mirage/internal/dispatch"
	"github.com/SolSoCoG/mirage/internal/honeypot"
	"github.com/SolSoCoG/mirage/internal/logsink"
	"github.com/SolSoCoG/mirage/internal/profile"
	"github.com/SolSoCoG/mirage/internal/session"
	"github.com/SolSoCoG/mirage/internal/vfs"

	_ "github.com/SolSoCoG/mirage/internal/protocols/httpd"
	_ "github.com/SolSoCoG/mirage/internal/protocols/mysql"
	_ "github.com/SolSoCoG/mirage/internal/protocols/postgres"
	_ "github.com/SolSoCoG/mirage/internal/protocols/redisd"
	_ "github.com/SolSoCoG/mirage/internal/protocols/sshd"
	_ "github.com/SolSoCoG/mirage/internal/protocols/tcpd"
	_ "github.com/SolSoCoG/mirage/internal/protocols/telnet"
)

func main() {
	configPath := flag.String("config", "", "TOML configuration file (empty: built-in defaults)")
	envFile := flag.String("env", "", "optional .env file loaded before anything else")
	debug := flag.Bool("debug", false, "debug-level logging")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "env file: %v\n", err)
			os.Exit(1)
		}
	} else {
		godotenv.Load() //nolint:errcheck
	}

	log := newLogger(*debug)
	if err := run(*configPath, log); err != nil {
		log.Fatal().Err(err).Msg("mirage exited")
	}
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug || os.Getenv("MIRAGE_DEBUG") == "1" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}

func run(configPath string, log zerolog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	for _, d := range []string{cfg.LogDir, cfg.CaptureDir} {
		if d == "" {
			continue
		}
		if err := os.MkdirAll(d, 0700); err != nil {
			return fmt.Errorf("mkdir %s: %w", d, err)
		}
	}

	sessions := session.NewRegistry(cfg.SessionTTL.Duration)
	sink := logsink.New(cfg.LogDir, log)
	profiles := profile.NewSource()

	fs := vfs.NewMemory()
	fs.Seed()
	static := backend.NewStatic(sessions, cfg.DataFile, log)
	shell := backend.NewChain(static, backend.NewShell(sessions, fs, profiles, log))
	sql := backend.NewSQL(sessions)

	generators := map[string]backend.ResponseGenerator{
		"shell":  shell,
		"sql":    sql,
		"static": static,
	}

	var routes []dispatch.Route
	for _, r := range cfg.Routes {
		routes = append(routes, dispatch.Route{Path: r.Path, Name: r.Name})
	}
	dispatcher := dispatch.New([]dispatch.BackendDescriptor{
		{Name: "shell", Kind: "shell", Handler: shell},
		{Name: "sql", Kind: "sql", Handler: sql},
		{Name: "static", Kind: "static", Handler: static},
	}, routes, log)

	var engines []honeypot.Engine
	for _, ec := range cfg.Engines {
		env := honeypot.Env{
			Name:        ec.Name,
			Addr:        ec.Addr,
			Sessions:    sessions,
			Sink:        sink,
			Profiles:    profiles,
			Log:         log.With().Str("engine", ec.Name).Logger(),
			StopTimeout: cfg.StopTimeout.Duration,
			Options:     options(cfg, ec),
		}
		if ec.Dispatcher {
			env.Dispatcher = dispatcher
		}
		if ec.Backend != "" {
			gen, ok := generators[ec.Backend]
			if !ok {
				return fmt.Errorf("engine %s: unknown backend %q", ec.Name, ec.Backend)
			}
			env.Backend = gen
		}
		eng, err := honeypot.NewEngine(ec.Kind, env)
		if err != nil {
			return fmt.Errorf("engine %s: %w", ec.Name, err)
		}
		engines = append(engines, eng)
	}

	stop := make(chan struct{})
	profiles.StartRotation(time.Hour, stop)

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, log)
	}

	fleet := honeypot.NewFleet(log, engines...)
	if err := fleet.Start(); err != nil {
		close(stop)
		fleet.Stop() //nolint:errcheck
		return err
	}
	log.Info().Int("engines", fleet.Running()).Strs("kinds", honeypot.Kinds()).Msg("mirage up")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info().Str("signal", s.String()).Msg("shutting down")

	close(stop)
	return fleet.Stop()
}

// options merges the top-level capture settings into the per-engine knob
// map so engines stay config-source agnostic.
func options(cfg *config.Config, ec config.Engine) map[string]string {
	out := make(map[string]string, len(ec.Options)+2)
	if cfg.HostKey != "" {
		out["host_key"] = cfg.HostKey
	}
	if cfg.CaptureDir != "" {
		out["capture_dir"] = cfg.CaptureDir
	}
	for k, v := range ec.Options {
		out[k] = v
	}
	return out
}

func serveMetrics(addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("metrics listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server")
	}
}
