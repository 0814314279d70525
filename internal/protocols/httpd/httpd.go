// Package httpd serves the web face of the deception surface. Sessions
// ride a cookie instead of the client IP, and requests are classified by
// how the browser asked for them: API-shaped requests reach the backend
// path, everything unclassifiable 404s without spending a backend call.
package httpd

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/SolSoCoG/mirage/internal/backend"
	"github.com/SolSoCoG/mirage/internal/honeypot"
	"github.com/SolSoCoG/mirage/internal/metrics"
	"github.com/SolSoCoG/mirage/internal/session"
)

func init() {
	honeypot.Register("http", New)
}

const cookieName = "MIRAGESESSID"

// Engine is the HTTP honeypot.
type Engine struct {
	env    honeypot.Env
	addr   string
	server *http.Server
	ln     net.Listener
}

// New builds an HTTP engine around a gorilla router with a catch-all.
func New(env honeypot.Env) (honeypot.Engine, error) {
	e := &Engine{env: env, addr: env.Addr}
	r := mux.NewRouter()
	r.PathPrefix("/").HandlerFunc(e.serve)
	e.server = &http.Server{
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return e, nil
}

func (e *Engine) Name() string { return e.env.Name }
func (e *Engine) Kind() string { return "http" }

// Start binds the listener and serves in the background.
func (e *Engine) Start() error {
	ln, err := net.Listen("tcp", e.addr)
	if err != nil {
		return err
	}
	e.ln = ln
	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.env.Log.Error().Err(err).Str("engine", e.Name()).Msg("http serve")
		}
	}()
	return nil
}

// Stop shuts the server down, bounded by the engine stop timeout.
func (e *Engine) Stop() error {
	if e.server == nil {
		return nil
	}
	timeout := e.env.StopTimeout
	if timeout <= 0 {
		timeout = honeypot.DefaultStopTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return e.server.Shutdown(ctx)
}

// Addr reports the bound address.
func (e *Engine) Addr() net.Addr {
	if e.ln == nil {
		return nil
	}
	return e.ln.Addr()
}

func (e *Engine) serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	metrics.Connections.WithLabelValues(e.Name()).Inc()

	sess, created := e.resolveSession(ctx, w, r)
	if sess == nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if created {
		e.env.Sink.LogLogin(sess, map[string]any{
			"protocol":   "http",
			"user_agent": r.UserAgent(),
		})
	}

	info := requestInfo(r)
	e.env.Sink.LogData(sess, map[string]any{
		"method":        info.Method,
		"path":          info.Path,
		"resource_type": info.ResourceType,
	})

	// Requests that look like neither a page load nor an API call are
	// scanner chaff; answer 404 without involving a backend.
	if info.ResourceType == "unknown" {
		http.NotFound(w, r)
		return
	}

	metrics.Commands.WithLabelValues(e.Name()).Inc()
	resp, err := e.request(ctx, sess, info)
	switch {
	case err == nil:
		e.write(w, info, resp.Output)
	case errors.Is(err, backend.ErrNotFound):
		http.NotFound(w, r)
	default:
		e.env.Log.Warn().Err(err).Str("engine", e.Name()).Msg("backend error")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (e *Engine) request(ctx context.Context, sess *session.Session, info backend.RequestInfo) (backend.Response, error) {
	if e.env.Dispatcher != nil {
		return e.env.Dispatcher.Request(ctx, sess, info)
	}
	if e.env.Backend == nil {
		return backend.Response{}, backend.ErrNotFound
	}
	return e.env.Backend.Request(ctx, info, sess)
}

// resolveSession finds the session behind the cookie, or mints one and
// sets the cookie on the way out. created reports a first-time visitor.
func (e *Engine) resolveSession(ctx context.Context, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if c, err := r.Cookie(cookieName); err == nil {
		if sess, ok := e.env.Sessions.Get(c.Value); ok {
			return sess, false
		}
	}
	ip := clientIP(r)
	sess, err := e.env.Connect(ctx, backend.AuthInfo{ClientIP: ip})
	if err != nil {
		return nil, false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
	})
	return sess, true
}

// requestInfo flattens an http.Request into the generator contract.
func requestInfo(r *http.Request) backend.RequestInfo {
	body := ""
	if r.Body != nil {
		if b, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)); err == nil {
			body = string(b)
		}
	}
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	return backend.RequestInfo{
		Method:       r.Method,
		Path:         r.URL.Path,
		Query:        r.URL.Query(),
		Headers:      headers,
		Cookies:      r.Header.Get("Cookie"),
		ClientIP:     clientIP(r),
		Body:         body,
		ResourceType: classify(r),
	}
}

// classify buckets a request by how the client asked for it: an explicit
// XHR/fetch marker, a browser navigation, or neither.
func classify(r *http.Request) string {
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return "xhr"
	}
	switch r.Header.Get("Sec-Fetch-Mode") {
	case "cors", "same-origin":
		return "fetch"
	case "navigate":
		return "document"
	}
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "text/html") {
		return "document"
	}
	if strings.Contains(accept, "application/json") {
		return "fetch"
	}
	return "unknown"
}

// write picks the content type from the payload shape: JSON object/array
// output is served as JSON, everything else as HTML.
func (e *Engine) write(w http.ResponseWriter, info backend.RequestInfo, output string) {
	trimmed := strings.TrimSpace(output)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(output)) //nolint:errcheck
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
