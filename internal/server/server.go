// Package server implements the development server: a static file server
// for the build directory with live reload over server-sent events.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/poltergeist/haunt/internal/metrics"
	"github.com/poltergeist/haunt/pkg/logger"
	"github.com/poltergeist/haunt/pkg/types"
	"github.com/poltergeist/haunt/pkg/utils"
)

// Internal routes
const (
	EventsPath  = "/__haunt/livereload"
	ScriptPath  = "/__haunt/livereload.js"
	MetricsPath = "/__haunt/metrics"
	HealthPath  = "/__haunt/health"
)

// Server serves a directory with live reload
type Server struct {
	root    string
	cfg     types.ServerConfig
	logger  logger.Logger
	hub     *Hub
	metrics http.Handler

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
	done     chan error
}

// Option configures a Server
type Option func(*Server)

// WithRecorder reports client and reload counts to rec
func WithRecorder(rec metrics.Recorder) Option {
	return func(s *Server) {
		s.hub.recorder = rec
	}
}

// WithMetricsHandler exposes h at MetricsPath
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// New creates a server for root/cfg.BaseDir
func New(root string, cfg types.ServerConfig, log logger.Logger, opts ...Option) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		root:   root,
		cfg:    cfg,
		logger: log,
		hub:    NewHub(log, nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub.recorder == nil {
		s.hub.recorder = metrics.NoopRecorder{}
	}
	return s
}

// Hub returns the live reload hub
func (s *Server) Hub() *Hub { return s.hub }

// Dir returns the served directory
func (s *Server) Dir() string {
	return filepath.Join(s.root, filepath.FromSlash(s.cfg.BaseDir))
}

// Handler returns the server's routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	var files http.Handler = noCache(http.FileServer(http.Dir(s.Dir())))
	if s.cfg.LiveReload {
		files = injectScript(files, fmt.Sprintf(`<script async src="%s"></script>`, ScriptPath))
		mux.Handle(EventsPath, s.hub)
		script := renderClientScript(s.cfg.Notify)
		mux.HandleFunc(ScriptPath, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			if _, err := w.Write([]byte(script)); err != nil {
				s.logger.Debug("Failed to write live reload script", logger.WithError(err))
			}
		})
	}
	if s.metrics != nil {
		mux.Handle(MetricsPath, s.metrics)
	}
	mux.HandleFunc(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"status":"ok","clients":%d}`, s.hub.Clients())
	})
	mux.Handle("/", files)
	return mux
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		next.ServeHTTP(w, r)
	})
}

// Start binds the listener and serves in the background. Port 0 picks a
// free port.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return errors.New("server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// no write timeout: the event stream is long lived
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.listener = ln
	s.done = make(chan error, 1)

	go func(srv *http.Server, done chan<- error) {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}(s.http, s.done)

	s.logger.Info("Serving files",
		logger.WithField("dir", s.cfg.BaseDir),
		logger.WithField("url", s.URL()))
	return nil
}

// Addr returns the bound address, or "" before Start
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// URL returns the address browsers should open
func (s *Server) URL() string {
	addr := s.Addr()
	if addr == "" {
		return ""
	}
	host, port, err := net.SplitHostPort(addr)
	if err == nil && (host == "" || host == "::" || host == "0.0.0.0") {
		addr = net.JoinHostPort("localhost", port)
	}
	return "http://" + addr
}

// Reload tells browsers about changed build outputs given as root-relative
// paths. Stylesheet-only changes are injected without a page reload.
func (s *Server) Reload(files []string) {
	if !s.cfg.LiveReload {
		return
	}

	hash := s.outputHash(files)
	var cssPaths []string
	for _, f := range files {
		if !strings.EqualFold(path.Ext(f), ".css") {
			s.hub.Broadcast(Message{Type: ReloadPage, Hash: hash})
			return
		}
		cssPaths = append(cssPaths, s.urlPath(f))
	}
	if len(cssPaths) == 0 {
		s.hub.Broadcast(Message{Type: ReloadPage, Hash: hash})
		return
	}
	s.hub.Broadcast(Message{Type: ReloadCSS, Paths: cssPaths, Hash: hash})
}

// outputHash fingerprints the current contents of files, so a rebuild
// that rewrites identical output does not reload browsers
func (s *Server) outputHash(files []string) string {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	var b strings.Builder
	for _, f := range sorted {
		sum, err := utils.GetFileHash(filepath.Join(s.root, filepath.FromSlash(f)))
		if err != nil {
			sum = "missing"
		}
		b.WriteString(f + "=" + sum + "\n")
	}
	return utils.HashBytes([]byte(b.String()))
}

// urlPath maps a root-relative file to its URL under the served directory
func (s *Server) urlPath(file string) string {
	base := path.Clean(filepath.ToSlash(s.cfg.BaseDir))
	file = path.Clean(filepath.ToSlash(file))
	if base != "." && strings.HasPrefix(file, base+"/") {
		file = strings.TrimPrefix(file, base+"/")
	}
	return "/" + file
}

// Shutdown disconnects browsers and stops the server, waiting for in-flight
// requests until ctx is done
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Shutdown()

	s.mu.Lock()
	srv, done := s.http, s.done
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-done; err != nil {
		return err
	}
	s.logger.Info("Server stopped")
	return nil
}
