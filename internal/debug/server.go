// Package debug serves a read-mostly HTTP view of a live run.
package debug

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dagucloud/herd/internal/cmn/logger"
	"github.com/dagucloud/herd/internal/cmn/logger/tag"
	"github.com/dagucloud/herd/internal/coordinator"
	"github.com/dagucloud/herd/internal/engine"
	"github.com/dagucloud/herd/internal/metrics"
	"github.com/dagucloud/herd/internal/run"
)

// Target is the run being inspected.
type Target interface {
	metrics.Source
	ID() string
	Name() string
	Result() run.Result
	Abort(ctx context.Context, reason string, skipCleanup bool)
}

var _ Target = (*run.Run)(nil)

// Server exposes the run over HTTP.
type Server struct {
	addr       string
	target     Target
	registry   *prometheus.Registry
	jsonLogs   bool
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogFormat selects the request log format, "text" or "json".
func WithLogFormat(format string) Option {
	return func(s *Server) {
		s.jsonLogs = format == "json"
	}
}

// New creates a server for target. The collector, if not nil, is
// registered for /metrics.
func New(addr string, target Target, collector prometheus.Collector, opts ...Option) (*Server, error) {
	reg := prometheus.NewRegistry()
	if collector != nil {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	s := &Server{addr: addr, target: target, registry: reg}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	requestLogger := httplog.NewLogger("herd-debug", httplog.Options{
		LogLevel:         slog.LevelDebug,
		JSON:             s.jsonLogs,
		Concise:          true,
		MessageFieldName: "msg",
	})

	r := chi.NewMux()
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/run", s.handleRun)
		r.Get("/contexts", s.handleContexts)
		r.Get("/signals", s.handleSignals)
		r.Post("/abort", s.handleAbort)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

// Serve listens until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		s.httpServer.SetKeepAlivesEnabled(false)
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "Failed to shutdown debug server", tag.Error(err))
		}
	}()

	logger.Info(ctx, "Debug server is starting", tag.Addr(ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type runView struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Stage   string       `json:"stage"`
	Aborted bool         `json:"aborted"`
	Reason  string       `json:"reason,omitempty"`
	Stages  []stageView  `json:"stages"`
	Pools   []poolView   `json:"pools"`
}

type stageView struct {
	Stage    string  `json:"stage"`
	Contexts int     `json:"contexts"`
	Errors   int     `json:"errors"`
	Seconds  float64 `json:"seconds"`
}

type poolView struct {
	Name   string `json:"name"`
	Size   int    `json:"size"`
	Active int    `json:"active"`
	Queued int    `json:"queued"`
	Panics int    `json:"panics"`
}

type contextView struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Host     string        `json:"host"`
	Role     string        `json:"role,omitempty"`
	Status   string        `json:"status"`
	Current  string        `json:"current,omitempty"`
	Errors   []string      `json:"errors,omitempty"`
	Children []contextView `json:"children,omitempty"`
}

type signalView struct {
	Count   int `json:"count"`
	Waiters int `json:"waiters"`
}

func (s *Server) handleRun(w http.ResponseWriter, _ *http.Request) {
	res := s.target.Result()
	view := runView{
		ID:      s.target.ID(),
		Name:    s.target.Name(),
		Stage:   s.target.Stage().String(),
		Aborted: res.Aborted,
		Reason:  res.Reason,
		Stages:  []stageView{},
		Pools:   []poolView{},
	}
	for _, r := range res.Stages {
		view.Stages = append(view.Stages, stageView{
			Stage:    r.Stage.String(),
			Contexts: r.Contexts,
			Errors:   r.Errors,
			Seconds:  r.Duration.Seconds(),
		})
	}
	for _, p := range s.target.Pools() {
		active, queued := p.Stats()
		view.Pools = append(view.Pools, poolView{
			Name:   p.Name(),
			Size:   p.Size(),
			Active: active,
			Queued: queued,
			Panics: p.Panics(),
		})
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleContexts(w http.ResponseWriter, _ *http.Request) {
	views := []contextView{}
	for _, x := range s.target.Contexts() {
		views = append(views, newContextView(x))
	}
	writeJSON(w, http.StatusOK, views)
}

func newContextView(x *engine.Context) contextView {
	v := contextView{
		ID:     x.ID(),
		Name:   x.Name(),
		Host:   x.Env().Host.Name(),
		Role:   x.Env().Role,
		Status: string(x.Status()),
		Errors: x.Errors(),
	}
	if c := x.Current(); c != nil {
		v.Current = c.String()
	}
	for _, child := range x.Children() {
		v.Children = append(v.Children, newContextView(child))
	}
	return v
}

func (s *Server) handleSignals(w http.ResponseWriter, _ *http.Request) {
	views := map[string]signalView{}
	if coord := s.target.Coordinator(); coord != nil {
		views = signals(coord)
	}
	writeJSON(w, http.StatusOK, views)
}

func signals(coord *coordinator.Coordinator) map[string]signalView {
	snapshot := coord.Snapshot()
	out := make(map[string]signalView, len(snapshot))
	for name, count := range snapshot {
		out[name] = signalView{Count: count, Waiters: coord.Waiters(name)}
	}
	return out
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	skipCleanup := false
	if v := r.URL.Query().Get("skip-cleanup"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid skip-cleanup: " + v})
			return
		}
		skipCleanup = b
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "aborted over debug API"
	}
	s.target.Abort(r.Context(), reason, skipCleanup)
	writeJSON(w, http.StatusAccepted, map[string]bool{"aborted": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
