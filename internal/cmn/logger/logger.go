package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// Logger is the structured logger used across herd.
type Logger interface {
	Debug(msg string, tags ...any)
	Info(msg string, tags ...any)
	Warn(msg string, tags ...any)
	Error(msg string, tags ...any)

	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)

	With(attrs ...any) Logger
	WithGroup(name string) Logger
}

// Filter redacts secrets from text before it leaves the process.
type Filter interface {
	Filter(text string) string
}

var _ Logger = (*appLogger)(nil)

type appLogger struct {
	logger *slog.Logger
	debug  bool
}

type Config struct {
	debug  bool
	format string
	writer io.Writer
	quiet  bool
	filter Filter
}

type Option func(*Config)

// WithDebug sets the level of the logger to debug.
func WithDebug() Option {
	return func(o *Config) {
		o.debug = true
	}
}

// WithFormat sets the format of the logger (text or json).
func WithFormat(format string) Option {
	return func(o *Config) {
		o.format = format
	}
}

// WithWriter adds a second destination, usually a log file.
func WithWriter(w io.Writer) Option {
	return func(o *Config) {
		o.writer = w
	}
}

// WithQuiet suppresses output to stderr.
func WithQuiet() Option {
	return func(o *Config) {
		o.quiet = true
	}
}

// WithFilter redacts every message and string attribute through f.
func WithFilter(f Filter) Option {
	return func(o *Config) {
		o.filter = f
	}
}

var defaultLogger = NewLogger(WithFormat("text"))

func NewLogger(opts ...Option) Logger {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}

	level := slog.LevelInfo
	if cfg.debug {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handlers []slog.Handler
	if !cfg.quiet {
		handlers = append(handlers, newHandler(os.Stderr, cfg.format, handlerOpts))
	}
	if cfg.writer != nil {
		handlers = append(handlers, &guardedHandler{
			handler: newHandler(cfg.writer, cfg.format, handlerOpts),
			mu:      &sync.Mutex{},
		})
	}

	var handler slog.Handler = slogmulti.Fanout(handlers...)
	if cfg.filter != nil {
		handler = &maskingHandler{handler: handler, filter: cfg.filter}
	}

	return &appLogger{
		logger: slog.New(handler),
		debug:  cfg.debug,
	}
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

var _ slog.Handler = (*guardedHandler)(nil)

// guardedHandler serializes writes to a shared file so lines from concurrent
// host contexts never interleave.
type guardedHandler struct {
	handler slog.Handler
	mu      *sync.Mutex
}

func (s *guardedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return s.handler.Enabled(ctx, level)
}

func (s *guardedHandler) Handle(ctx context.Context, record slog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler.Handle(ctx, record)
}

func (s *guardedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &guardedHandler{handler: s.handler.WithAttrs(attrs), mu: s.mu}
}

func (s *guardedHandler) WithGroup(name string) slog.Handler {
	return &guardedHandler{handler: s.handler.WithGroup(name), mu: s.mu}
}

var _ slog.Handler = (*maskingHandler)(nil)

// maskingHandler rewrites the message and every string attribute through the
// secret filter before handing the record on.
type maskingHandler struct {
	handler slog.Handler
	filter  Filter
}

func (m *maskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return m.handler.Enabled(ctx, level)
}

func (m *maskingHandler) Handle(ctx context.Context, record slog.Record) error {
	masked := slog.NewRecord(record.Time, record.Level, m.filter.Filter(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		masked.AddAttrs(m.mask(a))
		return true
	})
	return m.handler.Handle(ctx, masked)
}

func (m *maskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = m.mask(a)
	}
	return &maskingHandler{handler: m.handler.WithAttrs(out), filter: m.filter}
}

func (m *maskingHandler) WithGroup(name string) slog.Handler {
	return &maskingHandler{handler: m.handler.WithGroup(name), filter: m.filter}
}

func (m *maskingHandler) mask(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, m.filter.Filter(v.String()))
	case slog.KindGroup:
		group := v.Group()
		out := make([]any, len(group))
		for i, g := range group {
			out[i] = m.mask(g)
		}
		return slog.Group(a.Key, out...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, m.filter.Filter(err.Error()))
		}
	}
	return a
}

func (a *appLogger) Debugf(format string, v ...any) {
	a.log(slog.LevelDebug, fmt.Sprintf(format, v...))
}

func (a *appLogger) Infof(format string, v ...any) {
	a.log(slog.LevelInfo, fmt.Sprintf(format, v...))
}

func (a *appLogger) Warnf(format string, v ...any) {
	a.log(slog.LevelWarn, fmt.Sprintf(format, v...))
}

func (a *appLogger) Errorf(format string, v ...any) {
	a.log(slog.LevelError, fmt.Sprintf(format, v...))
}

func (a *appLogger) Debug(msg string, tags ...any) {
	a.log(slog.LevelDebug, msg, tags...)
}

func (a *appLogger) Info(msg string, tags ...any) {
	a.log(slog.LevelInfo, msg, tags...)
}

func (a *appLogger) Warn(msg string, tags ...any) {
	a.log(slog.LevelWarn, msg, tags...)
}

func (a *appLogger) Error(msg string, tags ...any) {
	a.log(slog.LevelError, msg, tags...)
}

// log records with the caller's program counter so AddSource points at the
// call site rather than this file.
func (a *appLogger) log(level slog.Level, msg string, tags ...any) {
	if !a.logger.Enabled(context.Background(), level) {
		return
	}
	if !a.debug {
		a.logger.Log(context.Background(), level, msg, tags...)
		return
	}

	var pcs [1]uintptr
	runtime.Callers(4, pcs[:]) // runtime.Callers, log, the Logger method, the package helper

	record := slog.NewRecord(time.Now(), level, msg, pcs[0])
	record.Add(tags...)
	_ = a.logger.Handler().Handle(context.Background(), record)
}

func (a *appLogger) With(attrs ...any) Logger {
	return &appLogger{logger: a.logger.With(attrs...), debug: a.debug}
}

func (a *appLogger) WithGroup(name string) Logger {
	return &appLogger{logger: a.logger.WithGroup(name), debug: a.debug}
}
