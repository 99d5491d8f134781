// Package coordinator provides the named countdown signals hosts use to
// synchronize with each other during a run.
package coordinator

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"sync"

	"github.com/dagucloud/herd/internal/cmn/logger"
	"github.com/dagucloud/herd/internal/cmn/logger/tag"
	"github.com/dagucloud/herd/internal/core"
)

// Namespace maps a signal name to the key it is stored under.
type Namespace interface {
	Key(name string) string
}

// FlatNamespace shares every signal name across the whole run.
type FlatNamespace struct{}

// Key implements Namespace.
func (FlatNamespace) Key(name string) string { return name }

// PostFunc schedules a released waiter. Waiters are never resumed while a
// signal lock is held.
type PostFunc func(resume func())

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNamespace replaces the flat namespace.
func WithNamespace(ns Namespace) Option {
	return func(c *Coordinator) { c.ns = ns }
}

// WithPost sets how released waiters are resumed.
func WithPost(post PostFunc) Option {
	return func(c *Coordinator) { c.post = post }
}

// Coordinator owns the named signals of one run.
type Coordinator struct {
	ns   Namespace
	post PostFunc

	mu      sync.Mutex
	signals map[string]*latch
}

type latch struct {
	mu      sync.Mutex
	defined bool
	initial int
	count   int
	reset   bool
	waiters []func()
}

// New creates a Coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		ns:      FlatNamespace{},
		post:    func(resume func()) { go resume() },
		signals: make(map[string]*latch),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) latch(name string) *latch {
	key := c.ns.Key(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.signals[key]
	if !ok {
		l = &latch{}
		c.signals[key] = l
	}
	return l
}

// ParseCount parses a signal count.
func ParseCount(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", core.ErrInvalidSignalCount, s)
	}
	return n, nil
}

// SetSignal (re)initializes name from a textual count. An invalid count is
// logged and ignored.
func (c *Coordinator) SetSignal(ctx context.Context, name, initial string, reset bool) {
	n, err := ParseCount(initial)
	if err != nil {
		logger.Warn(ctx, "Ignoring set-signal", tag.Signal(name), tag.Error(err))
		return
	}
	c.Init(ctx, name, n, reset)
}

// Init (re)initializes name with count. Waiters already queued stay queued
// and are released at once when count is zero.
func (c *Coordinator) Init(ctx context.Context, name string, count int, reset bool) {
	l := c.latch(name)
	l.mu.Lock()
	l.defined = true
	l.initial = count
	l.count = count
	l.reset = reset
	var released []func()
	if count <= 0 {
		released = l.drain()
	}
	l.mu.Unlock()
	logger.Debug(ctx, "Signal initialized", tag.Signal(name), tag.Count(count), tag.String("reset", strconv.FormatBool(reset)))
	c.release(released)
}

// Signal decrements name. When the count reaches zero every queued waiter is
// released, and a resetting signal is restored to its initial count. A
// signal that was never initialized behaves as a one-shot with count one.
func (c *Coordinator) Signal(ctx context.Context, name string) {
	l := c.latch(name)
	l.mu.Lock()
	if !l.defined {
		l.defined = true
		l.initial = 1
		l.count = 1
	}
	if l.count > 0 {
		l.count--
	}
	var released []func()
	if l.count == 0 {
		released = l.drain()
		if l.reset {
			l.count = l.initial
		}
	}
	remaining := l.count
	l.mu.Unlock()
	logger.Debug(ctx, "Signal", tag.Signal(name), tag.Count(remaining), tag.String("released", strconv.Itoa(len(released))))
	c.release(released)
}

// WaitFor calls resume once name has been released. If the signal is
// already drained resume is scheduled immediately. Waits on names that do
// not exist yet stay pending until a later Init or Signal creates them.
func (c *Coordinator) WaitFor(ctx context.Context, name string, resume func()) {
	l := c.latch(name)
	l.mu.Lock()
	if l.defined && l.count <= 0 {
		l.mu.Unlock()
		c.release([]func(){resume})
		return
	}
	l.waiters = append(l.waiters, resume)
	n := len(l.waiters)
	l.mu.Unlock()
	logger.Debug(ctx, "Waiting for signal", tag.Signal(name), tag.String("waiters", strconv.Itoa(n)))
}

// Count returns the current count of name.
func (c *Coordinator) Count(name string) (int, bool) {
	key := c.ns.Key(name)
	c.mu.Lock()
	l, ok := c.signals[key]
	c.mu.Unlock()
	if !ok {
		return 0, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count, l.defined
}

// Released reports whether name exists and is drained.
func (c *Coordinator) Released(name string) bool {
	n, ok := c.Count(name)
	return ok && n <= 0
}

// Waiters returns the number of waiters queued on name.
func (c *Coordinator) Waiters(name string) int {
	l := c.latch(name)
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

// Snapshot returns the count of every defined signal.
func (c *Coordinator) Snapshot() map[string]int {
	c.mu.Lock()
	signals := maps.Clone(c.signals)
	c.mu.Unlock()
	out := make(map[string]int, len(signals))
	for key, l := range signals {
		l.mu.Lock()
		if l.defined {
			out[key] = l.count
		}
		l.mu.Unlock()
	}
	return out
}

func (l *latch) drain() []func() {
	out := l.waiters
	l.waiters = nil
	return out
}

func (c *Coordinator) release(waiters []func()) {
	for _, w := range waiters {
		c.post(w)
	}
}
