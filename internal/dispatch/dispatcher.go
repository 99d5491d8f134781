// Package dispatch provides the pools that execute command bodies, node
// deadline timers and asynchronous continuations.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dagucloud/herd/internal/cmn/logger"
	"github.com/dagucloud/herd/internal/cmn/logger/tag"
)

// ErrShutdownTimeout is returned when in-flight work did not finish before
// the graceful shutdown deadline and the pools were forced down.
var ErrShutdownTimeout = errors.New("dispatcher shutdown timed out")

const (
	PoolWorkers   = "workers"
	PoolTimers    = "timers"
	PoolCallbacks = "callbacks"
)

// Config sizes the pools.
type Config struct {
	Workers   int
	Timers    int
	Callbacks int
}

// DefaultConfig returns the default pool sizes.
func DefaultConfig() Config {
	return Config{Workers: 16, Timers: 4, Callbacks: 8}
}

// Dispatcher owns the worker, timer and callback pools of one run.
type Dispatcher struct {
	ctx    context.Context
	cancel context.CancelFunc

	workers   *Pool
	timers    *Pool
	callbacks *Pool

	mu        sync.Mutex
	scheduled map[*Timer]struct{}
	once      sync.Once
}

// New creates a Dispatcher. Cancelling ctx forces every pool down.
func New(ctx context.Context, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Timers <= 0 {
		cfg.Timers = def.Timers
	}
	if cfg.Callbacks <= 0 {
		cfg.Callbacks = def.Callbacks
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Dispatcher{
		ctx:       ctx,
		cancel:    cancel,
		workers:   newPool(ctx, PoolWorkers, cfg.Workers),
		timers:    newPool(ctx, PoolTimers, cfg.Timers),
		callbacks: newPool(ctx, PoolCallbacks, cfg.Callbacks),
		scheduled: make(map[*Timer]struct{}),
	}
}

// Context returns the dispatcher context.
func (d *Dispatcher) Context() context.Context { return d.ctx }

// Pools returns the three pools.
func (d *Dispatcher) Pools() []*Pool {
	return []*Pool{d.workers, d.timers, d.callbacks}
}

// Go runs task on the worker pool.
func (d *Dispatcher) Go(label string, task Task) error {
	return d.workers.Submit(label, task)
}

// Callback runs task on the callback pool.
func (d *Dispatcher) Callback(label string, task Task) error {
	return d.callbacks.Submit(label, task)
}

// Timer is a scheduled task that can be cancelled before it fires.
type Timer struct {
	d     *Dispatcher
	timer *time.Timer
}

// Stop cancels the timer. It reports whether the call stopped the timer
// before it fired.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	stopped := t.timer.Stop()
	t.d.forget(t)
	return stopped
}

// Schedule runs task on the timer pool after delay.
func (d *Dispatcher) Schedule(label string, delay time.Duration, task Task) (*Timer, error) {
	if d.timers.isClosed() {
		return nil, ErrClosed
	}
	t := &Timer{d: d}
	d.mu.Lock()
	d.scheduled[t] = struct{}{}
	// AfterFunc under the lock so the callback cannot forget t before it is
	// registered.
	t.timer = time.AfterFunc(delay, func() {
		d.forget(t)
		if err := d.timers.Submit(label, task); err != nil {
			logger.Debug(d.ctx, "Dropped timer", tag.String("task", label), tag.Error(err))
		}
	})
	d.mu.Unlock()
	return t, nil
}

func (d *Dispatcher) forget(t *Timer) {
	d.mu.Lock()
	delete(d.scheduled, t)
	d.mu.Unlock()
}

// Shutdown stops accepting work and cancels pending timers, then waits up to
// timeout for in-flight tasks. Past the deadline the shared context is
// cancelled and ErrShutdownTimeout is returned once the pools return.
func (d *Dispatcher) Shutdown(ctx context.Context, timeout time.Duration) error {
	var err error
	d.once.Do(func() {
		for _, p := range d.Pools() {
			p.close()
		}
		d.mu.Lock()
		for t := range d.scheduled {
			t.timer.Stop()
		}
		clear(d.scheduled)
		d.mu.Unlock()

		done := make(chan struct{})
		go func() {
			for _, p := range d.Pools() {
				p.wait()
			}
			close(done)
		}()

		select {
		case <-done:
			logger.Debug(ctx, "Dispatcher stopped")
		case <-time.After(timeout):
			logger.Warn(ctx, "Forcing dispatcher shutdown", tag.Timeout(timeout))
			err = ErrShutdownTimeout
			d.cancel()
			select {
			case <-done:
			case <-time.After(timeout):
				logger.Error(ctx, "Tasks still running after forced shutdown")
			}
		}
		d.cancel()
	})
	return err
}
