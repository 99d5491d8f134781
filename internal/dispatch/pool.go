package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/dagucloud/herd/internal/cmn/logger"
	"github.com/dagucloud/herd/internal/cmn/logger/tag"
)

// ErrClosed is returned when work is submitted to a pool that is shutting down.
var ErrClosed = errors.New("pool is closed")

// Task is a unit of work run on a pool. The context is cancelled when the
// dispatcher is forced down.
type Task func(ctx context.Context)

// Pool runs tasks with bounded concurrency. Submitting never blocks; tasks
// beyond the bound wait for a slot.
type Pool struct {
	name string
	size int64
	sem  *semaphore.Weighted
	ctx  context.Context

	// mu orders Submit's wg.Add against close so no Add follows wait.
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	active  atomic.Int64
	queued  atomic.Int64
	panics  atomic.Int64
	counter atomic.Uint64
}

func newPool(ctx context.Context, name string, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		name: name,
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
		ctx:  ctx,
	}
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Size returns the concurrency bound.
func (p *Pool) Size() int { return int(p.size) }

// Stats reports running and waiting tasks.
func (p *Pool) Stats() (active, queued int) {
	return int(p.active.Load()), int(p.queued.Load())
}

// Panics returns the number of recovered panics.
func (p *Pool) Panics() int { return int(p.panics.Load()) }

// Submit queues task. The label identifies the work in panic logs.
func (p *Pool) Submit(label string, task Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("%s: %w", p.name, ErrClosed)
	}
	p.wg.Add(1)
	p.queued.Add(1)
	p.mu.Unlock()
	worker := fmt.Sprintf("%s-%d", p.name, p.counter.Add(1))
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			p.queued.Add(-1)
			return
		}
		p.queued.Add(-1)
		p.active.Add(1)
		defer func() {
			p.active.Add(-1)
			p.sem.Release(1)
		}()
		p.exec(worker, label, task)
	}()
	return nil
}

func (p *Pool) exec(worker, label string, task Task) {
	ctx := logger.WithValues(p.ctx, tag.Pool(p.name), tag.Worker(worker))
	defer func() {
		if panicObj := recover(); panicObj != nil {
			p.panics.Add(1)
			stack := debug.Stack()
			var err error
			switch v := panicObj.(type) {
			case error:
				err = v
			default:
				err = fmt.Errorf("panic: %v", v)
			}
			logger.Error(ctx, "Recovered from panic",
				tag.String("task", label),
				tag.Error(err),
				tag.String("stack", string(stack)))
		}
	}()
	task(ctx)
}

func (p *Pool) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pool) wait() {
	p.wg.Wait()
}
