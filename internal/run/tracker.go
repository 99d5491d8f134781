package run

import (
	"context"
	"sync"

	"github.com/dagucloud/herd/internal/engine"
)

// tracker counts the live contexts of a stage, branches included. Branches
// register while their parent is still running, so the count only reaches
// zero once the whole stage is idle.
type tracker struct {
	mu     sync.Mutex
	cond   *sync.Cond
	active map[*engine.Context]struct{}
	total  int
	errors int
}

func newTracker() *tracker {
	t := &tracker{active: make(map[*engine.Context]struct{})}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *tracker) Started(x *engine.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[x] = struct{}{}
	t.total++
}

func (t *tracker) Finished(x *engine.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[x]; !ok {
		return
	}
	delete(t.active, x)
	t.errors += len(x.Errors())
	t.cond.Broadcast()
}

// Contexts returns the contexts still running.
func (t *tracker) Contexts() []*engine.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*engine.Context, 0, len(t.active))
	for x := range t.active {
		out = append(out, x)
	}
	return out
}

func (t *tracker) counts() (total, errors int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total, t.errors
}

// wait blocks until no context is active or ctx is done.
func (t *tracker) wait(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.cond.Broadcast()
	})
	defer stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.active) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.cond.Wait()
	}
	return nil
}
