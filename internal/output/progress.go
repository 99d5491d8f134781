package output

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dagucloud/herd/internal/engine"
)

var _ engine.Observer = (*Progress)(nil)

// Progress prints one line per top-level context as it finishes.
type Progress struct {
	engine.NopObserver

	mu sync.Mutex
	w  io.Writer
}

// NewProgress creates a Progress writing to w.
func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w}
}

func (p *Progress) OnUpdate(x *engine.Context, status engine.Status) {
	if x.Async() {
		return
	}
	var o Outcome
	switch status {
	case engine.StatusDone:
		o = Succeeded
		if len(x.Errors()) > 0 {
			o = Failed
		}
	case engine.StatusClosed:
		o = Aborted
	default:
		return
	}

	env := x.Env()
	line := fmt.Sprintf("%s %s %s/%s", o.Symbol(), env.Stage, env.Host.Name(), x.Name())
	if errs := x.Errors(); len(errs) > 0 {
		line += ": " + strings.Join(errs, "; ")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, o.Colorize(line))
}
