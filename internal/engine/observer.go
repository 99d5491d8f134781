package engine

// Status is the lifecycle state of a Context.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusClosed  Status = "closed"
)

// Observer is notified at each step of the transition protocol. Hooks run
// on the goroutine driving the context and must not block for long.
type Observer interface {
	// PreStart is called before a node runs.
	PreStart(x *Context, c *Cmd)
	// PreNext is called after a successful transition from one node to the next.
	PreNext(x *Context, from, to *Cmd)
	// PreSkip is called after a miss transition.
	PreSkip(x *Context, from, to *Cmd)
	// PreStop is called when a node finishes, before its post-run hook.
	PreStop(x *Context, c *Cmd)
	// OnUpdate is called when the context changes status.
	OnUpdate(x *Context, status Status)
}

// NopObserver implements Observer with no-ops, for embedding.
type NopObserver struct{}

func (NopObserver) PreStart(*Context, *Cmd)      {}
func (NopObserver) PreNext(*Context, *Cmd, *Cmd) {}
func (NopObserver) PreSkip(*Context, *Cmd, *Cmd) {}
func (NopObserver) PreStop(*Context, *Cmd)       {}
func (NopObserver) OnUpdate(*Context, Status)    {}

var _ Observer = NopObserver{}
