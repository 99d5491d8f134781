package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dagucloud/herd/internal/cmn/logger"
	"github.com/dagucloud/herd/internal/cmn/logger/tag"
	"github.com/dagucloud/herd/internal/state"
)

// ErrStarted is returned when a context is started twice.
var ErrStarted = errors.New("context already started")

// transit marks a context whose current node has been claimed by a
// transition that has not yet published the next node.
var transit = &Cmd{action: &groupAction{}}

var sequence atomic.Uint64

type transition int

const (
	toNext transition = iota
	toMiss
	toLeave
)

type step struct {
	cmd   *Cmd
	input string
}

// Context drives one copy of a command graph, one node at a time.
type Context struct {
	id     string
	name   string
	env    *Env
	ctx    context.Context
	root   *Cmd
	state  *state.State
	// origin is the node that spawned an asynchronous branch.
	origin *Cmd

	current  atomic.Pointer[Cmd]
	started  atomic.Bool
	closed   atomic.Bool
	done     chan struct{}
	doneOnce sync.Once

	mu       sync.Mutex
	pending  []step
	draining bool
	children []*Context
	errs     []string
}

// NewContext creates a context that walks root with its own script state.
// root must be a copy owned by this context.
func NewContext(env *Env, name string, root *Cmd) *Context {
	st := env.State
	if st == nil {
		st = state.New(env.Secrets)
	}
	return newContext(env, name, root, st.Child(state.LevelScript), nil)
}

func newContext(env *Env, name string, root *Cmd, st *state.State, o *Cmd) *Context {
	id := fmt.Sprintf("%s#%d", name, sequence.Add(1))
	base := env.Ctx
	if base == nil {
		base = context.Background()
	}
	x := &Context{
		id:     id,
		name:   name,
		env:    env,
		root:   root,
		state:  st,
		origin: o,
		done:   make(chan struct{}),
	}
	ctx := logger.WithValues(base, tag.Host(env.Host.Name()), tag.Context(id))
	if env.Dispatcher != nil {
		// Forcing the dispatcher down interrupts node bodies blocked on ctx,
		// including those of contexts that were already closed.
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		context.AfterFunc(env.Dispatcher.Context(), cancel)
	}
	x.ctx = ctx
	return x
}

func (x *Context) ID() string            { return x.id }
func (x *Context) Name() string          { return x.name }
func (x *Context) Env() *Env             { return x.env }
func (x *Context) Ctx() context.Context  { return x.ctx }
func (x *Context) Root() *Cmd            { return x.root }
func (x *Context) State() *state.State   { return x.state }
func (x *Context) Done() <-chan struct{} { return x.done }
func (x *Context) Closed() bool          { return x.closed.Load() }
func (x *Context) Async() bool           { return x.origin != nil }

// Current returns the active node, nil when idle, done or mid-transition.
func (x *Context) Current() *Cmd {
	c := x.current.Load()
	if c == transit {
		return nil
	}
	return c
}

// Status reports the lifecycle state.
func (x *Context) Status() Status {
	select {
	case <-x.done:
		if x.closed.Load() {
			return StatusClosed
		}
		return StatusDone
	default:
	}
	if x.started.Load() {
		return StatusRunning
	}
	return StatusIdle
}

// Errors returns the messages recorded through Error.
func (x *Context) Errors() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.errs...)
}

// Children returns the asynchronous branches spawned by x.
func (x *Context) Children() []*Context {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]*Context(nil), x.children...)
}

// Start runs the root node with input.
func (x *Context) Start(input string) error {
	if !x.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	if x.env.Tracker != nil {
		x.env.Tracker.Started(x)
	}
	for _, o := range x.env.Observers {
		o.OnUpdate(x, StatusRunning)
	}
	if x.closed.Load() {
		x.finish(StatusClosed)
		return nil
	}
	x.current.Store(x.root)
	x.enqueue(x.root, input)
	return nil
}

// Wait blocks until the context is done or ctx is cancelled.
func (x *Context) Wait(ctx context.Context) error {
	select {
	case <-x.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next completes c successfully and moves to the node after it. It reports
// whether this call won the transition.
func (x *Context) Next(c *Cmd, output string) bool {
	return x.advance(c, output, toNext)
}

// Miss completes c without a match and moves to its else branch or skip
// target.
func (x *Context) Miss(c *Cmd, output string) bool {
	return x.advance(c, output, toMiss)
}

// Leave completes c and continues after its subtree without entering it.
func (x *Context) Leave(c *Cmd, output string) bool {
	return x.advance(c, output, toLeave)
}

func (x *Context) advance(from *Cmd, output string, how transition) bool {
	// Claim the transition. Losers leave no trace besides this log line.
	if !x.current.CompareAndSwap(from, transit) {
		logger.Debug(x.ctx, "Dropped stale transition", tag.Cmd(from.String()))
		return false
	}

	from.stopTimers()
	from.output = output
	from.hasOutput = true

	for _, o := range x.env.Observers {
		o.PreStop(x, from)
	}
	if h, ok := from.action.(PostRunner); ok {
		h.PostRun(x, from)
	}

	var next *Cmd
	switch how {
	case toMiss:
		next = from.Miss()
	case toLeave:
		next = from.Skip()
	default:
		next = from.Next()
	}
	next = x.resolve(next)
	closed := x.closed.Load()
	if closed {
		next = nil
	}

	x.current.Store(next)
	if next == nil {
		if closed {
			x.finish(StatusClosed)
		} else {
			x.finish(StatusDone)
		}
		return true
	}

	for _, o := range x.env.Observers {
		if how != toNext {
			o.PreSkip(x, from, next)
		} else {
			o.PreNext(x, from, next)
		}
	}
	x.enqueue(next, output)
	return true
}

// resolve applies the branch rules to a candidate next node. A branch that
// was spawned asynchronously ends as soon as control would leave its own
// subtree, whether or not the spawning context is still on the spawning
// node. Nodes past the subtree belong to the spawner.
func (x *Context) resolve(cand *Cmd) *Cmd {
	if x.origin == nil || cand == nil || x.root.Owns(cand) {
		return cand
	}
	logger.Debug(x.ctx, "Branch left its subtree", tag.Cmd(cand.String()))
	return nil
}

func (x *Context) enqueue(c *Cmd, input string) {
	x.mu.Lock()
	x.pending = append(x.pending, step{cmd: c, input: input})
	if x.draining {
		x.mu.Unlock()
		return
	}
	x.draining = true
	x.mu.Unlock()

	if err := x.env.Dispatcher.Go(x.id, x.drain); err != nil {
		logger.Error(x.ctx, "Failed to dispatch command", tag.Cmd(c.String()), tag.Error(err))
		x.mu.Lock()
		x.pending = nil
		x.draining = false
		x.mu.Unlock()
		x.closed.Store(true)
		x.current.Store(nil)
		x.finish(StatusClosed)
	}
}

// drain runs queued nodes until none are left. Nodes that complete
// synchronously queue their successor here instead of recursing.
func (x *Context) drain(context.Context) {
	for {
		x.mu.Lock()
		if len(x.pending) == 0 {
			x.draining = false
			x.mu.Unlock()
			return
		}
		s := x.pending[0]
		x.pending = x.pending[1:]
		x.mu.Unlock()
		x.invoke(s)
	}
}

func (x *Context) invoke(s step) {
	c := s.cmd
	if x.closed.Load() {
		if x.current.CompareAndSwap(c, nil) {
			x.finish(StatusClosed)
		}
		return
	}
	for _, o := range x.env.Observers {
		o.PreStart(x, c)
	}
	x.startTimers(c)
	if st, ok := c.action.(streamer); !ok || !st.streams() {
		x.startWatchers(c, s.input)
	}
	logger.Debug(x.ctx, "Run", tag.Cmd(c.String()))
	c.action.Run(x, c, s.input)
}

func (x *Context) startTimers(c *Cmd) {
	for _, timer := range c.timers {
		h, err := x.env.Dispatcher.Schedule(x.id+"/timer", timer.After, func(context.Context) {
			x.fireTimer(c, timer)
		})
		if err != nil {
			logger.Warn(x.ctx, "Failed to schedule timer", tag.Cmd(c.String()), tag.Error(err))
			continue
		}
		c.running = append(c.running, h)
	}
}

func (c *Cmd) stopTimers() {
	for _, h := range c.running {
		h.Stop()
	}
	c.running = nil
}

func (x *Context) fireTimer(c *Cmd, t *Timer) {
	if x.closed.Load() || x.current.Load() != c {
		return
	}
	logger.Info(x.ctx, "Timer expired", tag.Cmd(c.String()), tag.Timeout(t.After))
	x.spawn(t.root.Copy(), c, x.state, "")
}

func (x *Context) startWatchers(c *Cmd, input string) {
	for _, w := range c.watchers {
		x.spawn(w.Copy(), c, x.state, input)
	}
}

// streamLine starts every watcher of c with one output line.
func (x *Context) streamLine(c *Cmd, line string) {
	for _, w := range c.watchers {
		x.spawn(w.Copy(), c, x.state, line)
	}
}

// spawn starts an asynchronous branch rooted at root, attributed to node.
func (x *Context) spawn(root *Cmd, node *Cmd, st *state.State, input string) *Context {
	root.Bind(node, freeze(node))
	b := newContext(x.env, x.name, root, st, node)
	x.mu.Lock()
	x.children = append(x.children, b)
	x.mu.Unlock()
	if x.closed.Load() {
		b.Close()
	}
	if err := b.Start(input); err != nil {
		logger.Warn(x.ctx, "Failed to start branch", tag.Error(err))
	}
	return b
}

// freeze captures the scope seen from node so a branch does not read
// bindings the spawning context keeps mutating, such as loop variables.
func freeze(node *Cmd) *Cmd {
	f := &Cmd{action: &groupAction{}, with: map[string]any{}}
	chain := node.scopeChain()
	for i := len(chain) - 1; i >= 0; i-- {
		maps.Copy(f.with, chain[i].with)
	}
	for _, n := range chain {
		if n.hasOutput {
			f.output, f.hasOutput = n.output, true
			break
		}
	}
	return f
}

// Close stops the context and its branches. A node that is running keeps
// running, but its completion is dropped.
func (x *Context) Close() {
	if x.closed.Swap(true) {
		return
	}
	for _, child := range x.Children() {
		child.Close()
	}
	if !x.started.Load() {
		return
	}
	cur := x.current.Load()
	if cur != transit && x.current.CompareAndSwap(cur, nil) {
		x.finish(StatusClosed)
	}
}

func (x *Context) finish(status Status) {
	x.doneOnce.Do(func() {
		for _, o := range x.env.Observers {
			o.OnUpdate(x, status)
		}
		if x.env.Tracker != nil {
			x.env.Tracker.Finished(x)
		}
		close(x.done)
	})
}

// Abort requests the run to abort and closes x.
func (x *Context) Abort(reason string, skipCleanup bool) {
	reason = x.env.filter(reason)
	logger.Error(x.ctx, "Abort", tag.Reason(reason), tag.String("skip-cleanup", fmt.Sprint(skipCleanup)))
	if x.env.Run != nil {
		x.env.Run.Abort(x.ctx, reason, skipCleanup)
	}
	x.Close()
}

// Error records and logs a redacted error message.
func (x *Context) Error(msg string) {
	msg = x.env.filter(msg)
	x.mu.Lock()
	x.errs = append(x.errs, msg)
	x.mu.Unlock()
	logger.Error(x.ctx, msg)
}

// Terminal prints a redacted message for the user.
func (x *Context) Terminal(msg string) {
	msg = x.env.filter(msg)
	logger.Info(x.ctx, msg)
	if x.env.Out == nil {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(msg, "\n"), "\n") {
		fmt.Fprintf(x.env.Out, "[%s] %s\n", x.env.Host.Name(), line)
	}
}

// Populate expands patterns in text as seen from c.
func (x *Context) Populate(c *Cmd, text, input string) (string, []string) {
	return state.Populate(text, &scope{x: x, c: c, input: input})
}

// Expand is Populate without the residual references.
func (x *Context) Expand(c *Cmd, text, input string) string {
	out, _ := x.Populate(c, text, input)
	return out
}

// scope resolves names for one node: special names first, then the node's
// with-bindings along its scope chain, then the context state.
type scope struct {
	x     *Context
	c     *Cmd
	input string
}

const (
	nameInput  = "INPUT"
	nameOutput = "OUTPUT"
	signalPref = "SIGNAL."
)

func (s *scope) Lookup(name string) (any, bool) {
	switch name {
	case nameInput:
		return s.input, true
	case nameOutput:
		for n := s.c.stateParent; n != nil; n = n.stateParent {
			if n.hasOutput {
				return n.output, true
			}
		}
		return nil, false
	}
	if sig, ok := strings.CutPrefix(name, signalPref); ok && s.x.env.Coordinator != nil {
		n, ok := s.x.env.Coordinator.Count(sig)
		return n, ok
	}
	if v, ok := s.c.Lookup(name); ok {
		return v, true
	}
	return s.x.state.Get(name)
}

func (s *scope) Snapshot() map[string]any {
	m := s.x.state.Snapshot()
	chain := s.c.scopeChain()
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].with {
			m[k] = state.Normalize(v)
		}
	}
	m[nameInput] = s.input
	if s.x.env.Coordinator != nil {
		signals := map[string]any{}
		for k, v := range s.x.env.Coordinator.Snapshot() {
			signals[k] = v
		}
		m["SIGNAL"] = signals
	}
	return m
}
