// Package engine holds the command graph and the contexts that walk it.
package engine

import (
	"maps"
	"strings"
	"time"

	"github.com/dagucloud/herd/internal/dispatch"
	"github.com/dagucloud/herd/internal/state"
)

// Cmd is one node of a command graph. A graph is built once as a template
// and deep-copied for every execution; the copy is owned by a single Context.
type Cmd struct {
	action Action

	then     []*Cmd
	elses    []*Cmd
	watchers []*Cmd
	timers   []*Timer
	skip     *Cmd
	with     map[string]any
	silent   bool

	// parent owns this node through its then/else/watchers/timers.
	parent *Cmd
	// stateParent is the scope link. It equals parent for graph children
	// and is rebound to the invoking node when a script is called.
	stateParent *Cmd

	// loop nodes keep their hidden callback as the last then child
	callback *Cmd

	output    string
	hasOutput bool
	running   []*dispatch.Timer
}

// Timer is a deadline attached to a node. If the node is still active when
// the deadline passes, the timer's commands run as an asynchronous branch.
type Timer struct {
	After time.Duration
	root  *Cmd
}

// Commands returns the timer's continuation.
func (t *Timer) Commands() []*Cmd {
	return t.root.then
}

// NewCmd creates a node running action.
func NewCmd(action Action) *Cmd {
	c := &Cmd{action: action}
	if l, ok := action.(looper); ok && l.loop() {
		c.callback = &Cmd{action: &callbackAction{}, parent: c, stateParent: c}
		c.then = []*Cmd{c.callback}
	}
	return c
}

// Action returns the node behaviour.
func (c *Cmd) Action() Action { return c.action }

// Kind returns the node kind.
func (c *Cmd) Kind() string { return c.action.Kind() }

// Arg returns the node argument as written.
func (c *Cmd) Arg() string { return c.action.Arg() }

func (c *Cmd) String() string {
	if arg := c.Arg(); arg != "" {
		return c.Kind() + ": " + arg
	}
	return c.Kind()
}

// Parent returns the owning node.
func (c *Cmd) Parent() *Cmd { return c.parent }

// Children returns the then list. For loop nodes the last entry is the
// hidden callback.
func (c *Cmd) Children() []*Cmd { return c.then }

// Else returns the else list.
func (c *Cmd) Else() []*Cmd { return c.elses }

// Watchers returns the watcher branches.
func (c *Cmd) Watchers() []*Cmd {
	out := make([]*Cmd, 0, len(c.watchers))
	for _, w := range c.watchers {
		out = append(out, w.then...)
	}
	return out
}

// Timers returns the node timers.
func (c *Cmd) Timers() []*Timer { return c.timers }

// Output returns the recorded output.
func (c *Cmd) Output() (string, bool) { return c.output, c.hasOutput }

// With returns the node's local bindings.
func (c *Cmd) With() map[string]any { return c.with }

// IsLoop reports whether c is a loop node.
func (c *Cmd) IsLoop() bool { return c.callback != nil }

// IsControl reports whether c only redirects control flow.
func (c *Cmd) IsControl() bool {
	_, ok := c.action.(controller)
	return ok
}

// Silent reports whether the node's output is hidden from the terminal.
func (c *Cmd) Silent() bool { return c.silent }

// SetSilent hides the node's output.
func (c *Cmd) SetSilent(silent bool) *Cmd {
	c.silent = silent
	return c
}

// Then appends children to the then list. On loop nodes they are inserted
// before the hidden callback.
func (c *Cmd) Then(children ...*Cmd) *Cmd {
	for _, child := range children {
		c.adopt(child)
	}
	if c.callback != nil {
		body := c.then[:len(c.then)-1]
		c.then = append(append(body[:len(body):len(body)], children...), c.callback)
		return c
	}
	c.then = append(c.then, children...)
	return c
}

// PrependThen inserts child as the first then child.
func (c *Cmd) PrependThen(child *Cmd) *Cmd {
	c.adopt(child)
	c.then = append([]*Cmd{child}, c.then...)
	return c
}

// OrElse appends children to the else list.
func (c *Cmd) OrElse(children ...*Cmd) *Cmd {
	for _, child := range children {
		c.adopt(child)
	}
	c.elses = append(c.elses, children...)
	return c
}

// Watch attaches a watcher branch made of children.
func (c *Cmd) Watch(children ...*Cmd) *Cmd {
	g := NewCmd(&groupAction{})
	g.Then(children...)
	c.adopt(g)
	c.watchers = append(c.watchers, g)
	return c
}

// AddTimer attaches a deadline with its continuation.
func (c *Cmd) AddTimer(after time.Duration, children ...*Cmd) *Cmd {
	g := NewCmd(&groupAction{})
	g.Then(children...)
	c.adopt(g)
	c.timers = append(c.timers, &Timer{After: after, root: g})
	return c
}

// SetSkip sets the explicit skip target.
func (c *Cmd) SetSkip(target *Cmd) *Cmd {
	c.skip = target
	return c
}

// SetWith binds a local value, overriding outer scopes for this subtree.
func (c *Cmd) SetWith(name string, value any) *Cmd {
	if c.with == nil {
		c.with = make(map[string]any)
	}
	c.with[name] = value
	return c
}

// Bind attaches c to a parent and scope owner. Used when a copy is
// invoked from another node.
func (c *Cmd) Bind(parent, stateParent *Cmd) {
	c.parent = parent
	c.stateParent = stateParent
}

func (c *Cmd) adopt(child *Cmd) {
	child.parent = c
	child.stateParent = c
}

// Next returns the node to run after c succeeds: the first then child,
// otherwise Skip.
func (c *Cmd) Next() *Cmd {
	if r, ok := c.action.(redirector); ok {
		return r.next(c)
	}
	if len(c.then) > 0 {
		return c.then[0]
	}
	return c.Skip()
}

// Skip returns the node to continue at when c's subtree is bypassed or
// finished: the explicit skip target, the next sibling, or the parent's
// Skip. It returns nil at the end of the graph.
func (c *Cmd) Skip() *Cmd {
	if r, ok := c.action.(redirector); ok {
		if target, ok := r.skip(c); ok {
			return target
		}
	}
	if c.skip != nil {
		return c.skip
	}
	if c.parent == nil {
		return nil
	}
	if sib := sibling(c.parent.then, c); sib != nil {
		return sib
	}
	if sib := sibling(c.parent.elses, c); sib != nil {
		return sib
	}
	return c.parent.Skip()
}

// Miss returns the node to run when c does not match: the first else
// child, otherwise Skip.
func (c *Cmd) Miss() *Cmd {
	if len(c.elses) > 0 {
		return c.elses[0]
	}
	return c.Skip()
}

func sibling(list []*Cmd, c *Cmd) *Cmd {
	for i, n := range list {
		if n == c {
			if i+1 < len(list) {
				return list[i+1]
			}
			return nil
		}
	}
	return nil
}

// Owns reports whether n is c or lies in c's subtree.
func (c *Cmd) Owns(n *Cmd) bool {
	for cur := n; cur != nil; cur = cur.parent {
		if cur == c {
			return true
		}
	}
	return false
}

// Walk visits c and every node it owns, depth first. Returning false from
// fn prunes the subtree.
func (c *Cmd) Walk(fn func(*Cmd) bool) {
	if !fn(c) {
		return
	}
	for _, list := range [][]*Cmd{c.then, c.elses, c.watchers} {
		for _, child := range list {
			child.Walk(fn)
		}
	}
	for _, t := range c.timers {
		t.root.Walk(fn)
	}
}

// Copy returns a deep copy of c with no runtime state and no parent.
// Child order, with-bindings and skip targets inside the subtree are
// preserved.
func (c *Cmd) Copy() *Cmd {
	mapping := make(map[*Cmd]*Cmd)
	cp := c.copyInto(mapping)
	cp.Walk(func(n *Cmd) bool {
		if n.skip != nil {
			if target, ok := mapping[n.skip]; ok {
				n.skip = target
			} else {
				n.skip = nil
			}
		}
		return true
	})
	return cp
}

func (c *Cmd) copyInto(mapping map[*Cmd]*Cmd) *Cmd {
	cp := NewCmd(c.action.Copy())
	mapping[c] = cp
	cp.skip = c.skip
	cp.silent = c.silent
	cp.with = maps.Clone(c.with)
	for _, child := range c.then {
		if child == c.callback {
			continue
		}
		cp.Then(child.copyInto(mapping))
	}
	for _, child := range c.elses {
		cp.OrElse(child.copyInto(mapping))
	}
	for _, w := range c.watchers {
		g := w.copyInto(mapping)
		cp.adopt(g)
		cp.watchers = append(cp.watchers, g)
	}
	for _, t := range c.timers {
		g := t.root.copyInto(mapping)
		cp.adopt(g)
		cp.timers = append(cp.timers, &Timer{After: t.After, root: g})
	}
	return cp
}

// Lookup resolves name in the with-bindings of c and its scope chain.
func (c *Cmd) Lookup(name string) (any, bool) {
	for n := c; n != nil; n = n.stateParent {
		if v, ok := n.with[name]; ok {
			return v, true
		}
		if head, rest, ok := strings.Cut(name, "."); ok {
			if v, ok := n.with[head]; ok {
				if v, ok := state.Navigate(v, rest); ok {
					return v, true
				}
			}
		}
	}
	return nil, false
}

// scopeChain returns c and its state parents, nearest first.
func (c *Cmd) scopeChain() []*Cmd {
	var out []*Cmd
	for n := c; n != nil; n = n.stateParent {
		out = append(out, n)
	}
	return out
}
