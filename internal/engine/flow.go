package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dagucloud/herd/internal/cmn/logger"
	"github.com/dagucloud/herd/internal/cmn/logger/tag"
	"github.com/dagucloud/herd/internal/core"
	"github.com/dagucloud/herd/internal/state"
)

// groupAction passes its input through. It roots watcher and timer branches.
type groupAction struct{}

func (*groupAction) Kind() string { return KindGroup }
func (*groupAction) Arg() string  { return "" }
func (*groupAction) Copy() Action { return &groupAction{} }

func (*groupAction) Run(x *Context, c *Cmd, input string) {
	x.Next(c, input)
}

// callbackAction closes a loop body and hands control back to the loop head.
type callbackAction struct{}

func (*callbackAction) Kind() string { return KindCallback }
func (*callbackAction) Arg() string  { return "" }
func (*callbackAction) Copy() Action { return &callbackAction{} }
func (*callbackAction) control()     {}

func (*callbackAction) Run(x *Context, c *Cmd, input string) {
	x.Next(c, input)
}

func (*callbackAction) next(c *Cmd) *Cmd { return c.parent }

func (*callbackAction) skip(c *Cmd) (*Cmd, bool) {
	if c.parent == nil {
		return nil, true
	}
	return c.parent.Skip(), true
}

// forEachAction runs its body once per item, binding the item to a name.
type forEachAction struct {
	name  string
	items string

	active bool
	list   []string
	index  int
	input  string
}

func newForEachAction(arg string, _ Flags) (Action, error) {
	name, items, _ := strings.Cut(arg, " ")
	if name == "" {
		return nil, errors.New("missing loop variable")
	}
	return &forEachAction{name: name, items: strings.TrimSpace(items)}, nil
}

func (a *forEachAction) Kind() string { return KindForEach }

func (a *forEachAction) Arg() string {
	return strings.TrimSpace(a.name + " " + a.items)
}

func (a *forEachAction) Copy() Action { return &forEachAction{name: a.name, items: a.items} }
func (a *forEachAction) loop() bool   { return true }

func (a *forEachAction) Run(x *Context, c *Cmd, input string) {
	if !a.active {
		src := input
		if a.items != "" {
			src = x.Expand(c, a.items, input)
		}
		a.active = true
		a.list = SplitItems(src)
		a.index = 0
		a.input = input
	} else {
		a.index++
	}
	if a.index >= len(a.list) {
		a.active = false
		x.Leave(c, a.input)
		return
	}
	item := a.list[a.index]
	c.SetWith(a.name, item)
	c.SetWith(a.name+"_INDEX", a.index)
	x.Next(c, item)
}

// SplitItems splits a JSON array, a newline list or a comma list.
func SplitItems(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if strings.HasPrefix(s, "[") {
		var arr []any
		if err := json.Unmarshal([]byte(s), &arr); err == nil {
			out := make([]string, 0, len(arr))
			for _, v := range arr {
				out = append(out, state.Format(v))
			}
			return out
		}
	}
	sep := ","
	if strings.Contains(s, "\n") {
		sep = "\n"
	}
	var out []string
	for _, item := range strings.Split(s, sep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// repeatUntilAction repeats its body until a signal is released.
type repeatUntilAction struct {
	signal string

	active bool
	round  int
	input  string
}

func newRepeatUntilAction(arg string, _ Flags) (Action, error) {
	if arg == "" {
		return nil, errors.New("missing signal name")
	}
	return &repeatUntilAction{signal: arg}, nil
}

func (a *repeatUntilAction) Kind() string { return KindRepeatUntil }
func (a *repeatUntilAction) Arg() string  { return a.signal }
func (a *repeatUntilAction) Copy() Action { return &repeatUntilAction{signal: a.signal} }
func (a *repeatUntilAction) loop() bool   { return true }

func (a *repeatUntilAction) Run(x *Context, c *Cmd, input string) {
	if !a.active {
		a.active = true
		a.round = 0
		a.input = input
	} else {
		a.round++
	}
	name := x.Expand(c, a.signal, input)
	if x.env.Coordinator == nil || x.env.Coordinator.Released(name) {
		a.active = false
		x.Leave(c, a.input)
		return
	}
	c.SetWith("ROUND", a.round)
	x.Next(c, input)
}

// scriptAction invokes a named script. Synchronous calls run a fresh copy
// as the first then child; asynchronous calls run it as a branch.
type scriptAction struct {
	name  string
	async bool

	injected *Cmd
}

func newScriptAction(arg string, flags Flags) (Action, error) {
	if arg == "" {
		return nil, errors.New("missing script name")
	}
	return &scriptAction{name: arg, async: flags.Async}, nil
}

func (a *scriptAction) Kind() string { return KindScript }
func (a *scriptAction) Arg() string  { return a.name }
func (a *scriptAction) Copy() Action { return &scriptAction{name: a.name, async: a.async} }

// Async reports whether the script runs as a branch.
func (a *scriptAction) Async() bool { return a.async }

func (a *scriptAction) Run(x *Context, c *Cmd, input string) {
	name := x.Expand(c, a.name, input)
	var (
		tpl *Cmd
		ok  bool
	)
	if x.env.Scripts != nil {
		tpl, ok = x.env.Scripts.Script(name)
	}
	if !ok {
		x.Abort(fmt.Sprintf("%v: %s", core.ErrScriptNotFound, name), false)
		return
	}
	cp := tpl.Copy()
	if a.async {
		x.spawn(cp, c, x.state.Child(state.LevelScript), input)
		x.Next(c, input)
		return
	}
	if a.injected != nil && len(c.then) > 0 && c.then[0] == a.injected {
		c.then = c.then[1:]
	}
	c.PrependThen(cp)
	a.injected = cp
	x.Next(c, input)
}

// sleepAction resumes after a delay without holding a worker.
type sleepAction struct {
	delay string
}

func newSleepAction(arg string, _ Flags) (Action, error) {
	if arg == "" {
		return nil, errors.New("missing duration")
	}
	return &sleepAction{delay: arg}, nil
}

func (a *sleepAction) Kind() string { return KindSleep }
func (a *sleepAction) Arg() string  { return a.delay }
func (a *sleepAction) Copy() Action { return &sleepAction{delay: a.delay} }

func (a *sleepAction) Run(x *Context, c *Cmd, input string) {
	d, err := ParseDuration(x.Expand(c, a.delay, input))
	if err != nil {
		x.Error(fmt.Sprintf("invalid sleep %q: %v", a.delay, err))
		x.Next(c, input)
		return
	}
	if _, err := x.env.Dispatcher.Schedule(x.id+"/sleep", d, func(_ context.Context) {
		x.Next(c, input)
	}); err != nil {
		logger.Warn(x.ctx, "Failed to schedule sleep", tag.Error(err))
		x.Close()
	}
}

// ParseDuration accepts integer milliseconds or a Go duration.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

// abortAction aborts the run.
type abortAction struct {
	message     string
	skipCleanup bool
}

func newAbortAction(arg string, flags Flags) (Action, error) {
	return &abortAction{message: arg, skipCleanup: flags.SkipCleanup}, nil
}

func (a *abortAction) Kind() string { return KindAbort }
func (a *abortAction) Arg() string  { return a.message }
func (a *abortAction) Copy() Action {
	return &abortAction{message: a.message, skipCleanup: a.skipCleanup}
}

func (a *abortAction) Run(x *Context, c *Cmd, input string) {
	msg := x.Expand(c, a.message, input)
	if msg == "" {
		msg = "abort requested"
	}
	x.Abort(msg, a.skipCleanup)
}
