package engine

import (
	"errors"
	"strings"

	"github.com/dagucloud/herd/internal/coordinator"
)

// signalAction decrements a signal.
type signalAction struct {
	name string
}

func newSignalAction(arg string, _ Flags) (Action, error) {
	if arg == "" {
		return nil, errors.New("missing signal name")
	}
	return &signalAction{name: arg}, nil
}

func (a *signalAction) Kind() string { return KindSignal }
func (a *signalAction) Arg() string  { return a.name }
func (a *signalAction) Copy() Action { return &signalAction{name: a.name} }

func (a *signalAction) Run(x *Context, c *Cmd, input string) {
	x.env.Coordinator.Signal(x.ctx, x.Expand(c, a.name, input))
	x.Next(c, input)
}

// setSignalAction (re)initializes a signal: "name count [reset]".
type setSignalAction struct {
	name  string
	count string
	reset bool
}

func newSetSignalAction(arg string, _ Flags) (Action, error) {
	fields := splitArgs(arg)
	if len(fields) < 2 {
		return nil, errors.New("expected: <name> <count> [reset]")
	}
	if !strings.Contains(fields[1], "${{") {
		if _, err := coordinator.ParseCount(fields[1]); err != nil {
			return nil, err
		}
	}
	a := &setSignalAction{name: fields[0], count: fields[1]}
	if len(fields) > 2 {
		a.reset = fields[2] == "reset" || fields[2] == "true"
	}
	return a, nil
}

func (a *setSignalAction) Kind() string { return KindSetSignal }

func (a *setSignalAction) Arg() string {
	if a.reset {
		return a.name + " " + a.count + " reset"
	}
	return a.name + " " + a.count
}

func (a *setSignalAction) Copy() Action {
	cp := *a
	return &cp
}

func (a *setSignalAction) Run(x *Context, c *Cmd, input string) {
	x.env.Coordinator.SetSignal(x.ctx, x.Expand(c, a.name, input), x.Expand(c, a.count, input), a.reset)
	x.Next(c, input)
}

// waitForAction parks the context until a signal is released.
type waitForAction struct {
	name string
}

func newWaitForAction(arg string, _ Flags) (Action, error) {
	if arg == "" {
		return nil, errors.New("missing signal name")
	}
	return &waitForAction{name: arg}, nil
}

func (a *waitForAction) Kind() string { return KindWaitFor }
func (a *waitForAction) Arg() string  { return a.name }
func (a *waitForAction) Copy() Action { return &waitForAction{name: a.name} }

func (a *waitForAction) Run(x *Context, c *Cmd, input string) {
	x.env.Coordinator.WaitFor(x.ctx, x.Expand(c, a.name, input), func() {
		x.Next(c, input)
	})
}
