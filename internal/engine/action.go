package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Action is the behaviour of a node. Run must eventually call exactly one of
// x.Next, x.Miss or x.Abort, directly or from an asynchronous continuation.
type Action interface {
	Kind() string
	Arg() string
	Run(x *Context, c *Cmd, input string)
	// Copy returns a clone with no runtime state.
	Copy() Action
}

// PostRunner is implemented by actions that need a hook after they finish
// and before the next node is resolved.
type PostRunner interface {
	PostRun(x *Context, c *Cmd)
}

// streamer actions hand their output lines to watchers instead of starting
// them once with the input.
type streamer interface {
	streams() bool
}

// looper actions get a hidden callback as their last then child.
type looper interface {
	loop() bool
}

// controller marks nodes that only redirect control flow.
type controller interface {
	control()
}

// redirector actions override next-node selection.
type redirector interface {
	next(c *Cmd) *Cmd
	skip(c *Cmd) (*Cmd, bool)
}

// Flags are the per-node options that accompany a kind and its argument.
type Flags struct {
	Async          bool
	Miss           bool
	SkipCleanup    bool
	IgnoreExitCode *bool
}

// Factory builds an action from its argument.
type Factory func(arg string, flags Flags) (Action, error)

var registry = map[string]Factory{}

// Register adds a node kind.
func Register(kind string, f Factory) {
	registry[kind] = f
}

// Kinds lists the registered node kinds.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build creates a node of kind with arg.
func Build(kind, arg string, flags Flags) (*Cmd, error) {
	f, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown command kind %q", kind)
	}
	a, err := f(strings.TrimSpace(arg), flags)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	return NewCmd(a), nil
}

// MustBuild is Build for tests and static graphs.
func MustBuild(kind, arg string) *Cmd {
	c, err := Build(kind, arg, Flags{})
	if err != nil {
		panic(err)
	}
	return c
}

// splitArgs splits on whitespace, keeping double-quoted words together.
func splitArgs(s string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote bool
		word  bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			quote = !quote
			word = true
		case !quote && (r == ' ' || r == '\t'):
			if word {
				out = append(out, cur.String())
				cur.Reset()
				word = false
			}
		default:
			cur.WriteRune(r)
			word = true
		}
	}
	if word {
		out = append(out, cur.String())
	}
	return out
}
