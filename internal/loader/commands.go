package loader

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/dagucloud/herd/internal/engine"
	"github.com/dagucloud/herd/internal/state"
)

const (
	keyThen           = "then"
	keyElse           = "else"
	keyWatch          = "watch"
	keyTimer          = "timer"
	keyWith           = "with"
	keyAsync          = "async"
	keySilent         = "silent"
	keyMiss           = "miss"
	keySkipCleanup    = "skip-cleanup"
	keyIgnoreExitCode = "ignore-exit-code"
)

var optionKeys = []string{
	keyThen, keyElse, keyWatch, keyTimer, keyWith,
	keyAsync, keySilent, keyMiss, keySkipCleanup, keyIgnoreExitCode,
}

func buildCommands(raw any) ([]*engine.Cmd, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		items = []any{raw}
	}
	cmds := make([]*engine.Cmd, 0, len(items))
	for i, item := range items {
		c, err := buildCommand(item)
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i+1, err)
		}
		cmds = append(cmds, c)
	}
	return cmds, nil
}

// buildCommand turns "kind: arg" or a single-kind map with options into a
// node.
func buildCommand(raw any) (*engine.Cmd, error) {
	if s, ok := raw.(string); ok {
		kind, arg, _ := strings.Cut(s, ":")
		return engine.Build(strings.TrimSpace(kind), arg, engine.Flags{})
	}
	m, ok := toMap(raw)
	if !ok {
		return nil, fmt.Errorf("invalid command %v", raw)
	}

	kinds := lo.Without(slices.Sorted(maps.Keys(m)), optionKeys...)
	if len(kinds) != 1 {
		return nil, fmt.Errorf("command must have exactly one kind, got %v", kinds)
	}
	kind := kinds[0]

	flags := engine.Flags{}
	var err error
	if flags.Async, err = toBool(m[keyAsync]); err != nil {
		return nil, fmt.Errorf("%s: %w", keyAsync, err)
	}
	if flags.Miss, err = toBool(m[keyMiss]); err != nil {
		return nil, fmt.Errorf("%s: %w", keyMiss, err)
	}
	if flags.SkipCleanup, err = toBool(m[keySkipCleanup]); err != nil {
		return nil, fmt.Errorf("%s: %w", keySkipCleanup, err)
	}
	if v, ok := m[keyIgnoreExitCode]; ok {
		b, err := toBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", keyIgnoreExitCode, err)
		}
		flags.IgnoreExitCode = &b
	}

	c, err := engine.Build(kind, argString(m[kind]), flags)
	if err != nil {
		return nil, err
	}

	silent, err := toBool(m[keySilent])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", keySilent, err)
	}
	c.SetSilent(silent)

	if with, ok := m[keyWith]; ok {
		bindings, ok := toMap(with)
		if !ok {
			return nil, fmt.Errorf("%s: expected a map", keyWith)
		}
		for name, value := range bindings {
			c.SetWith(name, value)
		}
	}

	then, err := buildCommands(m[keyThen])
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", kind, keyThen, err)
	}
	c.Then(then...)

	elses, err := buildCommands(m[keyElse])
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", kind, keyElse, err)
	}
	if len(elses) > 0 {
		c.OrElse(elses...)
	}

	watch, err := buildCommands(m[keyWatch])
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", kind, keyWatch, err)
	}
	if len(watch) > 0 {
		c.Watch(watch...)
	}

	if raw, ok := m[keyTimer]; ok {
		if err := addTimers(c, raw); err != nil {
			return nil, fmt.Errorf("%s %s: %w", kind, keyTimer, err)
		}
	}
	return c, nil
}

func addTimers(c *engine.Cmd, raw any) error {
	timers, ok := toMap(raw)
	if !ok {
		return fmt.Errorf("expected a map of duration to commands")
	}
	for _, after := range slices.Sorted(maps.Keys(timers)) {
		d, err := engine.ParseDuration(after)
		if err != nil {
			return err
		}
		cmds, err := buildCommands(timers[after])
		if err != nil {
			return err
		}
		c.AddTimer(d, cmds...)
	}
	return nil
}

func argString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return state.Format(state.Normalize(v))
	}
}

func toBool(v any) (bool, error) {
	switch v := v.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(v)
	default:
		return false, fmt.Errorf("expected a boolean, got %v", v)
	}
}

// toMap accepts the map shapes YAML decoders produce.
func toMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}
