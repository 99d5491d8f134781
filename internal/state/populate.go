package state

import (
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
)

const (
	openMark  = "${{"
	closeMark = "}}"
	// unresolved references are parked behind this marker while the
	// remaining patterns are expanded, then restored.
	parkMark = "\x00herd:"
)

// Scope resolves names during population.
type Scope interface {
	Lookup(name string) (any, bool)
	Snapshot() map[string]any
}

// Populate replaces every ${{name}}, ${{name:default}} and ${{= expr}}
// pattern in text. Patterns nest and are expanded innermost first. It
// returns the resulting text and the names that could not be resolved.
func Populate(text string, scope Scope) (string, []string) {
	var (
		parked   []string
		residual []string
	)
	for {
		end := strings.Index(text, closeMark)
		if end < 0 {
			break
		}
		start := strings.LastIndex(text[:end], openMark)
		if start < 0 {
			// stray "}}" with no opener: park it so the scan moves on
			parked = append(parked, closeMark)
			text = text[:end] + park(len(parked)-1) + text[end+len(closeMark):]
			continue
		}
		inner := text[start+len(openMark) : end]
		value, ok := resolve(strings.TrimSpace(inner), scope)
		if !ok {
			residual = append(residual, refName(inner))
			parked = append(parked, text[start:end+len(closeMark)])
			value = park(len(parked) - 1)
		}
		text = text[:start] + value + text[end+len(closeMark):]
	}
	for i := len(parked) - 1; i >= 0; i-- {
		text = strings.ReplaceAll(text, park(i), parked[i])
	}
	return text, residual
}

// Residual lists unresolved references without keeping the result.
func Residual(text string, scope Scope) []string {
	_, residual := Populate(text, scope)
	return residual
}

func park(i int) string {
	return fmt.Sprintf("%s%d\x00", parkMark, i)
}

func refName(inner string) string {
	inner = strings.TrimSpace(inner)
	if strings.HasPrefix(inner, "=") {
		return inner
	}
	name, _, _ := strings.Cut(inner, ":")
	return name
}

func resolve(inner string, scope Scope) (string, bool) {
	if expr, ok := strings.CutPrefix(inner, "="); ok {
		v, err := Eval(strings.TrimSpace(expr), scope.Snapshot())
		if err != nil {
			return "", false
		}
		return Format(v), true
	}
	name, def, hasDefault := strings.Cut(inner, ":")
	name = strings.TrimSpace(name)
	if v, ok := scope.Lookup(name); ok {
		return Format(v), true
	}
	if hasDefault {
		return def, true
	}
	return "", false
}

// Eval runs a jq expression against input and returns its first result.
func Eval(expr string, input any) (any, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression %q: %w", expr, err)
	}
	iter := query.Run(Normalize(input))
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, ok := v.(error); ok {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expr, err)
	}
	return v, nil
}

// EvalAll runs a jq expression and collects every result.
func EvalAll(expr string, input any) ([]any, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression %q: %w", expr, err)
	}
	var out []any
	iter := query.Run(Normalize(input))
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, fmt.Errorf("failed to evaluate expression %q: %w", expr, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// StateScope adapts a State to Scope.
type StateScope struct {
	*State
}

// Lookup implements Scope.
func (s StateScope) Lookup(name string) (any, bool) {
	return s.Get(name)
}
