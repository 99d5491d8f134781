package state_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/herd/internal/state"
)

func newScope(values map[string]any) state.StateScope {
	s := state.New(nil)
	for k, v := range values {
		s.Set(k, v)
	}
	return state.StateScope{State: s}
}

func TestPopulate(t *testing.T) {
	t.Parallel()

	scope := newScope(map[string]any{
		"name":    "web",
		"idx":     2,
		"key_web": "secret-web",
		"list":    []any{"a", "b"},
		"ratio":   1.5,
	})

	tests := []struct {
		name     string
		input    string
		want     string
		residual []string
	}{
		{name: "Plain", input: "no patterns", want: "no patterns"},
		{name: "Simple", input: "hello ${{name}}", want: "hello web"},
		{name: "Int", input: "n=${{idx}}", want: "n=2"},
		{name: "Float", input: "r=${{ratio}}", want: "r=1.5"},
		{name: "List", input: "${{list}}", want: `["a","b"]`},
		{name: "Default", input: "${{missing:fallback}}", want: "fallback"},
		{name: "EmptyDefault", input: "[${{missing:}}]", want: "[]"},
		{name: "Nested", input: "${{key_${{name}}}}", want: "secret-web"},
		{name: "Computed", input: "${{= .idx + 1}}", want: "3"},
		{name: "ComputedString", input: `${{= .name | ascii_upcase}}`, want: "WEB"},
		{
			name:     "Missing",
			input:    "x ${{nope}} y",
			want:     "x ${{nope}} y",
			residual: []string{"nope"},
		},
		{
			name:     "MissingWithResolvedNeighbour",
			input:    "${{nope}}-${{name}}",
			want:     "${{nope}}-web",
			residual: []string{"nope"},
		},
		{name: "StrayClose", input: "a }} ${{name}}", want: "a }} web"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, residual := state.Populate(tt.input, scope)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.residual, residual)
		})
	}
}

func TestEval(t *testing.T) {
	t.Parallel()

	v, err := state.Eval(".a.b", map[string]any{"a": map[string]any{"b": "c"}})
	require.NoError(t, err)
	assert.Equal(t, "c", v)

	all, err := state.EvalAll(".[]", []any{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, all)

	_, err = state.Eval(".[", nil)
	require.Error(t, err)
}

func TestFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", state.Format(nil))
	assert.Equal(t, "true", state.Format(true))
	assert.Equal(t, "10", state.Format(float64(10)))
	assert.Equal(t, `{"a":1}`, state.Format(map[string]any{"a": 1}))
	assert.Equal(t, "5", state.Format(uint16(5)))
}
