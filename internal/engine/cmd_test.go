package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/herd/internal/engine"
)

func TestCmd_LoopCallbackStaysLast(t *testing.T) {
	t.Parallel()

	for k := range 6 {
		loop := build(t, engine.KindForEach, "i a,b")
		for range k {
			loop.Then(sh(t, "x"))
		}
		if k > 0 {
			loop.PrependThen(sh(t, "first"))
		}
		children := loop.Children()
		require.NotEmpty(t, children)
		assert.Equal(t, engine.KindCallback, children[len(children)-1].Kind(), "k=%d", k)
		assert.True(t, children[len(children)-1].IsControl())

		cp := loop.Copy()
		cpChildren := cp.Children()
		require.Len(t, cpChildren, len(children))
		assert.Equal(t, engine.KindCallback, cpChildren[len(cpChildren)-1].Kind())
	}

	loop := build(t, engine.KindRepeatUntil, "done")
	loop.Then(sh(t, "a")).Then(sh(t, "b"), sh(t, "c"))
	children := loop.Children()
	require.Len(t, children, 4)
	assert.Equal(t, "sh: c", children[2].String())
	assert.Equal(t, engine.KindCallback, children[3].Kind())
}

func TestCmd_NextAndSkip(t *testing.T) {
	t.Parallel()

	a1 := sh(t, "a1")
	a := sh(t, "a").Then(a1)
	b := sh(t, "b")
	root := script(a, b)

	assert.Same(t, a, root.Next())
	assert.Same(t, a1, a.Next())
	assert.Same(t, b, a1.Next())
	assert.Same(t, b, a.Skip())
	assert.Nil(t, b.Next())
	assert.Nil(t, root.Skip())

	e := sh(t, "else")
	r := build(t, engine.KindRegex, "x").Then(sh(t, "hit")).OrElse(e)
	script(r, sh(t, "after"))
	assert.Same(t, e, r.Miss())
	assert.Equal(t, "sh: after", e.Next().String())

	loop := build(t, engine.KindForEach, "i a")
	body := sh(t, "body")
	loop.Then(body)
	tail := sh(t, "tail")
	script(loop, tail)
	callback := loop.Children()[1]
	assert.Same(t, callback, body.Next())
	assert.Same(t, loop, callback.Next())
	assert.Same(t, tail, callback.Skip())
}

func TestCmd_CopyIsolation(t *testing.T) {
	t.Parallel()

	target := sh(t, "target")
	jump := sh(t, "jump").SetSkip(target)
	tpl := script(jump, sh(t, "middle"), target).SetWith("who", "tpl")
	tpl.AddTimer(time.Second, sh(t, "late"))
	tpl.Watch(sh(t, "watch"))

	cp := tpl.Copy()
	assert.Nil(t, cp.Parent())
	require.Len(t, cp.Children(), 3)
	assert.Same(t, cp.Children()[2], cp.Children()[0].Skip())
	assert.NotSame(t, target, cp.Children()[0].Skip())

	cp.SetWith("who", "copy")
	assert.Equal(t, "tpl", tpl.With()["who"])
	assert.Equal(t, "copy", cp.With()["who"])

	require.Len(t, cp.Timers(), 1)
	assert.Equal(t, time.Second, cp.Timers()[0].After)
	assert.Equal(t, "sh: late", cp.Timers()[0].Commands()[0].String())
	require.Len(t, cp.Watchers(), 1)
	assert.Equal(t, "sh: watch", cp.Watchers()[0].String())

	var kinds []string
	cp.Walk(func(c *engine.Cmd) bool {
		kinds = append(kinds, c.String())
		return true
	})
	assert.Contains(t, kinds, "sh: late")
	assert.Contains(t, kinds, "sh: watch")
}

func TestBuild(t *testing.T) {
	t.Parallel()

	_, err := engine.Build("nope", "", engine.Flags{})
	require.Error(t, err)

	_, err = engine.Build(engine.KindSetSignal, "ready", engine.Flags{})
	require.Error(t, err)

	_, err = engine.Build(engine.KindSetSignal, "ready -1", engine.Flags{})
	require.Error(t, err)

	_, err = engine.Build(engine.KindRegex, "(", engine.Flags{})
	require.Error(t, err)

	c, err := engine.Build(engine.KindSetSignal, "ready 3 reset", engine.Flags{})
	require.NoError(t, err)
	assert.Equal(t, "set-signal: ready 3 reset", c.String())

	assert.Contains(t, engine.Kinds(), engine.KindWaitFor)
}

func TestParseHelpers(t *testing.T) {
	t.Parallel()

	d, err := engine.ParseDuration("250")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	d, err = engine.ParseDuration("2s")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d)

	_, err = engine.ParseDuration("-5")
	require.Error(t, err)

	n, err := engine.ParseSize("10KB")
	require.NoError(t, err)
	assert.Equal(t, int64(10240), n)

	n, err = engine.ParseSize("3m")
	require.NoError(t, err)
	assert.Equal(t, int64(3<<20), n)

	_, err = engine.ParseSize("lots")
	require.Error(t, err)

	assert.Equal(t, []string{"a", "b"}, engine.SplitItems("a, b"))
	assert.Equal(t, []string{"x", "y z"}, engine.SplitItems("x\ny z\n"))
	assert.Equal(t, []string{"1", "two"}, engine.SplitItems(`[1, "two"]`))
	assert.Nil(t, engine.SplitItems("  "))
}
