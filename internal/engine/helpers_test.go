package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dagucloud/herd/internal/coordinator"
	"github.com/dagucloud/herd/internal/core"
	"github.com/dagucloud/herd/internal/dispatch"
	"github.com/dagucloud/herd/internal/engine"
	"github.com/dagucloud/herd/internal/shell/shelltest"
	"github.com/dagucloud/herd/internal/state"
)

type abortCall struct {
	reason      string
	skipCleanup bool
}

type fakeRunner struct {
	mu        sync.Mutex
	aborts    []abortCall
	downloads []string
	deletes   []string
}

func (r *fakeRunner) Abort(_ context.Context, reason string, skipCleanup bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborts = append(r.aborts, abortCall{reason: reason, skipCleanup: skipCleanup})
}

func (r *fakeRunner) IsAborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.aborts) > 0
}

func (r *fakeRunner) AddPendingDownload(host, path, destination string, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloads = append(r.downloads, host+":"+path+"->"+destination)
}

func (r *fakeRunner) AddPendingDelete(host, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes = append(r.deletes, host+":"+path)
}

func (r *fakeRunner) Aborts() []abortCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]abortCall(nil), r.aborts...)
}

type scripts map[string]*engine.Cmd

func (s scripts) Script(name string) (*engine.Cmd, bool) {
	c, ok := s[name]
	return c, ok
}

type fixture struct {
	env    *engine.Env
	runner *fakeRunner
	sess   *shelltest.Session
	run    *state.State
}

func newFixture(t *testing.T, handler shelltest.Handler) *fixture {
	t.Helper()
	d := dispatch.New(context.Background(), dispatch.Config{Workers: 8})
	t.Cleanup(func() { _ = d.Shutdown(context.Background(), time.Second) })

	coord := coordinator.New(coordinator.WithPost(func(resume func()) {
		_ = d.Callback("resume", func(context.Context) { resume() })
	}))
	return newFixtureWith(t, d, coord, handler)
}

func newFixtureWith(t *testing.T, d *dispatch.Dispatcher, coord *coordinator.Coordinator, handler shelltest.Handler) *fixture {
	t.Helper()
	host := core.Host{Alias: "web1", Kind: core.HostLocal}
	sess := shelltest.New(host, handler)
	require.NoError(t, sess.Connect(context.Background()))

	run := state.New(nil)
	runner := &fakeRunner{}
	return &fixture{
		env: &engine.Env{
			Ctx:         context.Background(),
			Run:         runner,
			Coordinator: coord,
			Dispatcher:  d,
			Session:     sess,
			Host:        host,
			Role:        "web",
			State:       run.Child(state.LevelHost),
		},
		runner: runner,
		sess:   sess,
		run:    run,
	}
}

// script wraps cmds in a root node like the loader does.
func script(cmds ...*engine.Cmd) *engine.Cmd {
	return engine.MustBuild(engine.KindGroup, "").Then(cmds...)
}

func build(t *testing.T, kind, arg string, flags ...engine.Flags) *engine.Cmd {
	t.Helper()
	var f engine.Flags
	if len(flags) > 0 {
		f = flags[0]
	}
	c, err := engine.Build(kind, arg, f)
	require.NoError(t, err)
	return c
}

func sh(t *testing.T, command string) *engine.Cmd {
	return build(t, engine.KindShell, command)
}

func runToEnd(t *testing.T, f *fixture, root *engine.Cmd) *engine.Context {
	t.Helper()
	x := engine.NewContext(f.env, "test", root.Copy())
	require.NoError(t, x.Start(""))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, x.Wait(ctx))
	return x
}
