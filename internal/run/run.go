package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dagucloud/herd/internal/cmn/logger"
	"github.com/dagucloud/herd/internal/cmn/logger/tag"
	"github.com/dagucloud/herd/internal/cmn/masking"
	"github.com/dagucloud/herd/internal/coordinator"
	"github.com/dagucloud/herd/internal/core"
	"github.com/dagucloud/herd/internal/dispatch"
	"github.com/dagucloud/herd/internal/engine"
	"github.com/dagucloud/herd/internal/shell"
	"github.com/dagucloud/herd/internal/state"
)

// ErrJoinTimeout is returned by Join when the run is still going.
var ErrJoinTimeout = errors.New("run did not finish in time")

var _ engine.Runner = (*Run)(nil)

// StageReport summarizes one executed stage.
type StageReport struct {
	Stage    core.Stage
	Contexts int
	Errors   int
	Duration time.Duration
}

// Result summarizes a finished run.
type Result struct {
	ID          string
	Name        string
	Aborted     bool
	Reason      string
	SkipCleanup bool
	Stages      []StageReport
}

// Run executes a plan once. It owns the coordinator, the dispatcher and
// every host session of the execution.
type Run struct {
	id   string
	plan *Plan
	opts Options

	masker     *masking.Masker
	coord      *coordinator.Coordinator
	dispatcher *dispatch.Dispatcher
	state      *state.State
	sessions   map[string]shell.Session
	hostStates map[string]*state.State
	pending    *pending

	stage       atomic.Int32
	aborted     atomic.Bool
	skipCleanup atomic.Bool
	started     atomic.Bool

	mu       sync.Mutex
	reason   string
	contexts []*engine.Context
	tracker  *tracker
	reports  []StageReport

	done chan struct{}
}

// New prepares a run of plan. Sessions are created but not connected.
func New(plan *Plan, opts Options) (*Run, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	masker := masking.NewMasker(opts.Secrets...)
	dispatcher := dispatch.New(context.Background(), opts.Dispatch)
	r := &Run{
		id:         uuid.NewString(),
		plan:       plan,
		opts:       opts,
		masker:     masker,
		dispatcher: dispatcher,
		state:      state.New(masker),
		sessions:   make(map[string]shell.Session),
		hostStates: make(map[string]*state.State),
		pending:    newPending(),
		tracker:    newTracker(),
		done:       make(chan struct{}),
	}
	r.coord = coordinator.New(coordinator.WithPost(r.post))
	for k, v := range plan.States {
		r.state.Set(k, v)
	}

	factory := opts.sessions()
	for _, alias := range plan.HostAliases() {
		host := plan.Hosts[alias]
		host.Alias = alias
		sess, err := factory(host)
		if err != nil {
			_ = dispatcher.Shutdown(context.Background(), 0)
			return nil, fmt.Errorf("host %s: %w", alias, err)
		}
		r.sessions[alias] = sess
		r.hostStates[alias] = r.state.Child(state.LevelHost)
	}
	return r, nil
}

func (r *Run) ID() string                            { return r.id }
func (r *Run) Name() string                          { return r.plan.Name }
func (r *Run) Coordinator() *coordinator.Coordinator { return r.coord }
func (r *Run) State() *state.State                   { return r.state }
func (r *Run) Secrets() *masking.Masker              { return r.masker }
func (r *Run) Done() <-chan struct{}                 { return r.done }
func (r *Run) Pools() []*dispatch.Pool               { return r.dispatcher.Pools() }
func (r *Run) Stage() core.Stage                     { return core.Stage(r.stage.Load()) }
func (r *Run) IsAborted() bool                       { return r.aborted.Load() }

// Contexts returns the contexts alive in the current stage.
func (r *Run) Contexts() []*engine.Context {
	r.mu.Lock()
	t := r.tracker
	r.mu.Unlock()
	return t.Contexts()
}

// Script returns the template of a named script.
func (r *Run) Script(name string) (*engine.Cmd, bool) {
	c, ok := r.plan.Scripts[name]
	return c, ok
}

// Run executes every stage in order and blocks until the run is complete.
// It returns an error wrapping core.ErrAborted when the run aborted.
func (r *Run) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("run already started")
	}
	defer close(r.done)

	ctx = logger.WithValues(ctx, tag.RunID(r.id))
	for name, count := range r.plan.Signals {
		r.coord.Init(ctx, name, count, false)
	}

	logger.Info(ctx, "Run started", tag.String("name", r.plan.Name), tag.Count(len(r.sessions)))
	for _, stage := range core.Stages {
		if r.skipped(stage) {
			logger.Debug(ctx, "Stage skipped", tag.Stage(stage.String()))
			continue
		}
		r.stage.Store(int32(stage))
		r.runStage(ctx, stage)
	}
	r.stage.Store(int32(core.StageDone))
	r.shutdown(ctx)

	res := r.Result()
	if res.Aborted {
		logger.Error(ctx, "Run aborted", tag.Reason(res.Reason))
		return fmt.Errorf("%w: %s", core.ErrAborted, res.Reason)
	}
	logger.Info(ctx, "Run finished")
	return nil
}

// skipped reports whether stage is bypassed. An abort still reaches
// Cleanup unless the abort asked to skip it.
func (r *Run) skipped(stage core.Stage) bool {
	if r.plan.SkipStages.Has(stage) {
		return true
	}
	if !r.IsAborted() {
		return false
	}
	return stage != core.StageCleanup || r.skipCleanup.Load()
}

// post hands coordinator resumptions to the callback pool. Once the pool
// is closed they run inline so no waiter is lost.
func (r *Run) post(resume func()) {
	if err := r.dispatcher.Callback("resume", func(context.Context) { resume() }); err != nil {
		resume()
	}
}

func (r *Run) runStage(ctx context.Context, stage core.Stage) {
	ctx = logger.WithValues(ctx, tag.Stage(stage.String()))
	started := time.Now()
	t := newTracker()
	r.mu.Lock()
	r.tracker = t
	r.contexts = nil
	r.mu.Unlock()

	logger.Info(ctx, "Stage started")
	if stage == core.StagePreSetup {
		r.connect(ctx)
	} else {
		for _, x := range r.build(ctx, stage, t) {
			r.mu.Lock()
			r.contexts = append(r.contexts, x)
			r.mu.Unlock()
			if r.IsAborted() && stage != core.StageCleanup {
				x.Close()
			}
			if err := x.Start(""); err != nil {
				logger.Warn(ctx, "Failed to start context", tag.Context(x.ID()), tag.Error(err))
			}
		}
		if err := t.wait(ctx); err != nil {
			logger.Warn(ctx, "Stage interrupted", tag.Error(err))
			r.Abort(ctx, err.Error(), true)
		}
	}
	r.flush(ctx)

	total, errs := t.counts()
	report := StageReport{Stage: stage, Contexts: total, Errors: errs, Duration: time.Since(started)}
	r.mu.Lock()
	r.reports = append(r.reports, report)
	r.mu.Unlock()
	logger.Info(ctx, "Stage finished", tag.Count(total), tag.Duration(report.Duration))
}

// connect opens every session concurrently. Any failure aborts the run
// but leaves Cleanup to the hosts that did connect.
func (r *Run) connect(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.opts.Dispatch.Workers, 1))
	for alias, sess := range r.sessions {
		g.Go(func() error {
			if err := sess.Connect(gctx); err != nil {
				r.Abort(ctx, fmt.Sprintf("connect %s: %v", alias, err), false)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// build creates the stage contexts: one per role and host chaining the
// role's scripts for Setup and Cleanup, one per role, host and script for
// Run.
func (r *Run) build(ctx context.Context, stage core.Stage, t *tracker) []*engine.Context {
	var out []*engine.Context
	for _, role := range r.plan.Roles {
		refs := role.Scripts(stage)
		if len(refs) == 0 {
			continue
		}
		for _, alias := range role.Hosts {
			sess := r.sessions[alias]
			if stage == core.StageCleanup && !sess.IsOpen() {
				logger.Warn(ctx, "Skipping cleanup on disconnected host", tag.Host(alias))
				continue
			}
			env := r.env(ctx, stage, role.Name, alias, t)
			if stage == core.StageRun {
				for _, ref := range refs {
					out = append(out, engine.NewContext(env, role.Name+"/"+ref.Name, scriptRoot(ref)))
				}
				continue
			}
			out = append(out, engine.NewContext(env, role.Name+"/"+stage.String(), scriptRoot(refs...)))
		}
	}
	return out
}

func scriptRoot(refs ...core.ScriptRef) *engine.Cmd {
	root := engine.MustBuild(engine.KindGroup, "")
	for _, ref := range refs {
		call := engine.MustBuild(engine.KindScript, ref.Name)
		for k, v := range ref.With {
			call.SetWith(k, v)
		}
		root.Then(call)
	}
	return root
}

func (r *Run) env(ctx context.Context, stage core.Stage, role, alias string, t *tracker) *engine.Env {
	host := r.plan.Hosts[alias]
	host.Alias = alias
	return &engine.Env{
		Ctx:           logger.WithValues(ctx, tag.Role(role)),
		Run:           r,
		Scripts:       r,
		Coordinator:   r.coord,
		Dispatcher:    r.dispatcher,
		Session:       r.sessions[alias],
		Host:          host,
		Role:          role,
		Stage:         stage,
		State:         r.hostStates[alias],
		Secrets:       r.masker,
		Observers:     r.opts.Observers,
		Tracker:       t,
		Out:           r.opts.Out,
		CheckExitCode: r.opts.CheckExitCode,
	}
}

// Abort latches the run as aborted. Only the first call has an effect.
// The current stage is stopped unless it is Cleanup and cleanup was not
// asked to be skipped.
func (r *Run) Abort(ctx context.Context, reason string, skipCleanup bool) {
	if !r.aborted.CompareAndSwap(false, true) {
		return
	}
	reason = r.masker.Filter(reason)
	r.skipCleanup.Store(skipCleanup)
	r.mu.Lock()
	r.reason = reason
	contexts := append([]*engine.Context(nil), r.contexts...)
	r.mu.Unlock()
	logger.Error(ctx, "Aborting run", tag.Reason(reason), tag.String("skip-cleanup", fmt.Sprint(skipCleanup)))

	if r.Stage() == core.StageCleanup && !skipCleanup {
		return
	}
	for _, x := range contexts {
		x.Close()
	}
	for alias, sess := range r.sessions {
		if !sess.IsOpen() {
			continue
		}
		if err := sess.Interrupt(); err != nil {
			logger.Debug(ctx, "Interrupt failed", tag.Host(alias), tag.Error(err))
		}
	}
}

// Join waits up to timeout for the run to finish.
func (r *Run) Join(timeout time.Duration) error {
	select {
	case <-r.done:
		return nil
	case <-time.After(timeout):
		return ErrJoinTimeout
	}
}

// Result reports the outcome so far.
func (r *Run) Result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Result{
		ID:          r.id,
		Name:        r.plan.Name,
		Aborted:     r.aborted.Load(),
		Reason:      r.reason,
		SkipCleanup: r.skipCleanup.Load(),
		Stages:      append([]StageReport(nil), r.reports...),
	}
}

func (r *Run) shutdown(ctx context.Context) {
	if err := r.dispatcher.Shutdown(ctx, r.opts.ShutdownTimeout); err != nil {
		logger.Warn(ctx, "Dispatcher shutdown", tag.Error(err))
	}
	for alias, sess := range r.sessions {
		if err := sess.Close(); err != nil {
			logger.Debug(ctx, "Closing session", tag.Host(alias), tag.Error(err))
		}
	}
}
