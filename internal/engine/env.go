package engine

import (
	"context"
	"io"

	"github.com/dagucloud/herd/internal/cmn/masking"
	"github.com/dagucloud/herd/internal/coordinator"
	"github.com/dagucloud/herd/internal/core"
	"github.com/dagucloud/herd/internal/dispatch"
	"github.com/dagucloud/herd/internal/shell"
	"github.com/dagucloud/herd/internal/state"
)

// Runner is the part of the run a context reports to.
type Runner interface {
	Abort(ctx context.Context, reason string, skipCleanup bool)
	IsAborted() bool
	AddPendingDownload(host, path, destination string, maxSize int64)
	AddPendingDelete(host, path string)
}

// Scripts resolves script templates by name.
type Scripts interface {
	Script(name string) (*Cmd, bool)
}

// Tracker is told when contexts start and finish.
type Tracker interface {
	Started(x *Context)
	Finished(x *Context)
}

// Env is what every context on one host shares during a stage.
type Env struct {
	Ctx         context.Context
	Run         Runner
	Scripts     Scripts
	Coordinator *coordinator.Coordinator
	Dispatcher  *dispatch.Dispatcher
	Session     shell.Session
	Host        core.Host
	Role        string
	Stage       core.Stage
	// State is the host-level state.
	State         *state.State
	Secrets       *masking.Masker
	Observers     []Observer
	Tracker       Tracker
	Out           io.Writer
	CheckExitCode bool
}

func (e *Env) filter(s string) string {
	if e.Secrets == nil {
		return s
	}
	return e.Secrets.Filter(s)
}
