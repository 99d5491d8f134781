package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dagucloud/herd/internal/cmn/config"
	"github.com/dagucloud/herd/internal/cmn/logger"
	"github.com/dagucloud/herd/internal/cmn/logger/tag"
	"github.com/dagucloud/herd/internal/core"
	"github.com/dagucloud/herd/internal/debug"
	"github.com/dagucloud/herd/internal/dispatch"
	"github.com/dagucloud/herd/internal/loader"
	"github.com/dagucloud/herd/internal/metrics"
	"github.com/dagucloud/herd/internal/output"
	"github.com/dagucloud/herd/internal/run"
	"github.com/dagucloud/herd/internal/shell"
)

const defaultJoinTimeout = 30 * time.Second

func Run() *cobra.Command {
	return NewCommand(
		&cobra.Command{
			Use:   "run [flags] <plan file>...",
			Short: "Execute a plan across its hosts",
			Long: `Execute a plan through its four stages: pre-setup, setup, run and cleanup.

Several plan files may be given; later files override earlier ones.

Example:
  herd run deploy.yaml --state version=1.4.2 --skip-stage setup
`,
			Args: cobra.MinimumNArgs(1),
		},
		[]commandLineFlag{stateFlag, skipStageFlag, workersFlag, debugAddrFlag, checkExitCodeFlag},
		runRun,
	)
}

func runRun(ctx *Context, args []string) error {
	plan, err := loader.Load(args...)
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}
	if err := applyRunFlags(ctx, plan); err != nil {
		return err
	}

	opts, err := runOptions(ctx)
	if err != nil {
		return err
	}
	collector := metrics.NewCollector(config.Version, nil)
	opts.Observers = append(opts.Observers, collector, output.NewProgress(os.Stderr))

	r, err := run.New(plan, opts)
	if err != nil {
		return fmt.Errorf("failed to prepare run: %w", err)
	}
	if envFile := ctx.Config.Execution.EnvFile; envFile != "" {
		if err := r.Secrets().LoadEnvFile(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}
	ctx.MaskLogs(r.Secrets())
	collector.Attach(r)

	serveCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if addr, _ := ctx.Command.Flags().GetString(debugAddrFlag.name); addr != "" || ctx.Config.DebugServer.Address != "" {
		if addr == "" {
			addr = ctx.Config.DebugServer.Address
		}
		srv, err := debug.New(addr, r, collector, debug.WithLogFormat(ctx.Config.Core.LogFormat))
		if err != nil {
			return fmt.Errorf("failed to create debug server: %w", err)
		}
		go func() {
			if err := srv.Serve(serveCtx); err != nil {
				logger.Error(serveCtx, "Debug server failed", tag.Error(err))
			}
		}()
	}

	joinTimeout := ctx.Config.Execution.JoinTimeout
	if joinTimeout <= 0 {
		joinTimeout = defaultJoinTimeout
	}
	listenSignals(ctx, r.Done(), &interruptHandler{run: r, joinTimeout: joinTimeout})

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
	}
	runErr := r.Run(ctx)
	output.WriteSummary(os.Stdout, r.Result())
	return runErr
}

// applyRunFlags folds the command line overrides into the plan.
func applyRunFlags(ctx *Context, plan *run.Plan) error {
	states, err := ctx.Command.Flags().GetStringArray(stateFlag.name)
	if err != nil {
		return err
	}
	for _, kv := range states {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid state %q: expected key=value", kv)
		}
		if plan.States == nil {
			plan.States = map[string]any{}
		}
		plan.States[key] = value
	}

	skips, err := ctx.Command.Flags().GetStringArray(skipStageFlag.name)
	if err != nil {
		return err
	}
	set, err := core.ParseStageSet(append(append([]string{}, ctx.Config.Execution.SkipStages...), skips...))
	if err != nil {
		return err
	}
	if plan.SkipStages == nil {
		plan.SkipStages = core.StageSet{}
	}
	for stage := range set {
		plan.SkipStages[stage] = true
	}
	return nil
}

func runOptions(ctx *Context) (run.Options, error) {
	cfg := ctx.Config
	opts := run.Options{
		Dispatch: dispatch.Config{
			Workers:   cfg.Execution.Workers,
			Callbacks: cfg.Execution.Callbacks,
		},
		Shell: shell.Config{
			KnownHosts:    cfg.SSH.KnownHosts,
			StrictHostKey: cfg.SSH.StrictHostKey,
			Key:           cfg.SSH.Key,
			Timeout:       cfg.SSH.Timeout,
			Shell:         cfg.Execution.Shell,
		},
		Out:             os.Stdout,
		Secrets:         cfg.Execution.Secrets,
		CheckExitCode:   cfg.Execution.CheckExitCode,
		ShutdownTimeout: cfg.Execution.ShutdownTimeout,
		DownloadDir:     cfg.Paths.DownloadDir,
	}

	if v, _ := ctx.Command.Flags().GetString(workersFlag.name); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, fmt.Errorf("invalid workers: %q", v)
		}
		opts.Dispatch.Workers = n
	}
	if check, _ := ctx.Command.Flags().GetBool(checkExitCodeFlag.name); check {
		opts.CheckExitCode = true
	}
	return opts, nil
}

// interruptHandler aborts the run on the first signal and gives it
// joinTimeout to clean up.
type interruptHandler struct {
	run         *run.Run
	joinTimeout time.Duration
}

func (h *interruptHandler) Signal(ctx context.Context, sig os.Signal) {
	if h.run.IsAborted() {
		logger.Warn(ctx, "Run is already stopping", tag.Signal(sig.String()))
		return
	}
	logger.Info(ctx, "Received signal, aborting", tag.Signal(sig.String()))
	h.run.Abort(ctx, "interrupted by "+sig.String(), false)

	go func() {
		if err := h.run.Join(h.joinTimeout); err != nil {
			logger.Error(ctx, "Run did not stop in time", tag.Error(err))
			os.Exit(1)
		}
	}()
}
