package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dagucloud/herd/internal/cmn/config"
	"github.com/dagucloud/herd/internal/cmn/logger"
	"github.com/dagucloud/herd/internal/cmn/logger/tag"
)

// Context holds the configuration for a command.
type Context struct {
	context.Context

	Command *cobra.Command
	Config  *config.Config
	Quiet   bool

	logFile *os.File
}

// NewContext loads the configuration and sets up the logger for cmd.
func NewContext(cmd *cobra.Command) (*Context, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return nil, fmt.Errorf("failed to get quiet flag: %w", err)
	}

	var loaderOpts []config.ConfigLoaderOption
	if cfgPath, _ := cmd.Flags().GetString("config"); cfgPath != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(cfgPath))
	}
	cfg, err := config.Load(loaderOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	c := &Context{
		Context: ctx,
		Command: cmd,
		Config:  cfg,
		Quiet:   quiet || cfg.Core.Quiet,
	}
	if cfg.Core.LogFile != "" {
		f, err := os.OpenFile(cfg.Core.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		c.logFile = f
	}
	c.setLogger(nil)

	for _, w := range cfg.Warnings {
		logger.Warn(c, w)
	}
	return c, nil
}

// MaskLogs rebuilds the logger so every line goes through f.
func (c *Context) MaskLogs(f logger.Filter) {
	c.setLogger(f)
}

func (c *Context) setLogger(f logger.Filter) {
	var opts []logger.Option
	if c.Config.Core.Debug || os.Getenv("DEBUG") != "" {
		opts = append(opts, logger.WithDebug())
	}
	if c.Quiet {
		opts = append(opts, logger.WithQuiet())
	}
	if c.Config.Core.LogFormat != "" {
		opts = append(opts, logger.WithFormat(c.Config.Core.LogFormat))
	}
	if c.logFile != nil {
		opts = append(opts, logger.WithWriter(c.logFile))
	}
	if f != nil {
		opts = append(opts, logger.WithFilter(f))
	}
	c.Context = logger.WithLogger(c.Context, logger.NewLogger(opts...))
}

// Close releases the log file.
func (c *Context) Close() {
	if c.logFile != nil {
		_ = c.logFile.Close()
	}
}

// NewCommand creates a new command instance with the given cobra command and run function.
func NewCommand(cmd *cobra.Command, flags []commandLineFlag, runFunc func(cmd *Context, args []string) error) *cobra.Command {
	initFlags(cmd, flags...)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		ctx, err := NewContext(cmd)
		if err != nil {
			fmt.Printf("Initialization error: %v\n", err)
			os.Exit(1)
		}
		defer ctx.Close()
		if err := runFunc(ctx, args); err != nil {
			logger.Error(ctx, "Command failed", tag.Error(err))
			ctx.Close()
			os.Exit(1)
		}
		return nil
	}

	return cmd
}

// signalListener is an interface for types that can receive OS signals.
type signalListener interface {
	Signal(context.Context, os.Signal)
}

// listenSignals forwards SIGINT and SIGTERM to listener until done is closed.
func listenSignals(ctx context.Context, done <-chan struct{}, listener signalListener) {
	signalChan := make(chan os.Signal, 4)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signalChan)
		for {
			select {
			case <-done:
				return
			case sig := <-signalChan:
				listener.Signal(ctx, sig)
			}
		}
	}()
}
