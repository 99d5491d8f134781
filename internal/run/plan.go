// Package run drives one execution of a plan through its stages across every
// role and host.
package run

import (
	"fmt"
	"io"
	"time"

	"github.com/samber/lo"

	"github.com/dagucloud/herd/internal/core"
	"github.com/dagucloud/herd/internal/dispatch"
	"github.com/dagucloud/herd/internal/engine"
	"github.com/dagucloud/herd/internal/shell"
)

// Plan is what a run executes: script templates, hosts, roles and the
// initial state.
type Plan struct {
	Name    string
	Scripts map[string]*engine.Cmd
	Hosts   map[string]core.Host
	Roles   []core.Role
	States  map[string]any
	// Signals holds initial counts for named signals.
	Signals    map[string]int
	SkipStages core.StageSet
}

// Validate checks that every role refers to known hosts and scripts.
func (p *Plan) Validate() error {
	for _, role := range p.Roles {
		for _, alias := range role.Hosts {
			if _, ok := p.Hosts[alias]; !ok {
				return fmt.Errorf("role %s: %w: %s", role.Name, core.ErrUnknownHost, alias)
			}
		}
		for _, stage := range core.Stages {
			for _, ref := range role.Scripts(stage) {
				if _, ok := p.Scripts[ref.Name]; !ok {
					return fmt.Errorf("role %s: %w: %s", role.Name, core.ErrScriptNotFound, ref.Name)
				}
			}
		}
	}
	return nil
}

// HostAliases returns the aliases used by at least one role, in role order.
func (p *Plan) HostAliases() []string {
	return lo.Uniq(lo.FlatMap(p.Roles, func(r core.Role, _ int) []string { return r.Hosts }))
}

// SessionFactory opens the session for a host.
type SessionFactory func(host core.Host) (shell.Session, error)

// Options tune a run.
type Options struct {
	Dispatch dispatch.Config
	Shell    shell.Config
	// Sessions overrides how host sessions are created.
	Sessions        SessionFactory
	Observers       []engine.Observer
	Out             io.Writer
	Secrets         []string
	CheckExitCode   bool
	ShutdownTimeout time.Duration
	// DownloadDir receives queued downloads with a relative destination,
	// one sub-directory per host.
	DownloadDir string
}

const defaultShutdownTimeout = 10 * time.Second

func (o Options) sessions() SessionFactory {
	if o.Sessions != nil {
		return o.Sessions
	}
	cfg := o.Shell
	return func(host core.Host) (shell.Session, error) { return shell.New(host, cfg) }
}
