// Package shell runs commands on a host through a persistent shell session.
package shell

import (
	"context"

	"github.com/dagucloud/herd/internal/core"
)

// Result is the outcome of one command.
type Result struct {
	Output   string
	ExitCode int
}

// LineFunc receives each output line as it is produced.
type LineFunc func(line string)

// Session is a long-lived shell on one host. Commands run one at a time.
type Session interface {
	Host() core.Host
	Connect(ctx context.Context) error
	IsOpen() bool
	// Run executes command and blocks until it completes. onLine may be nil.
	Run(ctx context.Context, command string, onLine LineFunc) (Result, error)
	// Interrupt sends ctrl-c to the running command.
	Interrupt() error
	Upload(ctx context.Context, local, remote string) error
	// Download copies remote to local. Files larger than maxSize are refused
	// when maxSize is positive.
	Download(ctx context.Context, remote, local string, maxSize int64) (int64, error)
	Close() error
}

// New returns a session for host.
func New(host core.Host, cfg Config) (Session, error) {
	switch host.Kind {
	case core.HostLocal:
		return NewLocal(host, cfg), nil
	case core.HostContainer:
		return NewContainer(host, cfg), nil
	default:
		return NewSSH(host, cfg), nil
	}
}
