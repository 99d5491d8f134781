package shell

import (
	"time"

	"github.com/dagucloud/herd/internal/cmn/fileutil"
)

// ErrTooLarge is returned when a download exceeds its size limit.
var ErrTooLarge = fileutil.ErrTooLarge

const (
	defaultShell   = "/bin/sh"
	defaultTimeout = 30 * time.Second
)

// Config holds the transport settings shared by every session.
type Config struct {
	// KnownHosts is the known_hosts file, ~/.ssh/known_hosts when empty.
	KnownHosts    string
	StrictHostKey bool
	// Key is the default private key for hosts without their own.
	Key     string
	Timeout time.Duration
	// Shell is started on local hosts and in containers.
	Shell string
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultTimeout
	}
	return c.Timeout
}

func (c Config) shell(override string) string {
	if override != "" {
		return override
	}
	if c.Shell != "" {
		return c.Shell
	}
	return defaultShell
}
