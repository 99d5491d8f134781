package config

import (
	"fmt"
	"time"

	"github.com/dagucloud/herd/internal/core"
)

// Config holds the overall configuration for the application.
type Config struct {
	Core        Core
	Execution   Execution
	SSH         SSH
	DebugServer DebugServer
	Paths       Paths
	Warnings    []string
}

// Core holds logging and other process-wide settings.
type Core struct {
	// Debug enables debug logging with source locations.
	Debug bool
	// LogFormat is "text" or "json".
	LogFormat string
	// LogFile receives a copy of the log when set.
	LogFile string
	Quiet   bool
}

// Execution tunes how a run is carried out.
type Execution struct {
	Workers         int
	Callbacks       int
	JoinTimeout     time.Duration
	ShutdownTimeout time.Duration
	CheckExitCode   bool
	SkipStages      []string
	// Secrets are literal values masked in every log line and message.
	Secrets []string
	// EnvFile is a dotenv file whose values are also masked.
	EnvFile string
	// Shell is started on local hosts and in containers.
	Shell string
}

// SSH holds the defaults for SSH hosts.
type SSH struct {
	KnownHosts    string
	StrictHostKey bool
	Key           string
	Timeout       time.Duration
}

// DebugServer configures the introspection server. It is off when Address
// is empty.
type DebugServer struct {
	Address string
}

// Paths holds resolved filesystem locations.
type Paths struct {
	ConfigFileUsed string
	DownloadDir    string
}

// Validate checks values that would make a run misbehave.
func (c *Config) Validate() error {
	if c.Core.LogFormat != "" && c.Core.LogFormat != "text" && c.Core.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %q (must be text or json)", c.Core.LogFormat)
	}
	if c.Execution.Workers < 0 {
		return fmt.Errorf("invalid workers: %d", c.Execution.Workers)
	}
	if c.Execution.Callbacks < 0 {
		return fmt.Errorf("invalid callbacks: %d", c.Execution.Callbacks)
	}
	if _, err := core.ParseStageSet(c.Execution.SkipStages); err != nil {
		return err
	}
	return nil
}
