package config

// Definition holds the overall configuration for the application.
// Each field maps to a configuration key defined in external sources (like YAML files)
type Definition struct {
	// Debug toggles debug mode; when true, logs include source locations.
	Debug bool `mapstructure:"debug"`

	// LogFormat defines the output format for log messages.
	// Available options: "json", "text"
	LogFormat string `mapstructure:"log_format"`

	// LogFile is an optional file receiving a copy of the log.
	LogFile string `mapstructure:"log_file"`

	// Quiet suppresses command output on the terminal.
	Quiet bool `mapstructure:"quiet"`

	// Workers caps how many commands run at the same time.
	Workers int `mapstructure:"workers"`

	// Callbacks sizes the pool resuming contexts released by signals.
	Callbacks int `mapstructure:"callbacks"`

	// JoinTimeout bounds the wait for a stage to wind down after an abort.
	JoinTimeout string `mapstructure:"join_timeout"`

	// ShutdownTimeout bounds the graceful shutdown of the worker pools.
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`

	CheckExitCode bool     `mapstructure:"check_exit_code"`
	SkipStages    []string `mapstructure:"skip_stages"`
	Secrets       []string `mapstructure:"secrets"`
	EnvFile       string   `mapstructure:"env_file"`
	DownloadDir   string   `mapstructure:"download_dir"`

	// Shell is started on local hosts and in containers.
	Shell string `mapstructure:"shell"`

	SSH         *SSHDef         `mapstructure:"ssh"`
	DebugServer *DebugServerDef `mapstructure:"debug_server"`
}

// SSHDef holds the defaults applied to SSH hosts.
type SSHDef struct {
	KnownHosts    string `mapstructure:"known_hosts"`
	StrictHostKey bool   `mapstructure:"strict_host_key"`
	Key           string `mapstructure:"key"`
	Timeout       string `mapstructure:"timeout"`
}

// DebugServerDef configures the introspection server.
type DebugServerDef struct {
	Address string `mapstructure:"address"`
}
