package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/dagucloud/herd/internal/cmn/fileutil"
)

// ConfigLoader reads and merges configuration from various sources.
type ConfigLoader struct {
	v          *viper.Viper
	configFile string
	configDir  string
	warnings   []string
}

// ConfigLoaderOption defines a functional option for configuring a ConfigLoader.
type ConfigLoaderOption func(*ConfigLoader)

// WithConfigFile returns a ConfigLoaderOption that sets the configuration file path.
func WithConfigFile(configFile string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.configFile = configFile
	}
}

// WithConfigDir overrides the directory searched for config.yaml.
func WithConfigDir(dir string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.configDir = dir
	}
}

// Load creates a ConfigLoader backed by a fresh viper instance and loads the
// configuration.
func Load(options ...ConfigLoaderOption) (*Config, error) {
	return NewConfigLoader(viper.New(), options...).Load()
}

// NewConfigLoader creates a ConfigLoader with the given viper instance and options.
func NewConfigLoader(v *viper.Viper, options ...ConfigLoaderOption) *ConfigLoader {
	loader := &ConfigLoader{v: v}
	for _, opt := range options {
		opt(loader)
	}
	return loader
}

// Load reads configuration files, applies defaults and environment overrides,
// and returns a validated Config instance.
func (l *ConfigLoader) Load() (*Config, error) {
	configDir := l.configDir
	if configDir == "" {
		configDir = filepath.Join(xdg.ConfigHome, AppSlug)
	}
	l.configureViper(configDir, l.configFile)
	l.bindEnvironmentVariables()
	l.setViperDefaultValues()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	configFileUsed, err := l.resolvePath("config file", l.v.ConfigFileUsed())
	if err != nil {
		return nil, err
	}

	var def Definition
	if err := l.v.Unmarshal(&def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg, err := l.buildConfig(def)
	if err != nil {
		return nil, fmt.Errorf("failed to build config: %w", err)
	}
	cfg.Paths.ConfigFileUsed = configFileUsed
	cfg.Warnings = l.warnings

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) buildConfig(def Definition) (*Config, error) {
	cfg := &Config{
		Core: Core{
			Debug:     def.Debug,
			LogFormat: def.LogFormat,
			Quiet:     def.Quiet,
		},
		Execution: Execution{
			Workers:         def.Workers,
			Callbacks:       def.Callbacks,
			JoinTimeout:     l.parseDuration("join_timeout", def.JoinTimeout),
			ShutdownTimeout: l.parseDuration("shutdown_timeout", def.ShutdownTimeout),
			CheckExitCode:   def.CheckExitCode,
			SkipStages:      def.SkipStages,
			Secrets:         def.Secrets,
			Shell:           def.Shell,
		},
	}

	var err error
	if cfg.Core.LogFile, err = l.resolvePath("log_file", def.LogFile); err != nil {
		return nil, err
	}
	if cfg.Execution.EnvFile, err = l.resolvePath("env_file", def.EnvFile); err != nil {
		return nil, err
	}
	if cfg.Paths.DownloadDir, err = l.resolvePath("download_dir", def.DownloadDir); err != nil {
		return nil, err
	}

	if def.SSH != nil {
		cfg.SSH = SSH{
			KnownHosts:    def.SSH.KnownHosts,
			StrictHostKey: def.SSH.StrictHostKey,
			Key:           def.SSH.Key,
			Timeout:       l.parseDuration("ssh.timeout", def.SSH.Timeout),
		}
	}
	if def.DebugServer != nil {
		cfg.DebugServer.Address = def.DebugServer.Address
	}
	return cfg, nil
}

// resolvePath resolves a path to an absolute path. Empty paths are returned as-is.
func (l *ConfigLoader) resolvePath(fieldName, pathValue string) (string, error) {
	if pathValue == "" {
		return "", nil
	}
	resolved, err := fileutil.ResolvePath(pathValue)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s path %q: %w", fieldName, pathValue, err)
	}
	return resolved, nil
}

// parseDuration parses a duration string, returning zero and adding a warning if invalid.
func (l *ConfigLoader) parseDuration(fieldName, value string) time.Duration {
	if value == "" {
		return 0
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		l.warnings = append(l.warnings, fmt.Sprintf("Invalid %s value: %s", fieldName, value))
		return 0
	}
	return duration
}

func (l *ConfigLoader) setViperDefaultValues() {
	l.v.SetDefault("debug", false)
	l.v.SetDefault("log_format", "text")
	l.v.SetDefault("quiet", false)
	l.v.SetDefault("workers", 16)
	l.v.SetDefault("callbacks", 8)
	l.v.SetDefault("join_timeout", "30s")
	l.v.SetDefault("shutdown_timeout", "10s")
	l.v.SetDefault("check_exit_code", false)
	l.v.SetDefault("download_dir", "downloads")

	l.v.SetDefault("ssh.strict_host_key", false)
	l.v.SetDefault("ssh.timeout", "30s")
}

type envBinding struct {
	key    string
	env    string
	isPath bool
}

var envBindings = []envBinding{
	{key: "debug", env: "DEBUG"},
	{key: "log_format", env: "LOG_FORMAT"},
	{key: "log_file", env: "LOG_FILE", isPath: true},
	{key: "quiet", env: "QUIET"},
	{key: "workers", env: "WORKERS"},
	{key: "callbacks", env: "CALLBACKS"},
	{key: "join_timeout", env: "JOIN_TIMEOUT"},
	{key: "shutdown_timeout", env: "SHUTDOWN_TIMEOUT"},
	{key: "check_exit_code", env: "CHECK_EXIT_CODE"},
	{key: "env_file", env: "ENV_FILE", isPath: true},
	{key: "download_dir", env: "DOWNLOAD_DIR", isPath: true},
	{key: "shell", env: "SHELL_PATH"},

	// SSH
	{key: "ssh.known_hosts", env: "SSH_KNOWN_HOSTS", isPath: true},
	{key: "ssh.strict_host_key", env: "SSH_STRICT_HOST_KEY"},
	{key: "ssh.key", env: "SSH_KEY", isPath: true},
	{key: "ssh.timeout", env: "SSH_TIMEOUT"},

	// Debug server
	{key: "debug_server.address", env: "DEBUG_ADDRESS"},
}

func (l *ConfigLoader) bindEnvironmentVariables() {
	prefix := strings.ToUpper(AppSlug) + "_"

	for _, b := range envBindings {
		fullEnv := prefix + b.env

		if b.isPath {
			if val := os.Getenv(fullEnv); val != "" {
				if abs, err := filepath.Abs(val); err == nil && abs != val {
					_ = os.Setenv(fullEnv, abs)
				}
			}
		}

		_ = l.v.BindEnv(b.key, fullEnv)
	}
}

func (l *ConfigLoader) configureViper(configDir, configFile string) {
	if configFile == "" {
		l.v.AddConfigPath(configDir)
		l.v.SetConfigName("config")
	} else {
		l.v.SetConfigFile(configFile)
	}
	l.v.SetConfigType("yaml")
	l.v.SetEnvPrefix(strings.ToUpper(AppSlug))
	l.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	l.v.AutomaticEnv()
}
