// Package tag provides standardized attribute helpers for structured logging.
//
// All keys use kebab-case. Use these instead of raw strings so log output
// stays consistent across the engine, the transports and the CLI.
package tag

import (
	"log/slog"
	"time"
)

func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// RunID creates a tag for run identifiers.
func RunID(id string) slog.Attr {
	return slog.String("run-id", id)
}

// Stage creates a tag for lifecycle stage names.
func Stage(name string) slog.Attr {
	return slog.String("stage", name)
}

// Role creates a tag for role names.
func Role(name string) slog.Attr {
	return slog.String("role", name)
}

// Host creates a tag for host aliases.
func Host(name string) slog.Attr {
	return slog.String("host", name)
}

// Script creates a tag for script names.
func Script(name string) slog.Attr {
	return slog.String("script", name)
}

// Cmd creates a tag for a command node description.
func Cmd(desc string) slog.Attr {
	return slog.String("cmd", desc)
}

// Context creates a tag for execution context identifiers.
func Context(id string) slog.Attr {
	return slog.String("context", id)
}

// Signal creates a tag for coordinator signal names.
func Signal(name string) slog.Attr {
	return slog.String("signal", name)
}

// Count creates a tag for counter values.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Worker creates a tag for dispatcher worker names.
func Worker(name string) slog.Attr {
	return slog.String("worker", name)
}

// Pool creates a tag for dispatcher pool names.
func Pool(name string) slog.Attr {
	return slog.String("pool", name)
}

// Path creates a tag for file paths, local or remote.
func Path(path string) slog.Attr {
	return slog.String("path", path)
}

// Destination creates a tag for transfer destinations.
func Destination(path string) slog.Attr {
	return slog.String("destination", path)
}

// Size creates a tag for byte sizes.
func Size(n int64) slog.Attr {
	return slog.Int64("size", n)
}

// ExitCode creates a tag for process exit codes.
func ExitCode(code int) slog.Attr {
	return slog.Int("exit-code", code)
}

// Timeout creates a tag for timeout durations.
func Timeout(d time.Duration) slog.Attr {
	return slog.Duration("timeout", d)
}

// Duration creates a tag for elapsed durations.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Output creates a tag for command output.
func Output(out string) slog.Attr {
	return slog.String("output", out)
}

// Reason creates a tag for human readable reasons.
func Reason(reason string) slog.Attr {
	return slog.String("reason", reason)
}

// Addr creates a tag for network addresses.
func Addr(addr string) slog.Attr {
	return slog.String("addr", addr)
}
