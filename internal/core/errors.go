package core

import "errors"

var (
	// ErrAborted is returned by a run that was aborted.
	ErrAborted = errors.New("run aborted")
	// ErrScriptNotFound is returned when a script name cannot be resolved.
	ErrScriptNotFound = errors.New("script not found")
	// ErrUnknownHost is returned when a role references an undefined host.
	ErrUnknownHost = errors.New("unknown host")
	// ErrInvalidHost is returned for malformed host definitions.
	ErrInvalidHost = errors.New("invalid host")
	// ErrUnknownStage is returned for unrecognized stage names.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrSessionClosed is returned by shell sessions used after Close.
	ErrSessionClosed = errors.New("session closed")
	// ErrInvalidSignalCount is returned when a signal count is not a
	// non-negative integer.
	ErrInvalidSignalCount = errors.New("invalid signal count")
)
