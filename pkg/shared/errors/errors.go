package errors

import (
	"errors"
	"fmt"
)

// ConfigError reports a missing or malformed configuration source. It is fatal at startup.
type ConfigError struct {
	Directive string
	Err       error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in %q: %v", e.Directive, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a new ConfigError for the given directive or file.
func NewConfigError(directive string, err error) error {
	return &ConfigError{Directive: directive, Err: err}
}

// TransientIOError reports a retryable network or read failure.
type TransientIOError struct {
	Op         string
	StatusCode int
	Err        error
}

// Error implements the error interface for TransientIOError.
func (e *TransientIOError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient failure with status code %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientIOError) Unwrap() error { return e.Err }

// NewTransientIOError creates a new TransientIOError.
func NewTransientIOError(op string, statusCode int, err error) error {
	return &TransientIOError{Op: op, StatusCode: statusCode, Err: err}
}

// ItemError reports that a single sub-item could not be fetched or decoded.
// The enclosing source keeps going.
type ItemError struct {
	Source   string
	Location string
	Kind     string
	Err      error
}

// Error implements the error interface for ItemError.
func (e *ItemError) Error() string {
	return fmt.Sprintf("item %s %q of source %q failed: %v", e.Kind, e.Location, e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *ItemError) Unwrap() error { return e.Err }

// NewItemError creates a new ItemError.
func NewItemError(source, location, kind string, err error) error {
	return &ItemError{Source: source, Location: location, Kind: kind, Err: err}
}

// SourceError reports an unrecoverable failure while enumerating or processing a source.
type SourceError struct {
	Source string
	Stage  string
	Err    error
}

// Error implements the error interface for SourceError.
func (e *SourceError) Error() string {
	return fmt.Sprintf("source %q failed during %s: %v", e.Source, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *SourceError) Unwrap() error { return e.Err }

// NewSourceError creates a new SourceError.
func NewSourceError(source, stage string, err error) error {
	return &SourceError{Source: source, Stage: stage, Err: err}
}

// CommandError carries the process exit code of a failed command.
type CommandError struct {
	ExitCode int
	Err      error
}

// Error implements the error interface for CommandError.
func (e *CommandError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error { return e.Err }

// NewCommandError creates a new CommandError with the given exit code.
func NewCommandError(err error, code int) *CommandError {
	return &CommandError{ExitCode: code, Err: err}
}

// ExitCode returns the exit code for err: 0 for nil, the code of a wrapped
// CommandError, and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}
	return 1
}

// IsConfig reports whether err is, or wraps, a ConfigError.
func IsConfig(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

// IsTransient reports whether err is, or wraps, a TransientIOError.
func IsTransient(err error) bool {
	var target *TransientIOError
	return errors.As(err, &target)
}

// IsItem reports whether err is, or wraps, an ItemError.
func IsItem(err error) bool {
	var target *ItemError
	return errors.As(err, &target)
}
