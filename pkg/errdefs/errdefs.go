package errdefs

import (
	"errors"
	"fmt"
)

// ConfigurationError indicates an invalid configuration that was detected
// before any remote host was touched: mismatched host/config counts,
// clashing IP assignments, an empty manager set. Never retryable.
type ConfigurationError struct {
	msg   string
	cause error
}

// Configuration creates a new ConfigurationError
func Configuration(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{msg: fmt.Sprintf(format, args...)}
}

// WrapConfiguration wraps an existing error as a ConfigurationError
func WrapConfiguration(err error, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{msg: fmt.Sprintf(format, args...), cause: err}
}

func (e *ConfigurationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.msg, e.cause)
	}
	return fmt.Sprintf("configuration error: %s", e.msg)
}

func (e *ConfigurationError) Unwrap() error { return e.cause }

// RemoteOperationError indicates that a remote mutation (daemon API call or
// playbook run) failed. Whatever was already applied in the current batch has
// been rolled back by the time this error reaches the caller.
type RemoteOperationError struct {
	Op    string // operation that failed, e.g. "swarm.join", "playbook:net_up.yml"
	Host  string // host the operation was directed at, if any
	cause error
}

// RemoteOperation creates a new RemoteOperationError
func RemoteOperation(op, host string, cause error) *RemoteOperationError {
	return &RemoteOperationError{Op: op, Host: host, cause: cause}
}

func (e *RemoteOperationError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("remote operation %s failed on host %s: %v", e.Op, e.Host, e.cause)
	}
	return fmt.Sprintf("remote operation %s failed: %v", e.Op, e.cause)
}

func (e *RemoteOperationError) Unwrap() error { return e.cause }

// AlreadyTornDownError indicates use of a resource after its tear-down
// completed. This is a programming error on the caller's side, not a
// transient condition.
type AlreadyTornDownError struct {
	Resource string
}

// AlreadyTornDown creates a new AlreadyTornDownError
func AlreadyTornDown(resource string) *AlreadyTornDownError {
	return &AlreadyTornDownError{Resource: resource}
}

func (e *AlreadyTornDownError) Error() string {
	return fmt.Sprintf("%s has already been torn down", e.Resource)
}

// IsConfiguration reports whether err is or wraps a ConfigurationError
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsRemoteOperation reports whether err is or wraps a RemoteOperationError
func IsRemoteOperation(err error) bool {
	var re *RemoteOperationError
	return errors.As(err, &re)
}

// IsAlreadyTornDown reports whether err is or wraps an AlreadyTornDownError
func IsAlreadyTornDown(err error) bool {
	var te *AlreadyTornDownError
	return errors.As(err, &te)
}
