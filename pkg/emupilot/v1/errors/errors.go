package errors

import (
	"errors"
	"fmt"
)

// --- Emupilot Core Error Types ---

// ConfigError represents an error encountered during the loading, parsing,
// or validation of the instance profile configuration or engine options.
type ConfigError struct {
	Message string
	Cause   error
}

func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{Message: message, Cause: cause}
}
func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}
func (e *ConfigError) Unwrap() error { return e.Cause }

// ValidationError indicates that some input (e.g., profile structure,
// schema version, task parameters) failed validation checks.
type ValidationError struct {
	Message string
	Cause   error
}

func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{Message: message, Cause: cause}
}
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}
func (e *ValidationError) Unwrap() error { return e.Cause }

// DeviceUnavailableError signifies that the device bridge endpoint bound to an
// instance could not be reached, or stopped responding entirely. It is fatal
// for the affected instance's worker; other workers are unaffected.
type DeviceUnavailableError struct {
	Instance string
	Endpoint string
	Cause    error
}

func NewDeviceUnavailableError(instance, endpoint string, cause error) *DeviceUnavailableError {
	return &DeviceUnavailableError{Instance: instance, Endpoint: endpoint, Cause: cause}
}
func (e *DeviceUnavailableError) Error() string {
	msg := fmt.Sprintf("device unavailable for instance '%s' (%s)", e.Instance, e.Endpoint)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}
func (e *DeviceUnavailableError) Unwrap() error { return e.Cause }

// IsDeviceUnavailable checks if an error is a DeviceUnavailableError using errors.As.
func IsDeviceUnavailable(err error) bool {
	var devErr *DeviceUnavailableError
	return errors.As(err, &devErr)
}

// DispatchError represents a single bridge command that was rejected by the
// device. Dispatch errors are retried up to a bounded count before being
// escalated to DeviceUnavailableError.
type DispatchError struct {
	Instance string
	Command  string
	Cause    error
}

func NewDispatchError(instance, command string, cause error) *DispatchError {
	return &DispatchError{Instance: instance, Command: command, Cause: cause}
}
func (e *DispatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("dispatch of '%s' failed for instance '%s': %v", e.Command, e.Instance, e.Cause)
	}
	return fmt.Sprintf("dispatch of '%s' failed for instance '%s'", e.Command, e.Instance)
}
func (e *DispatchError) Unwrap() error { return e.Cause }

// StallExceededError indicates that a task's state machine exhausted its
// recovery retries without regaining a recognized screen.
type StallExceededError struct {
	Task    string
	State   string
	Retries int
}

func NewStallExceededError(task, state string, retries int) *StallExceededError {
	return &StallExceededError{Task: task, State: state, Retries: retries}
}
func (e *StallExceededError) Error() string {
	return fmt.Sprintf("task '%s' stalled in state %s after %d recovery attempts", e.Task, e.State, e.Retries)
}

// TaskExecutionError represents a fatal error that occurred during the
// execution of a specific task on a specific instance.
type TaskExecutionError struct {
	Instance string
	Task     string
	Cause    error
}

func NewTaskExecutionError(instance, task string, cause error) *TaskExecutionError {
	return &TaskExecutionError{Instance: instance, Task: task, Cause: cause}
}
func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task '%s' failed on instance '%s': %v", e.Task, e.Instance, e.Cause)
}
func (e *TaskExecutionError) Unwrap() error { return e.Cause }

// TaskNotFoundError indicates that a task kind named in a profile's enabled
// task set could not be found in the task registry.
type TaskNotFoundError struct {
	TaskKind string
}

func NewTaskNotFoundError(taskKind string) *TaskNotFoundError {
	return &TaskNotFoundError{TaskKind: taskKind}
}
func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task kind not registered: %s", e.TaskKind)
}

// AbortedError indicates a task was intentionally stopped by a cancellation
// request. It implements the error interface but signifies non-failure.
type AbortedError struct {
	Reason string
}

func NewAbortedError(reason string) *AbortedError {
	return &AbortedError{Reason: reason}
}
func (e *AbortedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("task aborted: %s", e.Reason)
	}
	return "task aborted"
}

// IsAborted checks if an error is an AbortedError using errors.As.
func IsAborted(err error) bool {
	var abortErr *AbortedError
	return errors.As(err, &abortErr)
}
