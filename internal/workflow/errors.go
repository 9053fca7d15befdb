package workflow

import (
	"errors"
	"fmt"
)

// Sentinel errors, matched with errors.Is through the typed wrappers below.
var (
	ErrWorkflowNotFound   = errors.New("workflow not found")
	ErrTaskNotFound       = errors.New("task not found")
	ErrAgentNotFound      = errors.New("agent not found")
	ErrInvalidRole        = errors.New("invalid agent role")
	ErrDependencyNotFound = errors.New("dependency task not found")
	ErrDependencyCycle    = errors.New("dependency cycle")
	ErrDuplicateID        = errors.New("duplicate id")
	ErrEmptyField         = errors.New("required field is empty")
	ErrNoTasks            = errors.New("workflow has no tasks")
	ErrNoAgents           = errors.New("workflow has no agents")

	ErrAgentBusy            = errors.New("agent is busy")
	ErrNoCurrentTask        = errors.New("agent has no assigned task")
	ErrTaskNotPending       = errors.New("task is not pending")
	ErrTaskNotReady         = errors.New("task is not ready")
	ErrTaskNotCompleted     = errors.New("task is not completed")
	ErrWorkflowNotCompleted = errors.New("workflow is not completed")
)

// ValidationError reports a reference to something that does not exist or
// an input that cannot be accepted.
type ValidationError struct {
	Kind error  // One of the Err* sentinels
	ID   string // Offending identifier or value
	Msg  string
}

func newValidationError(kind error, id string, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, ID: id, Msg: fmt.Sprintf(format, args...)}
}

// NotFound builds the ValidationError for an unknown id.
func NotFound(kind error, id string) *ValidationError {
	return newValidationError(kind, id, "%s: %s", kind, id)
}

// Invalid builds a ValidationError with a custom message.
func Invalid(kind error, id string, format string, args ...any) *ValidationError {
	return newValidationError(kind, id, format, args...)
}

func (e *ValidationError) Error() string { return e.Msg }
func (e *ValidationError) Unwrap() error { return e.Kind }

// StateConflictError reports an operation that is valid in general but not
// in the current state, such as assigning work to a busy agent.
type StateConflictError struct {
	Kind error
	ID   string
	Msg  string
}

// Conflict builds a StateConflictError.
func Conflict(kind error, id string, format string, args ...any) *StateConflictError {
	return &StateConflictError{Kind: kind, ID: id, Msg: fmt.Sprintf(format, args...)}
}

func (e *StateConflictError) Error() string { return e.Msg }
func (e *StateConflictError) Unwrap() error { return e.Kind }

// ExecutionError is the failure recorded on a task when the completion
// provider did not produce a result.
type ExecutionError struct {
	TaskID string
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Reason)
}

// PersistenceError wraps a failed gateway call so callers of a mutating
// operation learn the state was not durably written.
type PersistenceError struct {
	WorkflowID string
	Op         string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConflict reports whether err is (or wraps) a StateConflictError.
func IsConflict(err error) bool {
	var c *StateConflictError
	return errors.As(err, &c)
}

// IsExecution reports whether err is (or wraps) an ExecutionError.
func IsExecution(err error) bool {
	var x *ExecutionError
	return errors.As(err, &x)
}

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var p *PersistenceError
	return errors.As(err, &p)
}
