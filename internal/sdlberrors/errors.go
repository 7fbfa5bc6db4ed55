// Package sdlberrors defines the orchestrator's error taxonomy: distinct
// types so the scheduler can classify a failure with errors.As instead of
// string matching.
package sdlberrors

import (
	"fmt"

	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
)

// ConfigurationError is detected before Exec and aborts the run.
type ConfigurationError struct {
	Subject string
	Message string
	Err     error
}

func NewConfigurationError(subject, message string, err error) error {
	return &ConfigurationError{Subject: subject, Message: message, Err: err}
}

func (e *ConfigurationError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("configuration error: %s: %s", e.Subject, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// PreconditionError means a backend was unreachable or a schema mismatched.
type PreconditionError struct {
	Subject string
	Message string
	Err     error
}

func NewPreconditionError(subject, message string, err error) error {
	return &PreconditionError{Subject: subject, Message: message, Err: err}
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition error: %s: %s", e.Subject, e.Message)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

// NoDataToProcessDontStop is a soft error: the action emits empty subfeeds
// and downstream actions may skip, but the run continues normally.
type NoDataToProcessDontStop struct {
	ActionID idtype.ActionID
	Reason   string
}

func NewNoDataToProcessDontStop(actionID idtype.ActionID, reason string) error {
	return &NoDataToProcessDontStop{ActionID: actionID, Reason: reason}
}

func (e *NoDataToProcessDontStop) Error() string {
	return fmt.Sprintf("no data to process (continuing): action %s: %s", e.ActionID, e.Reason)
}

// NoDataToProcessStop is a soft error: the run ends successfully with no
// further actions executed.
type NoDataToProcessStop struct {
	ActionID idtype.ActionID
	Reason   string
}

func NewNoDataToProcessStop(actionID idtype.ActionID, reason string) error {
	return &NoDataToProcessStop{ActionID: actionID, Reason: reason}
}

func (e *NoDataToProcessStop) Error() string {
	return fmt.Sprintf("no data to process (stopping run): action %s: %s", e.ActionID, e.Reason)
}

// TaskFailed wraps any engine or transformation exception raised while
// executing an action; the action is marked FAILED and its descendants
// CANCELLED.
type TaskFailed struct {
	ActionID idtype.ActionID
	Err      error
}

func NewTaskFailed(actionID idtype.ActionID, err error) error {
	return &TaskFailed{ActionID: actionID, Err: err}
}

func (e *TaskFailed) Error() string {
	return fmt.Sprintf("task failed: action %s: %v", e.ActionID, e.Err)
}

func (e *TaskFailed) Unwrap() error { return e.Err }

// Cancelled indicates an action was never run because the run was already
// marked failed, or one of its ancestors was cancelled. It is not an error
// condition raised by action logic; the scheduler records such actions
// with the CANCELLED state rather than constructing this error.
type Cancelled struct {
	ActionID idtype.ActionID
	Cause    string
}

func NewCancelled(actionID idtype.ActionID, cause string) error {
	return &Cancelled{ActionID: actionID, Cause: cause}
}

func (e *Cancelled) Error() string {
	return fmt.Sprintf("cancelled: action %s: %s", e.ActionID, e.Cause)
}

// FailCondition is raised when an execution mode's failCondition expression
// evaluates true; the action kernel returns it unwrapped and the
// scheduler classifies it as a task failure.
type FailCondition struct {
	ActionID    idtype.ActionID
	Description string
}

func NewFailCondition(actionID idtype.ActionID, description string) error {
	return &FailCondition{ActionID: actionID, Description: description}
}

func (e *FailCondition) Error() string {
	return fmt.Sprintf("fail condition triggered: action %s: %s", e.ActionID, e.Description)
}
