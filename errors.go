package migration

import (
	"errors"
	"fmt"
)

// Error codes carried on phase-scoped errors. They travel on failure events
// and in invocation responses so the callback consumer can diagnose a failed
// migration without reading logs.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodePrerequisite       = "PREREQUISITE_ERROR"
	CodeSourcePreparation  = "SOURCE_PREPARATION_ERROR"
	CodeMigrationExecution = "MIGRATION_EXECUTION_ERROR"
	CodeVerification       = "VERIFICATION_ERROR"
	CodeCutover            = "CUTOVER_ERROR"
	CodeRollback           = "ROLLBACK_ERROR"
)

// Error is a phase-scoped migration error with a machine-readable code and
// free-form details. Phase executors catch their own *Error, persist it, and
// publish a failure event; the invocation itself never crashes the workflow.
type Error struct {
	Code    string         `json:"errorCode"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	wrapped error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// NewError creates a typed migration error.
func NewError(code, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// WrapError creates a typed migration error keeping err in the unwrap chain.
func WrapError(code string, err error, details map[string]any) *Error {
	return &Error{Code: code, Message: err.Error(), Details: details, wrapped: err}
}

// AsError extracts a *Error from err's chain. Untyped errors come back as a
// second return of false so the caller can convert them into a generic
// failure response instead of stalling the workflow.
func AsError(err error) (*Error, bool) {
	var me *Error
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}
