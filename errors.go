package testbridge

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

// RuntimeError represents an operational error that should lead to exit code 2
// Examples include a missing event log, an invalid settings file or a
// scheduler that fails to replay.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError represents a run whose reported tests did not all pass (exit code 1)
type TestFailureError struct {
	RunID   string
	Status  types.Status
	Message string
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: run %s %s: %s", e.RunID, e.Status, e.Message)
}

// NewTestFailureError creates a new TestFailureError
func NewTestFailureError(runID string, status types.Status, message string) *TestFailureError {
	return &TestFailureError{RunID: runID, Status: status, Message: message}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}
