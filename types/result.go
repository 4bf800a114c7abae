package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the terminal state reported for a node
type Status string

const (
	StatusSuccessful Status = "successful"
	StatusAborted    Status = "aborted"
	StatusFailed     Status = "failed"
)

// ExecutionResult is the terminal outcome of a started node
type ExecutionResult struct {
	Status Status
	Cause  error
}

// Successful returns a result without a cause
func Successful() ExecutionResult {
	return ExecutionResult{Status: StatusSuccessful}
}

// Aborted returns an aborted result. cause may be nil when none is known.
func Aborted(cause error) ExecutionResult {
	return ExecutionResult{Status: StatusAborted, Cause: cause}
}

// Failed returns a failed result
func Failed(cause error) ExecutionResult {
	return ExecutionResult{Status: StatusFailed, Cause: cause}
}

func (r ExecutionResult) String() string {
	if r.Cause == nil {
		return string(r.Status)
	}
	return fmt.Sprintf("%s(%s)", r.Status, r.Cause)
}

// ReportEntry is a timestamped set of key/value pairs published for a node
type ReportEntry struct {
	Timestamp time.Time
	Values    map[string]string
}

// NewReportEntry creates an entry holding a single key/value pair
func NewReportEntry(key, value string) ReportEntry {
	return ReportEntry{
		Timestamp: time.Now(),
		Values:    map[string]string{key: value},
	}
}

// ChainedError folds several causes into one: the first recorded cause plus
// the rest as suppressed causes.
type ChainedError struct {
	Primary    error
	Suppressed []error
}

func (e *ChainedError) Error() string {
	if len(e.Suppressed) == 0 {
		return e.Primary.Error()
	}
	msgs := make([]string, len(e.Suppressed))
	for i, s := range e.Suppressed {
		msgs[i] = s.Error()
	}
	return fmt.Sprintf("%s (suppressed: %s)", e.Primary, strings.Join(msgs, "; "))
}

// Unwrap exposes every cause to errors.Is and errors.As
func (e *ChainedError) Unwrap() []error {
	out := make([]error, 0, len(e.Suppressed)+1)
	out = append(out, e.Primary)
	return append(out, e.Suppressed...)
}

// Chain composes causes in order, ignoring nils. It returns nil for no causes
// and the cause itself when only one is given.
func Chain(causes ...error) error {
	var nonNil []error
	for _, c := range causes {
		if c != nil {
			nonNil = append(nonNil, c)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return &ChainedError{Primary: nonNil[0], Suppressed: nonNil[1:]}
	}
}

// Causes flattens a cause into its primary and suppressed parts
func Causes(err error) []error {
	if err == nil {
		return nil
	}
	var chained *ChainedError
	if errors.As(err, &chained) {
		return chained.Unwrap()
	}
	return []error{err}
}
