// Package scheduler defines the callback contract of the foreign test
// scheduler and provides a replay implementation driven by recorded events.
package scheduler

import (
	"context"
	"slices"
)

// Class identifies a test class
type Class struct {
	Name string
}

// Method describes the test or configuration method a result belongs to
type Method struct {
	Name           string
	ParameterTypes []string
	Groups         []string
	Description    string
	Attributes     map[string][]string

	// Capability query inputs
	DataDriven      bool
	InvocationCount int
	ThreadPoolSize  int
	CustomRetry     bool
}

// ReportsInvocations reports whether results of this method become
// individual invocations below a container node
func (m Method) ReportsInvocations() bool {
	return m.DataDriven || m.InvocationCount > 1 || m.ThreadPoolSize > 0 || m.CustomRetry
}

// Result is the payload carried by every test and configuration callback
type Result struct {
	// ID is the scheduler's identity of this result object. Empty when the
	// scheduler cannot supply one.
	ID     string
	Thread string

	Class  Class
	Method Method

	InstanceIndex     int
	InstanceCount     int
	FactoryIndex      *int
	FactoryParameters []string

	Parameters      []string
	InvocationIndex int

	Err                error
	WillRetry          bool
	HasMoreInvocations bool
}

// Listener receives scheduler callbacks. Calls may arrive concurrently from
// any number of worker goroutines.
type Listener interface {
	OnBeforeClass(class Class)
	OnAfterClass(class Class)
	OnConfigurationFailure(r *Result)
	OnConfigurationSkip(r *Result)
	OnTestStart(r *Result)
	OnTestSuccess(r *Result)
	OnTestFailure(r *Result)
	OnTestSkipped(r *Result)
	OnTestFailedWithTimeout(r *Result)
	OnTestFailedWithinSuccessPercentage(r *Result)
}

// InvocationGuard is implemented by listeners that may veto an invocation
// right after it was reported started. A non-nil error makes the scheduler
// skip the invocation with that error as cause.
type InvocationGuard interface {
	BeforeInvocation(r *Result) error
}

// Plan restricts a run to a set of classes and methods
type Plan struct {
	// Classes run entirely
	Classes []string
	// Methods run selectively, keyed by class name
	Methods map[string][]string
	// DryRun reports every selected test as successful without running
	// configuration hooks
	DryRun bool
}

// Empty reports whether the plan selects everything
func (p Plan) Empty() bool {
	return len(p.Classes) == 0 && len(p.Methods) == 0
}

// IncludesClass reports whether any part of the class is selected
func (p Plan) IncludesClass(class string) bool {
	if p.Empty() || slices.Contains(p.Classes, class) {
		return true
	}
	_, ok := p.Methods[class]
	return ok
}

// IncludesMethod reports whether the method of class is selected
func (p Plan) IncludesMethod(class, method string) bool {
	if p.Empty() || slices.Contains(p.Classes, class) {
		return true
	}
	return slices.Contains(p.Methods[class], method)
}

// Scheduler runs a plan and reports progress to a listener
type Scheduler interface {
	Run(ctx context.Context, plan Plan, listener Listener) error
}
