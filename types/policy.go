package types

import "fmt"

// FailureScope is the widest node a configuration failure is attributed to
type FailureScope string

const (
	ScopeClass  FailureScope = "class"
	ScopeEngine FailureScope = "engine"
)

// FailureOutcome is how the scheduler classified a configuration hook result
type FailureOutcome string

const (
	OutcomeFailure FailureOutcome = "failure"
	OutcomeSkip    FailureOutcome = "skip"
)

// Classification is the terminal status a buffered outcome maps to
type Classification string

const (
	ClassifyFailed              Classification = "failed"
	ClassifyAborted             Classification = "aborted"
	ClassifyAbortedWithoutCause Classification = "aborted-without-cause"
)

// Policy maps a scope and outcome to a classification. Missing entries fall
// back to DefaultPolicy.
type Policy map[FailureScope]map[FailureOutcome]Classification

// DefaultPolicy reports failures as failed and skips as aborted at every scope
func DefaultPolicy() Policy {
	return Policy{
		ScopeClass: {
			OutcomeFailure: ClassifyFailed,
			OutcomeSkip:    ClassifyAborted,
		},
		ScopeEngine: {
			OutcomeFailure: ClassifyFailed,
			OutcomeSkip:    ClassifyAborted,
		},
	}
}

// Classify looks up the classification for scope and outcome
func (p Policy) Classify(scope FailureScope, outcome FailureOutcome) Classification {
	if c, ok := p[scope][outcome]; ok {
		return c
	}
	return DefaultPolicy()[scope][outcome]
}

// Validate checks that every entry names a known scope, outcome and classification
func (p Policy) Validate() error {
	for scope, outcomes := range p {
		if scope != ScopeClass && scope != ScopeEngine {
			return fmt.Errorf("unknown failure scope %q", scope)
		}
		for outcome, c := range outcomes {
			if outcome != OutcomeFailure && outcome != OutcomeSkip {
				return fmt.Errorf("unknown outcome %q for scope %q", outcome, scope)
			}
			switch c {
			case ClassifyFailed, ClassifyAborted, ClassifyAbortedWithoutCause:
			default:
				return fmt.Errorf("unknown classification %q for %s/%s", c, scope, outcome)
			}
		}
	}
	return nil
}

// Result converts a classification and its composed cause into a result
func (c Classification) Result(cause error) ExecutionResult {
	switch c {
	case ClassifyFailed:
		if cause == nil {
			return Aborted(nil)
		}
		return Failed(cause)
	case ClassifyAbortedWithoutCause:
		return Aborted(nil)
	default:
		return Aborted(cause)
	}
}
