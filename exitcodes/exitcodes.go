// Package exitcodes defines the exit codes of op-testbridge.
package exitcodes

// Exit code constants:
//
// * Success (0): every reported test passed
// * TestFailure (1): a test failed or was aborted
// * RuntimeErr (2): the run itself failed, e.g. an unreadable event log or a panic
const (
	Success     = 0 // All tests pass
	TestFailure = 1 // Test failures
	RuntimeErr  = 2 // Runtime errors
)
