package testbridge

import (
	"fmt"
	"time"

	"github.com/ethereum-optimism/infra/op-testbridge/engine"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

// RunStatus folds the engine result and the test counts of a run into one
// status: an engine failure wins, then failed tests, then aborted tests.
func RunStatus(run *engine.RunResult) types.Status {
	if run.Result.Status != types.StatusSuccessful {
		return run.Result.Status
	}
	if run.Tree != nil {
		if run.Tree.Stats.Failed > 0 {
			return types.StatusFailed
		}
		if run.Tree.Stats.Aborted > 0 {
			return types.StatusAborted
		}
	}
	return types.StatusSuccessful
}

// getResultString returns a marked string representing a run status
func getResultString(status types.Status) string {
	switch status {
	case types.StatusSuccessful:
		return "✓ successful"
	case types.StatusAborted:
		return "⚠ aborted"
	default:
		return "✗ failed"
	}
}

// summarize renders the one line summary of a run
func summarize(run *engine.RunResult) string {
	stats := run.Tree.Stats
	line := fmt.Sprintf("Run %s %s in %s: %d tests, %d passed, %d failed, %d aborted, %d skipped",
		run.RunID, getResultString(RunStatus(run)), formatDuration(run.Duration),
		stats.Total, stats.Passed, stats.Failed, stats.Aborted, stats.Skipped)
	if run.Result.Cause != nil {
		line += fmt.Sprintf(" (engine: %v)", run.Result.Cause)
	}
	return line
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
