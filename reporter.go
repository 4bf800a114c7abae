package testbridge

import (
	"github.com/ethereum-optimism/infra/op-testbridge/engine"
	"github.com/ethereum-optimism/infra/op-testbridge/metrics"
)

// MetricsReporter is responsible for reporting metrics from run results.
type MetricsReporter interface {
	ReportResults(run *engine.RunResult)
}

// DefaultMetricsReporter implements the MetricsReporter interface.
type DefaultMetricsReporter struct {
	engineID string
}

// NewDefaultMetricsReporter creates a new DefaultMetricsReporter labelling runs with engineID.
func NewDefaultMetricsReporter(engineID string) *DefaultMetricsReporter {
	return &DefaultMetricsReporter{engineID: engineID}
}

// ReportResults reports the run results to metrics systems.
func (r *DefaultMetricsReporter) ReportResults(run *engine.RunResult) {
	stats := run.Tree.Stats
	metrics.RecordRun(
		r.engineID,
		run.RunID,
		RunStatus(run),
		stats.Total,
		stats.Passed,
		stats.Failed,
		run.Duration,
	)
}
