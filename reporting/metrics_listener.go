package reporting

import (
	"github.com/ethereum-optimism/infra/op-testbridge/metrics"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

// MetricsListener counts report events and terminal results per node kind
type MetricsListener struct{}

var _ Listener = MetricsListener{}

// NewMetricsListener creates a metrics listener
func NewMetricsListener() MetricsListener {
	return MetricsListener{}
}

func (MetricsListener) DynamicTestRegistered(node *types.Node) {
	metrics.RecordReportEvent(string(EventRegistered), node.Kind)
}

func (MetricsListener) ExecutionStarted(node *types.Node) {
	metrics.RecordReportEvent(string(EventStarted), node.Kind)
}

func (MetricsListener) ExecutionSkipped(node *types.Node, reason string) {
	metrics.RecordReportEvent(string(EventSkipped), node.Kind)
}

func (MetricsListener) ExecutionFinished(node *types.Node, result types.ExecutionResult) {
	metrics.RecordReportEvent(string(EventFinished), node.Kind)
	metrics.RecordNodeResult(node.Kind, result.Status)
}

func (MetricsListener) ReportingEntryPublished(node *types.Node, entry types.ReportEntry) {
	metrics.RecordReportEvent(string(EventEntry), node.Kind)
}
