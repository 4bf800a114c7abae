package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "testbridge"
)

var (
	Debug                bool = true
	validResults              = []types.Status{types.StatusSuccessful, types.StatusAborted, types.StatusFailed}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	schedulerEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "scheduler_events_total",
		Help:      "Count of scheduler callbacks received",
	}, []string{
		"event",
	})

	reportEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "report_events_total",
		Help:      "Count of events emitted to the report sink",
	}, []string{
		"event",
		"kind",
	})

	nodeResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "node_results_total",
		Help:      "Count of terminal node results",
	}, []string{
		"kind",
		"result",
	})

	dynamicRegistrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "dynamic_registrations_total",
		Help:      "Count of nodes registered while executing",
	}, []string{
		"kind",
	})

	configurationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "configuration_failures_total",
		Help:      "Count of buffered configuration failures and skips",
	}, []string{
		"scope",
		"outcome",
	})

	cancelledInvocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "cancelled_invocations_total",
		Help:      "Count of invocations rejected after cancellation",
	})

	defensiveCompletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "defensive_completions_total",
		Help:      "Count of nodes force-finished because the scheduler never reported them",
	}, []string{
		"kind",
	})

	protocolViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "protocol_violations_total",
		Help:      "Count of dropped events that would break start/finish pairing",
	}, []string{
		"violation",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Engine result of a bridge run",
	}, []string{
		"engine",
		"run_id",
		"result",
	})

	runTestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests_total",
		Help:      "Total number of tests in a run",
	}, []string{
		"engine",
		"run_id",
	})

	runTestsPassed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests_passed",
		Help:      "Number of passed tests in a run",
	}, []string{
		"engine",
		"run_id",
	})

	runTestsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_tests_failed",
		Help:      "Number of failed tests in a run",
	}, []string{
		"engine",
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of a bridge run",
	}, []string{
		"engine",
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordSchedulerEvent(event string) {
	schedulerEventsTotal.WithLabelValues(event).Inc()
}

func RecordReportEvent(event string, kind types.NodeKind) {
	reportEventsTotal.WithLabelValues(event, string(kind)).Inc()
}

func RecordNodeResult(kind types.NodeKind, result types.Status) {
	if !isValidResult(result) {
		log.Error("RecordNodeResult - invalid result", "result", result)
		return
	}
	nodeResultsTotal.WithLabelValues(string(kind), string(result)).Inc()
}

func RecordDynamicRegistration(kind types.NodeKind) {
	if Debug {
		log.Debug("metric inc",
			"m", "dynamic_registrations_total",
			"kind", kind,
		)
	}
	dynamicRegistrationsTotal.WithLabelValues(string(kind)).Inc()
}

func RecordConfigurationFailure(scope types.FailureScope, outcome types.FailureOutcome) {
	configurationFailuresTotal.WithLabelValues(string(scope), string(outcome)).Inc()
}

func RecordCancelledInvocation() {
	cancelledInvocationsTotal.Inc()
}

func RecordDefensiveCompletion(kind types.NodeKind) {
	defensiveCompletionsTotal.WithLabelValues(string(kind)).Inc()
}

func RecordProtocolViolation(violation string) {
	if Debug {
		log.Debug("metric inc",
			"m", "protocol_violations_total",
			"violation", violation,
		)
	}
	protocolViolationsTotal.WithLabelValues(violation).Inc()
}

func RecordRun(
	engine string,
	runID string,
	result types.Status,
	total int,
	passed int,
	failed int,
	duration time.Duration,
) {
	if !isValidResult(result) {
		log.Error("RecordRun - invalid result", "result", result)
		return
	}
	runResults.WithLabelValues(engine, runID, string(result)).Set(1)
	runTestsTotal.WithLabelValues(engine, runID).Add(float64(total))
	runTestsPassed.WithLabelValues(engine, runID).Add(float64(passed))
	runTestsFailed.WithLabelValues(engine, runID).Add(float64(failed))
	runDuration.WithLabelValues(engine, runID).Set(duration.Seconds())
}

func isValidResult(result types.Status) bool {
	return slices.Contains(validResults, result)
}
