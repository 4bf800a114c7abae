package testbridge

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-testbridge/engine"
	"github.com/ethereum-optimism/infra/op-testbridge/logging"
	"github.com/ethereum-optimism/infra/op-testbridge/reporting"
	"github.com/ethereum-optimism/infra/op-testbridge/scheduler"
)

// RunExecutor is responsible for executing one bridge run.
type RunExecutor interface {
	Execute(ctx context.Context) (*engine.RunResult, error)
}

// ReplayExecutor replays the configured event log through a fresh engine on
// every run and writes the run artifacts below the log directory.
type ReplayExecutor struct {
	config *Config
	tracer trace.Tracer
	logger log.Logger
}

var _ RunExecutor = (*ReplayExecutor)(nil)

// NewReplayExecutor creates a new ReplayExecutor.
func NewReplayExecutor(config *Config, logger log.Logger) *ReplayExecutor {
	return &ReplayExecutor{
		config: config,
		tracer: otel.Tracer("op-testbridge"),
		logger: logger,
	}
}

// Execute runs the event log once. Failing to read the log or to write the
// artifacts is a RuntimeError, failed tests are not an error.
func (e *ReplayExecutor) Execute(ctx context.Context) (*engine.RunResult, error) {
	events, err := scheduler.ReadEventsFile(e.config.EventsFile)
	if err != nil {
		return nil, NewRuntimeError(err)
	}

	runID := uuid.New().String()
	logger := e.logger.New("run_id", runID)
	logger.Info("Replaying event log", "events", len(events), "file", e.config.EventsFile)

	fileLogger, err := logging.NewFileLogger(logger, e.config.LogDir, runID)
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to create run directory: %w", err))
	}
	defer fileLogger.Close()

	eng, err := engine.New(engine.Config{
		Log:      logger,
		Settings: e.config.Settings,
		Scheduler: scheduler.NewReplay(scheduler.ReplayConfig{
			Log:     logger,
			Events:  events,
			Workers: e.config.Workers,
		}),
		Listener: reporting.Multi{
			fileLogger.EventSink(),
			reporting.NewTracingListener(ctx, e.tracer),
		},
		Selectors: e.config.Selectors,
		RunID:     runID,
	})
	if err != nil {
		return nil, NewRuntimeError(err)
	}

	run, err := eng.Execute(ctx)
	if err != nil {
		logger.Error("Error executing run", "error", err)
		return nil, NewRuntimeError(err)
	}
	if err := fileLogger.Complete(run.Tree); err != nil {
		return nil, NewRuntimeError(fmt.Errorf("failed to write run artifacts: %w", err))
	}

	logger.Info("Run completed", "status", RunStatus(run), "dir", fileLogger.GetDirectory())
	return run, nil
}
