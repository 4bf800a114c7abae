// Package testbridge runs the execution event bridge as a service: every run
// replays a recorded scheduler event log through a fresh engine, prints the
// result tree and records run metrics.
package testbridge

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"

	"github.com/ethereum-optimism/infra/op-testbridge/engine"
	"github.com/ethereum-optimism/infra/op-testbridge/exitcodes"
	"github.com/ethereum-optimism/infra/op-testbridge/metrics"
	"github.com/ethereum-optimism/infra/op-testbridge/service"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

// bridge implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &bridge{}

// bridge replays scheduler event logs on a schedule.
type bridge struct {
	config    *Config
	version   string
	executor  RunExecutor
	formatter ResultFormatter
	reporter  MetricsReporter
	scheduler RunScheduler
	service   *service.Service

	mu     sync.Mutex
	result *engine.RunResult

	shutdownCallback func(error) // Callback to signal application shutdown
}

// Components lets callers replace the collaborators of a bridge, nil fields
// use the defaults derived from the config
type Components struct {
	Executor  RunExecutor
	Formatter ResultFormatter
	Reporter  MetricsReporter
	Scheduler RunScheduler
	Service   *service.Service
}

func New(config *Config, version string, shutdownCallback func(error)) (*bridge, error) {
	return NewWithComponents(config, version, shutdownCallback, Components{})
}

func NewWithComponents(config *Config, version string, shutdownCallback func(error), c Components) (*bridge, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Settings == nil {
		config.Settings = types.DefaultSettings()
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	config.Log.Debug("Creating bridge with config",
		"events", config.EventsFile,
		"settings", config.SettingsFile,
		"selectors", len(config.Selectors),
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"workers", config.Workers)

	if c.Executor == nil {
		c.Executor = NewReplayExecutor(config, config.Log)
	}
	if c.Formatter == nil {
		c.Formatter = NewConsoleResultFormatter(config.Log, os.Stdout)
	}
	if c.Reporter == nil {
		c.Reporter = NewDefaultMetricsReporter(config.Settings.Engine.ID)
	}
	if c.Scheduler == nil {
		c.Scheduler = NewDefaultRunScheduler(config.RunInterval, config.RunOnce, config.Log)
	}
	if c.Service == nil {
		c.Service = service.New(service.Config{
			HealthzAddr:    config.HealthzAddr,
			MetricsEnabled: config.Metrics.Enabled,
			MetricsHost:    config.Metrics.ListenAddr,
			MetricsPort:    config.Metrics.ListenPort,
			Log:            config.Log,
		})
	}

	b := &bridge{
		config:           config,
		version:          version,
		executor:         c.Executor,
		formatter:        c.Formatter,
		reporter:         c.Reporter,
		scheduler:        c.Scheduler,
		service:          c.Service,
		shutdownCallback: shutdownCallback,
	}
	b.scheduler.RegisterCallback(b.runOnce)
	return b, nil
}

// Start runs the event log immediately and, unless in run-once mode,
// periodically at the configured interval.
// Start implements the cliapp.Lifecycle interface.
func (b *bridge) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			b.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	if b.config.RunOnce {
		b.config.Log.Info("Starting op-testbridge in run-once mode", "version", b.version)
	} else {
		b.config.Log.Info("Starting op-testbridge in continuous mode", "version", b.version, "interval", b.config.RunInterval)
	}
	b.service.Start(ctx)

	if err := b.scheduler.Start(ctx); err != nil {
		b.config.Log.Error("Runtime error running bridge", "error", err)
		b.service.Shutdown(ctx)
		if !IsRuntimeError(err) {
			err = NewRuntimeError(err)
		}
		return err
	}

	if b.config.RunOnce {
		b.config.Log.Info("Run completed, exiting (run-once mode)")

		if result := b.LastResult(); result != nil {
			if status := RunStatus(result); status != types.StatusSuccessful {
				b.config.Log.Warn("Run-once run completed with failures, returning exit code 1", "status", status)
				b.service.Shutdown(ctx)
				return NewTestFailureError(result.RunID, status, summarize(result))
			}
		}

		go func() {
			b.shutdownCallback(nil)
		}()
		return nil
	}

	b.config.Log.Debug("op-testbridge started successfully")
	return nil
}

// runOnce executes one run and processes the results
func (b *bridge) runOnce(ctx context.Context) error {
	run, err := b.executor.Execute(ctx)
	if err != nil {
		metrics.RecordErrorDetails("run", err)
		return err
	}

	b.mu.Lock()
	b.result = run
	b.mu.Unlock()

	if err := b.formatter.FormatResults(run); err != nil {
		b.config.Log.Warn("Failed to print results", "error", err)
	}
	b.reporter.ReportResults(run)
	b.config.Log.Info("Run processed", "run_id", run.RunID, "status", RunStatus(run))
	return nil
}

// LastResult returns the result of the most recent completed run
func (b *bridge) LastResult() *engine.RunResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}

// Stop stops the op-testbridge service.
// Stop implements the cliapp.Lifecycle interface.
func (b *bridge) Stop(ctx context.Context) error {
	b.config.Log.Info("Stopping op-testbridge")

	if b.scheduler.Stopped() {
		b.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	if err := b.scheduler.Stop(); err != nil {
		return err
	}
	waitErr := b.scheduler.WaitForShutdown(ctx)
	b.service.Shutdown(ctx)

	b.config.Log.Info("op-testbridge stopped")
	return waitErr
}

// Stopped returns true if the op-testbridge service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (b *bridge) Stopped() bool {
	return b.scheduler.Stopped()
}
