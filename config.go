package testbridge

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-testbridge/flags"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum/go-ethereum/log"
)

// Config holds the application configuration
type Config struct {
	EventsFile   string            // JSON-lines scheduler event log replayed by every run
	SettingsFile string            // Optional bridge settings file
	Settings     *types.Settings   // Effective settings, defaults when no file is given
	Selectors    []types.Selector  // Nodes to run, empty runs everything
	LogDir       string            // Directory to store run artifacts
	RunInterval  time.Duration     // Interval between runs
	RunOnce      bool              // Indicates if the service should exit after one run
	Workers      int               // Replay concurrency, 0 = one goroutine per recorded thread
	HealthzAddr  string            // Listen address of the health endpoint, empty disables it
	Metrics      opmetrics.CLIConfig
	Log          log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	eventsFile := ctx.String(flags.Events.Name)
	if eventsFile == "" {
		return nil, errors.New("event log is required")
	}
	absEventsFile, err := filepath.Abs(eventsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for event log '%s': %w", eventsFile, err)
	}

	settings := types.DefaultSettings()
	settingsFile := ctx.String(flags.Settings.Name)
	if settingsFile != "" {
		settingsFile, err = filepath.Abs(settingsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for settings '%s': %w", settingsFile, err)
		}
		settings, err = types.LoadSettings(settingsFile)
		if err != nil {
			return nil, err
		}
	}
	if engineID := ctx.String(flags.EngineID.Name); engineID != "" {
		settings.Engine.ID = engineID
	}

	selectors, err := parseSelectors(ctx.StringSlice(flags.Select.Name))
	if err != nil {
		return nil, err
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	// Get log directory, default to "logs" if not specified
	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	workers := ctx.Int(flags.Workers.Name)
	if workers < 0 {
		return nil, fmt.Errorf("workers must not be negative, got %d", workers)
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	return &Config{
		EventsFile:   absEventsFile,
		SettingsFile: settingsFile,
		Settings:     settings,
		Selectors:    selectors,
		LogDir:       logDir,
		RunInterval:  runInterval,
		RunOnce:      runOnce,
		Workers:      workers,
		HealthzAddr:  ctx.String(flags.HealthzAddr.Name),
		Metrics:      metricsCfg,
		Log:          log,
	}, nil
}

// parseSelectors turns unique id strings into scheduler selectors
func parseSelectors(values []string) ([]types.Selector, error) {
	var selectors []types.Selector
	for _, v := range values {
		id, err := types.ParseUniqueID(v)
		if err != nil {
			return nil, fmt.Errorf("invalid selector '%s': %w", v, err)
		}
		sel, err := types.SelectorFromID(id)
		if err != nil {
			return nil, fmt.Errorf("invalid selector '%s': %w", v, err)
		}
		selectors = append(selectors, sel)
	}
	return selectors, nil
}
