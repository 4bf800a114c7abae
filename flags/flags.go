package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_TESTBRIDGE"

var (
	Events = &cli.StringFlag{
		Name:    "events",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EVENTS"),
		Usage:   "Path to the JSON-lines scheduler event log to replay",
	}
	Settings = &cli.StringFlag{
		Name:    "settings",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SETTINGS"),
		Usage:   "Path to the bridge settings file (eg. 'bridge.yaml')",
	}
	Select = &cli.StringSliceFlag{
		Name:    "select",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SELECT"),
		Usage:   "Unique id of a class, method or invocation to run (eg. '[engine:testng]/[class:com.example.A]'). May be repeated.",
		Action: func(_ *cli.Context, values []string) error {
			for _, v := range values {
				if _, err := types.ParseUniqueID(v); err != nil {
					return fmt.Errorf("invalid selector: %w", err)
				}
			}
			return nil
		},
	}
	EngineID = &cli.StringFlag{
		Name:    "engine-id",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ENGINE_ID"),
		Usage:   "Engine id of the reported tree, overrides the settings file",
	}
	LogDir = &cli.StringFlag{
		Name:    "log-dir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOG_DIR"),
		Usage:   "Directory to store run artifacts",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	Workers = &cli.IntFlag{
		Name:    "workers",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORKERS"),
		Usage:   "Number of recorded threads replayed concurrently (0 = one goroutine per thread)",
		Action: func(_ *cli.Context, v int) error {
			if v < 0 {
				return fmt.Errorf("workers must not be negative, got %d", v)
			}
			return nil
		},
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz-addr",
		Value:   "0.0.0.0:8080",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Listen address of the health endpoint, empty disables it",
	}
)

var requiredFlags = []cli.Flag{
	Events,
}

var optionalFlags = []cli.Flag{
	Settings,
	Select,
	EngineID,
	LogDir,
	RunInterval,
	Workers,
	HealthzAddr,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
