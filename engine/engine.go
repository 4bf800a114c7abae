// Package engine drives one bridge run: discovery, plan derivation and
// execution with the engine-level started and finished events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/ethereum-optimism/infra/op-testbridge/cancel"
	"github.com/ethereum-optimism/infra/op-testbridge/registry"
	"github.com/ethereum-optimism/infra/op-testbridge/reporting"
	"github.com/ethereum-optimism/infra/op-testbridge/scheduler"
	"github.com/ethereum-optimism/infra/op-testbridge/translator"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
)

// Config contains the collaborators of an Engine
type Config struct {
	Log       log.Logger
	Settings  *types.Settings
	Scheduler scheduler.Scheduler
	// Listener receives the report events of the run, it may be nil
	Listener reporting.Listener
	// Selectors restrict the run to the selected nodes, empty runs everything
	Selectors []types.Selector
	Cancel    *cancel.Coordinator
	RunID     string
}

// Engine executes a scheduler run and reports it. An Engine is used for a
// single run.
type Engine struct {
	log       log.Logger
	settings  *types.Settings
	scheduler scheduler.Scheduler
	listener  reporting.Listener
	selectors []types.Selector
	cancel    *cancel.Coordinator
	runID     string

	registry   *registry.Registry
	discovered bool
	// classes selected without a method restriction
	wholeClasses map[string]bool
}

// RunResult is the outcome of Engine.Execute
type RunResult struct {
	RunID    string
	Result   types.ExecutionResult
	Tree     *types.TestTree
	Duration time.Duration
	// Violations holds the pairing problems found in the recorded stream
	Violations error
}

// New creates an engine
func New(cfg Config) (*Engine, error) {
	if cfg.Scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Settings == nil {
		cfg.Settings = types.DefaultSettings()
	}
	if cfg.Cancel == nil {
		cfg.Cancel = cancel.NewCoordinator()
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}

	filter, err := cfg.Settings.ClassFilter()
	if err != nil {
		return nil, fmt.Errorf("invalid class filter: %w", err)
	}
	reg, err := registry.NewRegistry(registry.Config{
		Log:               cfg.Log,
		EngineID:          cfg.Settings.Engine.ID,
		EngineDisplayName: cfg.Settings.Engine.DisplayName,
		ClassFilter:       filter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}
	for _, sel := range cfg.Selectors {
		if sel.ClassName == "" {
			return nil, fmt.Errorf("selector %s does not name a class", sel)
		}
	}

	return &Engine{
		log:          cfg.Log.New("run_id", cfg.RunID),
		settings:     cfg.Settings,
		scheduler:    cfg.Scheduler,
		listener:     cfg.Listener,
		selectors:    cfg.Selectors,
		cancel:       cfg.Cancel,
		runID:        cfg.RunID,
		registry:     reg,
		wholeClasses: make(map[string]bool),
	}, nil
}

// Registry returns the node registry of this run
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Discover builds the static tree with a dry run of the scheduler and
// narrows it to the configured selectors
func (e *Engine) Discover(ctx context.Context) (*types.Node, error) {
	discovery := translator.NewDiscoveryListener(e.log, e.registry)
	plan := scheduler.Plan{DryRun: true}
	if err := e.scheduler.Run(ctx, plan, discovery); err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	root := discovery.Finalize()
	e.applySelectors()
	e.discovered = true

	e.log.Info("Discovery complete", "classes", root.ChildCount())
	return root, nil
}

// applySelectors detaches every class and method no selector names
func (e *Engine) applySelectors() {
	for _, class := range e.registry.Classes() {
		if len(e.selectors) == 0 {
			e.wholeClasses[class.Name] = true
			continue
		}

		var matching []types.Selector
		for _, sel := range e.selectors {
			if sel.ClassName == class.Name {
				matching = append(matching, sel)
			}
		}
		if len(matching) == 0 {
			e.detach(class.Node)
			continue
		}
		if slices.ContainsFunc(matching, func(s types.Selector) bool { return !s.HasMethod() }) {
			e.wholeClasses[class.Name] = true
			continue
		}

		for _, method := range class.Methods() {
			if !slices.ContainsFunc(matching, func(s types.Selector) bool { return selects(s, method) }) {
				e.detach(method)
			}
		}
		if class.Node.ChildCount() == 0 {
			e.detach(class.Node)
		}
	}
}

func (e *Engine) detach(node *types.Node) {
	if err := e.registry.Detach(node); err != nil {
		e.log.Warn("Failed to detach unselected node", "node", node.ID.String(), "err", err)
	}
}

// selects reports whether a method selector names method. Invocation
// selectors select their whole method.
func selects(sel types.Selector, method *types.Node) bool {
	if sel.MethodName != method.MethodName {
		return false
	}
	if !slices.Equal(sel.ParameterTypes, method.ParameterTypes) {
		return false
	}
	return sel.InstanceIndex < 0 || sel.InstanceIndex == method.InstanceIndex
}

// Plan derives the scheduler plan from the discovered tree: classes selected
// entirely run entirely, the others run their remaining methods by name
func (e *Engine) Plan() scheduler.Plan {
	plan := scheduler.Plan{Methods: make(map[string][]string)}
	for _, class := range e.registry.Classes() {
		if e.wholeClasses[class.Name] {
			plan.Classes = append(plan.Classes, class.Name)
			continue
		}
		var names []string
		for _, method := range class.Methods() {
			if !slices.Contains(names, method.MethodName) {
				names = append(names, method.MethodName)
			}
		}
		sort.Strings(names)
		plan.Methods[class.Name] = names
	}
	return plan
}

// Execute runs the plan and reports it. Cancelling ctx does not stop the
// scheduler, it raises the cancellation signal so remaining invocations are
// aborted and every started node still receives its terminal event.
func (e *Engine) Execute(ctx context.Context) (*RunResult, error) {
	if !e.discovered {
		if _, err := e.Discover(ctx); err != nil {
			return nil, err
		}
	}

	recorder := reporting.NewRecorder()
	sink := reporting.Multi{recorder, reporting.NewMetricsListener()}
	if e.listener != nil {
		sink = append(sink, e.listener)
	}
	bridge, err := translator.NewExecutionListener(translator.Config{
		Log:      e.log,
		Registry: e.registry,
		Listener: sink,
		Cancel:   e.cancel,
		Policy:   e.settings.Policy,
	})
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, e.cancel.Cancel)
	defer stop()
	if ctx.Err() != nil {
		e.cancel.Cancel()
	}

	start := time.Now()
	root := e.registry.Engine()
	reporter := bridge.Reporter()
	reporter.ExecutionStarted(root)

	var runErr error
	if root.ChildCount() > 0 {
		listener := scheduler.Multi{scheduler.NewLoggingListener(e.log), bridge}
		runErr = e.scheduler.Run(context.WithoutCancel(ctx), e.Plan(), listener)
	} else {
		e.log.Warn("No classes to execute")
	}
	bridge.FinishOpenClasses()

	result := bridge.EngineResult()
	if runErr != nil {
		e.log.Error("Scheduler run failed", "err", runErr)
		result = types.Failed(types.Chain(runErr, result.Cause))
	}
	reporter.ExecutionFinished(root, result)

	run := &RunResult{
		RunID:      e.runID,
		Result:     result,
		Tree:       types.NewTestTreeBuilder().BuildFromOutcomes(recorder.Outcomes(), e.runID),
		Duration:   time.Since(start),
		Violations: recorder.Validate(),
	}
	if run.Violations != nil {
		e.log.Warn("Recorded report stream is not well paired", "err", run.Violations)
	}
	e.log.Info("Execution complete", "result", result.Status, "duration", run.Duration)
	return run, nil
}
