// Package translator turns scheduler callbacks into the paired report protocol.
package translator

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-testbridge/cancel"
	"github.com/ethereum-optimism/infra/op-testbridge/metrics"
	"github.com/ethereum-optimism/infra/op-testbridge/registry"
	"github.com/ethereum-optimism/infra/op-testbridge/reporting"
	"github.com/ethereum-optimism/infra/op-testbridge/scheduler"
	"github.com/ethereum-optimism/infra/op-testbridge/tracker"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
	"github.com/ethereum/go-ethereum/log"
)

// UnknownSkipReason is reported for tests skipped before they ever started
const UnknownSkipReason = "<unknown>"

// Config contains the collaborators of an ExecutionListener
type Config struct {
	Log      log.Logger
	Registry *registry.Registry
	Listener reporting.Listener
	Cancel   *cancel.Coordinator
	Policy   types.Policy
}

// ExecutionListener is the event translator used while executing. It is safe
// for concurrent use by any number of scheduler worker goroutines.
type ExecutionListener struct {
	log      log.Logger
	registry *registry.Registry
	sink     reporting.Listener
	cancel   *cancel.Coordinator
	policy   types.Policy

	classes      *tracker.Tracker[*registry.ClassEntry]
	openClasses  sync.Map // class name -> *registry.ClassEntry
	progress     sync.Map // method node id -> *methodProgress
	classBuckets sync.Map // class name -> *bucket
	engineBucket bucket
}

var (
	_ scheduler.Listener        = (*ExecutionListener)(nil)
	_ scheduler.InvocationGuard = (*ExecutionListener)(nil)
)

// NewExecutionListener creates a translator emitting to cfg.Listener
func NewExecutionListener(cfg Config) (*ExecutionListener, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Listener == nil {
		return nil, errors.New("report listener is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Cancel == nil {
		cfg.Cancel = cancel.NewCoordinator()
	}
	if cfg.Policy == nil {
		cfg.Policy = types.DefaultPolicy()
	}
	return &ExecutionListener{
		log:      cfg.Log.New("component", "translator"),
		registry: cfg.Registry,
		sink:     reporting.NewProtocolGuard(cfg.Log, cfg.Listener),
		cancel:   cfg.Cancel,
		policy:   cfg.Policy,
		classes:  tracker.New[*registry.ClassEntry](),
	}, nil
}

// Reporter returns the guarded sink all events of this listener go through.
// Engine level events must be sent through it as well so nesting is checked
// against the same state.
func (l *ExecutionListener) Reporter() reporting.Listener {
	return l.sink
}

// BeforeInvocation rejects new invocations once cancellation was requested
func (l *ExecutionListener) BeforeInvocation(r *scheduler.Result) error {
	if err := l.cancel.Check(); err != nil {
		metrics.RecordCancelledInvocation()
		l.log.Debug("Rejecting invocation after cancellation", "class", r.Class.Name, "method", r.Method.Name)
		return err
	}
	return nil
}

func (l *ExecutionListener) OnBeforeClass(class scheduler.Class) {
	metrics.RecordSchedulerEvent(string(scheduler.EventBeforeClass))
	l.classes.Begin(class.Name, func() (*registry.ClassEntry, bool) {
		_, lookupErr := l.registry.Class(class.Name)
		entry, err := l.registry.CreateClass(class.Name)
		if err != nil {
			l.log.Debug("Ignoring class", "class", class.Name, "reason", err)
			return nil, false
		}
		if lookupErr != nil {
			metrics.RecordDynamicRegistration(types.KindClass)
			l.sink.DynamicTestRegistered(entry.Node)
		}
		l.sink.ExecutionStarted(entry.Node)
		l.openClasses.Store(class.Name, entry)
		return entry, true
	})
}

func (l *ExecutionListener) OnAfterClass(class scheduler.Class) {
	metrics.RecordSchedulerEvent(string(scheduler.EventAfterClass))
	l.classes.End(class.Name,
		func(entry *registry.ClassEntry) bool { return entry.CompleteRound() },
		l.finishClass,
	)
}

// finishClass completes a started class exactly once: open methods first,
// then the class itself with its buffered configuration outcomes
func (l *ExecutionListener) finishClass(entry *registry.ClassEntry) {
	if _, open := l.openClasses.LoadAndDelete(entry.Name); !open {
		return
	}
	l.finishOpenMethods(entry)
	var records []failureRecord
	if b, ok := l.classBuckets.LoadAndDelete(entry.Name); ok {
		records = b.(*bucket).drain()
	}
	l.sink.ExecutionFinished(entry.Node, compose(records, types.ScopeClass, l.policy))
}

// FinishOpenClasses force-finishes every class the scheduler started but
// never completed. It is called once the scheduler returned.
func (l *ExecutionListener) FinishOpenClasses() {
	var open []*registry.ClassEntry
	l.openClasses.Range(func(_, v any) bool {
		open = append(open, v.(*registry.ClassEntry))
		return true
	})
	sort.Slice(open, func(i, j int) bool { return open[i].Name < open[j].Name })
	for _, entry := range open {
		metrics.RecordDefensiveCompletion(types.KindClass)
		l.log.Warn("Force-finishing class the scheduler never completed", "class", entry.Name)
		l.finishClass(entry)
	}
}

func (l *ExecutionListener) OnConfigurationFailure(r *scheduler.Result) {
	metrics.RecordSchedulerEvent(string(scheduler.EventConfigurationFailure))
	l.recordConfiguration(r, types.OutcomeFailure)
}

func (l *ExecutionListener) OnConfigurationSkip(r *scheduler.Result) {
	metrics.RecordSchedulerEvent(string(scheduler.EventConfigurationSkip))
	l.recordConfiguration(r, types.OutcomeSkip)
}

// recordConfiguration buffers a configuration outcome at class scope when the
// class is live, at engine scope otherwise
func (l *ExecutionListener) recordConfiguration(r *scheduler.Result, outcome types.FailureOutcome) {
	scope := types.ScopeEngine
	target := &l.engineBucket
	if r.Class.Name != "" {
		if _, live := l.classes.Get(r.Class.Name); live {
			scope = types.ScopeClass
			actual, _ := l.classBuckets.LoadOrStore(r.Class.Name, &bucket{})
			target = actual.(*bucket)
		}
	}
	target.add(r.Err, outcome)
	metrics.RecordConfigurationFailure(scope, outcome)
	l.log.Debug("Buffered configuration outcome",
		"scope", scope, "outcome", outcome, "class", r.Class.Name, "method", r.Method.Name, "err", r.Err)
}

func (l *ExecutionListener) OnTestStart(r *scheduler.Result) {
	metrics.RecordSchedulerEvent(string(scheduler.EventTestStart))
	l.testStarted(r)
}

func (l *ExecutionListener) testStarted(r *scheduler.Result) {
	p, err := l.methodProgress(r)
	if err != nil {
		l.dropEvent(scheduler.EventTestStart, r, err)
		return
	}
	index := p.nextIndex.Add(1) - 1
	if index == 0 {
		l.reportStarted(p, r)
	}
	// the first caller is reporting the method start, nothing below it may
	// be reported before that completes
	<-p.started
	if p.node.IsContainer() {
		l.startInvocation(p, r, int(index))
	}
}

func (l *ExecutionListener) OnTestSuccess(r *scheduler.Result) {
	metrics.RecordSchedulerEvent(string(scheduler.EventTestSuccess))
	l.testFinished(scheduler.EventTestSuccess, r, types.Successful())
}

func (l *ExecutionListener) OnTestFailure(r *scheduler.Result) {
	metrics.RecordSchedulerEvent(string(scheduler.EventTestFailure))
	l.testFinished(scheduler.EventTestFailure, r, types.Failed(r.Err))
}

func (l *ExecutionListener) OnTestFailedWithTimeout(r *scheduler.Result) {
	metrics.RecordSchedulerEvent(string(scheduler.EventTestFailedWithTimeout))
	cause := r.Err
	if cause == nil {
		cause = errors.New("test timed out")
	}
	l.testFinished(scheduler.EventTestFailedWithTimeout, r, types.Failed(cause))
}

func (l *ExecutionListener) OnTestFailedWithinSuccessPercentage(r *scheduler.Result) {
	metrics.RecordSchedulerEvent(string(scheduler.EventTestFailedWithinSuccessPercentage))
	l.testFinished(scheduler.EventTestFailedWithinSuccessPercentage, r, types.Successful())
}

func (l *ExecutionListener) OnTestSkipped(r *scheduler.Result) {
	metrics.RecordSchedulerEvent(string(scheduler.EventTestSkipped))
	p, err := l.methodProgress(r)
	if err != nil {
		l.dropEvent(scheduler.EventTestSkipped, r, err)
		return
	}
	if r.Err == nil {
		// never started and no cause: skipped without a started event,
		// decided inside the started gate
		closed := false
		if p.start(func() {
			if _, closed = p.closeOpen(); closed {
				l.sink.ExecutionSkipped(p.node, UnknownSkipReason)
			}
		}) {
			if !closed {
				l.dropEvent(scheduler.EventTestSkipped, r, errors.New("method already finished"))
			}
			return
		}
	}
	l.testFinished(scheduler.EventTestSkipped, r, types.Aborted(r.Err))
}

// testFinished reports the terminal result of one invocation, starting the
// method or invocation first when the scheduler never reported its start
func (l *ExecutionListener) testFinished(event scheduler.EventKind, r *scheduler.Result, result types.ExecutionResult) {
	p, err := l.methodProgress(r)
	if err != nil {
		l.dropEvent(event, r, err)
		return
	}

	if !p.node.IsContainer() {
		if !p.isStarted() {
			l.testStarted(r)
		}
		p.mu.Lock()
		done := p.finished
		p.finished = true
		p.mu.Unlock()
		if done {
			l.dropEvent(event, r, errors.New("method already finished"))
			return
		}
		l.sink.ExecutionFinished(p.node, result)
		return
	}

	key := registry.InvocationKey(r)
	p.mu.Lock()
	_, known := p.invocations[key]
	p.mu.Unlock()
	if !known {
		l.testStarted(r)
	}

	p.mu.Lock()
	inv, ok := p.invocations[key]
	if !ok {
		p.mu.Unlock()
		l.dropEvent(event, r, errors.New("invocation was not started"))
		return
	}
	delete(p.invocations, key)
	if !r.WillRetry && !r.HasMoreInvocations {
		p.exhausted = true
	}
	p.mu.Unlock()

	l.sink.ExecutionFinished(inv, result)

	// the live count drops only after the invocation's terminal event so the
	// container can never finish ahead of it
	p.mu.Lock()
	p.live--
	finishContainer := p.exhausted && p.live == 0 && !p.finished
	if finishContainer {
		p.finished = true
	}
	p.mu.Unlock()

	if finishContainer {
		l.sink.ExecutionFinished(p.node, types.Successful())
	}
}

// methodProgress resolves the progress of the method a result belongs to,
// creating and announcing the method node when it was not discovered
func (l *ExecutionListener) methodProgress(r *scheduler.Result) (*methodProgress, error) {
	class, live := l.classes.Get(r.Class.Name)
	if !live {
		return nil, fmt.Errorf("class %s is not running: %w", r.Class.Name, registry.ErrNotFound)
	}

	key := registry.MethodKey(r)
	node, err := l.registry.LookupMethod(class, key)
	if errors.Is(err, registry.ErrNotFound) {
		node, _ = l.registry.ComputeMethod(class, key,
			func() *types.Node { return registry.NewMethodNode(class.Node, r) },
			func(n *types.Node) {
				metrics.RecordDynamicRegistration(types.KindMethod)
				l.sink.DynamicTestRegistered(n)
			},
		)
	} else if err != nil {
		return nil, err
	}

	actual, _ := l.progress.LoadOrStore(node.ID.String(), newMethodProgress(node, class))
	return actual.(*methodProgress), nil
}

// reportStarted emits the method start and its report entries, then opens
// the started gate
func (l *ExecutionListener) reportStarted(p *methodProgress, r *scheduler.Result) {
	p.start(func() {
		l.sink.ExecutionStarted(p.node)
		if description := strings.TrimSpace(r.Method.Description); description != "" {
			l.sink.ReportingEntryPublished(p.node, types.NewReportEntry("description", description))
		}
		if len(r.Method.Attributes) > 0 {
			entry := types.ReportEntry{Timestamp: time.Now(), Values: make(map[string]string, len(r.Method.Attributes))}
			for k, values := range r.Method.Attributes {
				entry.Values[k] = strings.Join(values, ", ")
			}
			l.sink.ReportingEntryPublished(p.node, entry)
		}
	})
}

// startInvocation registers and starts a new invocation below a container
func (l *ExecutionListener) startInvocation(p *methodProgress, r *scheduler.Result, index int) {
	key := registry.InvocationKey(r)

	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		l.dropEvent(scheduler.EventTestStart, r, errors.New("container already finished"))
		return
	}
	if _, exists := p.invocations[key]; exists {
		p.mu.Unlock()
		l.dropEvent(scheduler.EventTestStart, r, errors.New("invocation already started"))
		return
	}
	inv := registry.NewInvocationNode(p.node, r, index)
	p.node.AddChild(inv)
	p.invocations[key] = inv
	p.live++
	p.mu.Unlock()

	metrics.RecordDynamicRegistration(types.KindInvocation)
	l.sink.DynamicTestRegistered(inv)
	l.sink.ExecutionStarted(inv)
}

// finishOpenMethods force-finishes every method of class the scheduler left
// without a terminal event, open invocations first
func (l *ExecutionListener) finishOpenMethods(class *registry.ClassEntry) {
	var owned []*methodProgress
	l.progress.Range(func(k, v any) bool {
		p := v.(*methodProgress)
		if p.class == class {
			owned = append(owned, p)
			l.progress.Delete(k)
		}
		return true
	})
	sort.Slice(owned, func(i, j int) bool { return owned[i].node.ID.String() < owned[j].node.ID.String() })

	for _, p := range owned {
		open, ok := p.closeOpen()
		if !ok || !p.isStarted() {
			continue
		}
		for _, inv := range open {
			metrics.RecordDefensiveCompletion(types.KindInvocation)
			l.log.Warn("Force-finishing invocation the scheduler never completed", "node", inv.ID.String())
			l.sink.ExecutionFinished(inv, types.Successful())
		}
		metrics.RecordDefensiveCompletion(types.KindMethod)
		l.log.Warn("Force-finishing method the scheduler never completed", "node", p.node.ID.String())
		l.sink.ExecutionFinished(p.node, types.Successful())
	}
}

// EngineResult composes the engine-scope outcome. A run that would otherwise
// succeed, or whose only engine failures are the cancellation cause, is
// aborted with the cancellation cause once cancellation turned away at least
// one invocation.
func (l *ExecutionListener) EngineResult() types.ExecutionResult {
	records := l.engineBucket.drain()
	if l.cancel.Rejected() > 0 {
		onlyCancellation := true
		for _, r := range records {
			if !cancel.IsCancellation(r.cause) {
				onlyCancellation = false
				break
			}
		}
		if onlyCancellation {
			return types.Aborted(cancel.ErrCancelled)
		}
	}
	return compose(records, types.ScopeEngine, l.policy)
}

func (l *ExecutionListener) dropEvent(event scheduler.EventKind, r *scheduler.Result, reason error) {
	metrics.RecordErrorDetails("translator."+string(event), reason)
	l.log.Warn("Dropping scheduler event",
		"event", event,
		"class", r.Class.Name,
		"method", r.Method.Name,
		"id", r.ID,
		"reason", reason,
	)
}
