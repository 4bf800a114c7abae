package translator

import (
	"sync"
	"sync/atomic"

	"github.com/ethereum-optimism/infra/op-testbridge/registry"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

// methodProgress is the runtime state of one method node during execution
type methodProgress struct {
	node  *types.Node
	class *registry.ClassEntry

	nextIndex atomic.Int64

	startOnce sync.Once
	started   chan struct{}

	mu          sync.Mutex
	invocations map[string]*types.Node // invocation key -> live invocation
	live        int
	exhausted   bool
	finished    bool
}

func newMethodProgress(node *types.Node, class *registry.ClassEntry) *methodProgress {
	return &methodProgress{
		node:        node,
		class:       class,
		started:     make(chan struct{}),
		invocations: make(map[string]*types.Node),
	}
}

// isStarted reports whether the started gate is open
func (p *methodProgress) isStarted() bool {
	select {
	case <-p.started:
		return true
	default:
		return false
	}
}

// start runs report once and opens the gate afterwards. It reports whether
// this caller's report was the one that ran.
func (p *methodProgress) start(report func()) bool {
	ran := false
	p.startOnce.Do(func() {
		report()
		ran = true
		close(p.started)
	})
	return ran
}

// closeOpen marks the method finished and returns the invocations still
// live. It reports false if the method was already finished.
func (p *methodProgress) closeOpen() ([]*types.Node, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return nil, false
	}
	p.finished = true
	open := make([]*types.Node, 0, len(p.invocations))
	for key, inv := range p.invocations {
		open = append(open, inv)
		delete(p.invocations, key)
	}
	p.live = 0
	return open, true
}

// bucket buffers configuration failure causes for one scope
type bucket struct {
	mu      sync.Mutex
	records []failureRecord
}

type failureRecord struct {
	cause   error
	outcome types.FailureOutcome
}

func (b *bucket) add(cause error, outcome types.FailureOutcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, failureRecord{cause: cause, outcome: outcome})
}

func (b *bucket) drain() []failureRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.records
	b.records = nil
	return out
}

// compose folds buffered records into one result. With no records the result
// is successful; if every record is a skip the skip classification applies,
// otherwise the failure classification.
func compose(records []failureRecord, scope types.FailureScope, policy types.Policy) types.ExecutionResult {
	if len(records) == 0 {
		return types.Successful()
	}
	outcome := types.OutcomeSkip
	causes := make([]error, 0, len(records))
	for _, r := range records {
		if r.outcome != types.OutcomeSkip {
			outcome = types.OutcomeFailure
		}
		causes = append(causes, r.cause)
	}
	return policy.Classify(scope, outcome).Result(types.Chain(causes...))
}
