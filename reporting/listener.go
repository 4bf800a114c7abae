package reporting

import (
	"sync"
	"sync/atomic"

	"github.com/ethereum-optimism/infra/op-testbridge/metrics"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
	"github.com/ethereum/go-ethereum/log"
)

// Listener is the report sink consuming the paired event protocol. Calls may
// arrive concurrently for different nodes.
type Listener interface {
	DynamicTestRegistered(node *types.Node)
	ExecutionStarted(node *types.Node)
	ExecutionSkipped(node *types.Node, reason string)
	ExecutionFinished(node *types.Node, result types.ExecutionResult)
	ReportingEntryPublished(node *types.Node, entry types.ReportEntry)
}

// Multi fans every event out to several listeners in order
type Multi []Listener

var _ Listener = Multi(nil)

func (m Multi) DynamicTestRegistered(node *types.Node) {
	for _, l := range m {
		l.DynamicTestRegistered(node)
	}
}

func (m Multi) ExecutionStarted(node *types.Node) {
	for _, l := range m {
		l.ExecutionStarted(node)
	}
}

func (m Multi) ExecutionSkipped(node *types.Node, reason string) {
	for _, l := range m {
		l.ExecutionSkipped(node, reason)
	}
}

func (m Multi) ExecutionFinished(node *types.Node, result types.ExecutionResult) {
	for _, l := range m {
		l.ExecutionFinished(node, result)
	}
}

func (m Multi) ReportingEntryPublished(node *types.Node, entry types.ReportEntry) {
	for _, l := range m {
		l.ReportingEntryPublished(node, entry)
	}
}

// Violation kinds reported by ProtocolGuard
const (
	ViolationDuplicateRegistration = "duplicate-registration"
	ViolationDuplicateStart        = "duplicate-start"
	ViolationStartUnderClosed      = "start-under-closed-parent"
	ViolationFinishWithoutStart    = "finish-without-start"
	ViolationDuplicateTerminal     = "duplicate-terminal"
	ViolationOpenChildren          = "open-children"
)

type nodePhase int32

const (
	phaseNone nodePhase = iota
	phaseRegistered
	phaseStarted
	phaseTerminated
)

// ProtocolGuard forwards events to the next listener only when they keep the
// pairing protocol intact. Violating events are logged, counted and dropped.
type ProtocolGuard struct {
	next   Listener
	log    log.Logger
	phases sync.Map // node id -> *atomic.Int32
}

var _ Listener = (*ProtocolGuard)(nil)

// NewProtocolGuard wraps next
func NewProtocolGuard(logger log.Logger, next Listener) *ProtocolGuard {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	return &ProtocolGuard{
		next: next,
		log:  logger.New("component", "protocol-guard"),
	}
}

func (g *ProtocolGuard) state(node *types.Node) *atomic.Int32 {
	actual, _ := g.phases.LoadOrStore(node.ID.String(), new(atomic.Int32))
	return actual.(*atomic.Int32)
}

// transition moves node to phase to if its current phase is one of from
func (g *ProtocolGuard) transition(node *types.Node, to nodePhase, from ...nodePhase) (nodePhase, bool) {
	s := g.state(node)
	for {
		current := nodePhase(s.Load())
		allowed := false
		for _, f := range from {
			if current == f {
				allowed = true
				break
			}
		}
		if !allowed {
			return current, false
		}
		if s.CompareAndSwap(int32(current), int32(to)) {
			return current, true
		}
	}
}

func (g *ProtocolGuard) phase(node *types.Node) nodePhase {
	if actual, ok := g.phases.Load(node.ID.String()); ok {
		return nodePhase(actual.(*atomic.Int32).Load())
	}
	return phaseNone
}

func (g *ProtocolGuard) violation(kind string, node *types.Node, ctx ...any) {
	metrics.RecordProtocolViolation(kind)
	g.log.Warn("Report protocol violation",
		append([]any{"violation", kind, "node", node.ID.String()}, ctx...)...)
}

func (g *ProtocolGuard) DynamicTestRegistered(node *types.Node) {
	if current, ok := g.transition(node, phaseRegistered, phaseNone); !ok {
		g.violation(ViolationDuplicateRegistration, node, "phase", current)
		return
	}
	g.next.DynamicTestRegistered(node)
}

func (g *ProtocolGuard) ExecutionStarted(node *types.Node) {
	if parent := node.Parent(); parent != nil && g.phase(parent) != phaseStarted {
		g.violation(ViolationStartUnderClosed, node, "parent", parent.ID.String())
		return
	}
	if current, ok := g.transition(node, phaseStarted, phaseNone, phaseRegistered); !ok {
		g.violation(ViolationDuplicateStart, node, "phase", current)
		return
	}
	g.next.ExecutionStarted(node)
}

func (g *ProtocolGuard) ExecutionSkipped(node *types.Node, reason string) {
	if current, ok := g.transition(node, phaseTerminated, phaseNone, phaseRegistered); !ok {
		g.violation(ViolationDuplicateTerminal, node, "phase", current)
		return
	}
	g.next.ExecutionSkipped(node, reason)
}

func (g *ProtocolGuard) ExecutionFinished(node *types.Node, result types.ExecutionResult) {
	if current, ok := g.transition(node, phaseTerminated, phaseStarted); !ok {
		kind := ViolationFinishWithoutStart
		if current == phaseTerminated {
			kind = ViolationDuplicateTerminal
		}
		g.violation(kind, node, "result", result.String())
		return
	}
	for _, child := range node.Children() {
		if g.phase(child) == phaseStarted {
			// logged only, the finish itself is correctly paired
			g.violation(ViolationOpenChildren, child, "parent", node.ID.String())
		}
	}
	g.next.ExecutionFinished(node, result)
}

func (g *ProtocolGuard) ReportingEntryPublished(node *types.Node, entry types.ReportEntry) {
	g.next.ReportingEntryPublished(node, entry)
}
