package reporting

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
)

// EventKind names a report protocol event
type EventKind string

const (
	EventRegistered EventKind = "registered"
	EventStarted    EventKind = "started"
	EventSkipped    EventKind = "skipped"
	EventFinished   EventKind = "finished"
	EventEntry      EventKind = "entry"
)

// Event is one recorded report protocol event
type Event struct {
	Seq    int
	Time   time.Time
	Kind   EventKind
	Node   *types.Node
	Result types.ExecutionResult
	Reason string
	Entry  types.ReportEntry
}

// String renders the event as kind(node) for assertions and logs
func (e Event) String() string {
	switch e.Kind {
	case EventFinished:
		return fmt.Sprintf("%s(%s, %s)", e.Kind, e.Node.DisplayName, e.Result)
	case EventSkipped:
		return fmt.Sprintf("%s(%s, %s)", e.Kind, e.Node.DisplayName, e.Reason)
	default:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Node.DisplayName)
	}
}

// IsTerminal reports whether the event ends the node's lifecycle
func (e Event) IsTerminal() bool {
	return e.Kind == EventFinished || e.Kind == EventSkipped
}

// Recorder keeps every report event in arrival order
type Recorder struct {
	mu     sync.Mutex
	events []Event
	now    func() time.Time
}

var _ Listener = (*Recorder)(nil)

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

func (r *Recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.Seq = len(r.events)
	ev.Time = r.now()
	r.events = append(r.events, ev)
}

func (r *Recorder) DynamicTestRegistered(node *types.Node) {
	r.record(Event{Kind: EventRegistered, Node: node})
}

func (r *Recorder) ExecutionStarted(node *types.Node) {
	r.record(Event{Kind: EventStarted, Node: node})
}

func (r *Recorder) ExecutionSkipped(node *types.Node, reason string) {
	r.record(Event{Kind: EventSkipped, Node: node, Reason: reason})
}

func (r *Recorder) ExecutionFinished(node *types.Node, result types.ExecutionResult) {
	r.record(Event{Kind: EventFinished, Node: node, Result: result})
}

func (r *Recorder) ReportingEntryPublished(node *types.Node, entry types.ReportEntry) {
	r.record(Event{Kind: EventEntry, Node: node, Entry: entry})
}

// Events returns a copy of all recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// EventsFor returns the events recorded for one node
func (r *Recorder) EventsFor(node *types.Node) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Node == node {
			out = append(out, ev)
		}
	}
	return out
}

// Find returns the first node recorded with the given display name
func (r *Recorder) Find(displayName string) *types.Node {
	for _, ev := range r.Events() {
		if ev.Node.DisplayName == displayName {
			return ev.Node
		}
	}
	return nil
}

type nodeHistory struct {
	node       *types.Node
	registered int
	started    int
	terminal   int
	firstEvent EventKind
	startSeq   int
	endSeq     int
}

// Validate checks the recorded stream against the pairing rules: one start
// per node ahead of a single terminal event (a skip may stand alone),
// registration ahead of any lifecycle event, children started inside their
// started parent, and containers finished after all of their children.
func (r *Recorder) Validate() error {
	events := r.Events()
	histories := make(map[*types.Node]*nodeHistory)
	var order []*types.Node
	var errs []error

	for _, ev := range events {
		h, ok := histories[ev.Node]
		if !ok {
			h = &nodeHistory{node: ev.Node, firstEvent: ev.Kind, startSeq: -1, endSeq: -1}
			histories[ev.Node] = h
			order = append(order, ev.Node)
		}
		switch ev.Kind {
		case EventRegistered:
			h.registered++
			if h.started > 0 || h.terminal > 0 {
				errs = append(errs, fmt.Errorf("%s registered after its lifecycle began", ev.Node.ID))
			}
		case EventStarted:
			h.started++
			h.startSeq = ev.Seq
			if parent := ev.Node.Parent(); parent != nil {
				if ph, ok := histories[parent]; !ok || ph.started == 0 || ph.terminal > 0 {
					errs = append(errs, fmt.Errorf("%s started outside of its running parent", ev.Node.ID))
				}
			}
		case EventSkipped:
			h.terminal++
			h.endSeq = ev.Seq
		case EventFinished:
			h.terminal++
			h.endSeq = ev.Seq
			if h.started == 0 {
				errs = append(errs, fmt.Errorf("%s finished without being started", ev.Node.ID))
			}
		}
	}

	for _, node := range order {
		h := histories[node]
		if h.registered > 1 {
			errs = append(errs, fmt.Errorf("%s registered %d times", node.ID, h.registered))
		}
		if h.registered > 0 && h.firstEvent != EventRegistered {
			errs = append(errs, fmt.Errorf("%s registered after its first event", node.ID))
		}
		if h.started > 1 {
			errs = append(errs, fmt.Errorf("%s started %d times", node.ID, h.started))
		}
		if h.terminal != 1 {
			errs = append(errs, fmt.Errorf("%s has %d terminal events", node.ID, h.terminal))
		}
		for _, child := range node.Children() {
			ch, ok := histories[child]
			if !ok || ch.endSeq < 0 {
				continue
			}
			if h.endSeq >= 0 && ch.endSeq > h.endSeq {
				errs = append(errs, fmt.Errorf("%s finished before its child %s", node.ID, child.ID))
			}
		}
	}
	return errors.Join(errs...)
}

// Outcomes folds the recorded events into one outcome per node, in order of
// the nodes' first appearance
func (r *Recorder) Outcomes() []*types.NodeOutcome {
	events := r.Events()
	byNode := make(map[*types.Node]*types.NodeOutcome)
	started := make(map[*types.Node]time.Time)
	var out []*types.NodeOutcome

	for _, ev := range events {
		o, ok := byNode[ev.Node]
		if !ok {
			o = &types.NodeOutcome{Node: ev.Node, Status: types.TestStatusOpen, Order: len(out)}
			byNode[ev.Node] = o
			out = append(out, o)
		}
		switch ev.Kind {
		case EventRegistered:
			o.Registered = true
		case EventStarted:
			started[ev.Node] = ev.Time
		case EventSkipped:
			o.Status = types.TestStatusSkip
			o.Reason = ev.Reason
		case EventFinished:
			o.Status = types.StatusOf(ev.Result)
			o.Error = ev.Result.Cause
			if t, ok := started[ev.Node]; ok {
				o.Duration = ev.Time.Sub(t)
			}
		}
	}
	return out
}
