package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum-optimism/infra/op-testbridge/reporting"
	"github.com/ethereum-optimism/infra/op-testbridge/types"
	"github.com/ethereum-optimism/infra/op-testbridge/ui"
)

// EventRecord is one line of the JSON-lines event log
type EventRecord struct {
	Seq        int               `json:"seq"`
	Time       time.Time         `json:"time"`
	Event      string            `json:"event"`
	ID         string            `json:"id"`
	Kind       types.NodeKind    `json:"kind"`
	Name       string            `json:"name"`
	LegacyName string            `json:"legacy_name,omitempty"`
	Result     string            `json:"result,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Entry      map[string]string `json:"entry,omitempty"`
}

// EventLogSink writes every report event as a JSON line and a readable block
// per terminal test to the combined log. ANSI sequences are stripped from
// causes and reasons.
type EventLogSink struct {
	mu      sync.Mutex
	seq     int
	events  *AsyncFile
	all     *AsyncFile
	now     func() time.Time
	started map[*types.Node]time.Time
}

var _ reporting.Listener = (*EventLogSink)(nil)

func newEventLogSink(events, all *AsyncFile) *EventLogSink {
	return &EventLogSink{
		events:  events,
		all:     all,
		now:     time.Now,
		started: make(map[*types.Node]time.Time),
	}
}

func (s *EventLogSink) write(kind reporting.EventKind, node *types.Node, fill func(*EventRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := EventRecord{
		Seq:        s.seq,
		Time:       s.now(),
		Event:      string(kind),
		ID:         node.ID.String(),
		Kind:       node.Kind,
		Name:       node.DisplayName,
		LegacyName: node.LegacyName,
	}
	s.seq++
	if fill != nil {
		fill(&rec)
	}
	if line, err := marshalLine(rec); err == nil {
		_ = s.events.Write(line)
	}

	switch kind {
	case reporting.EventStarted:
		s.started[node] = rec.Time
	case reporting.EventFinished, reporting.EventSkipped:
		var elapsed time.Duration
		if t, ok := s.started[node]; ok {
			elapsed = rec.Time.Sub(t)
			delete(s.started, node)
		}
		if !node.IsContainer() {
			_ = s.all.Write([]byte(testBlock(rec, elapsed)))
		}
	}
}

func (s *EventLogSink) DynamicTestRegistered(node *types.Node) {
	s.write(reporting.EventRegistered, node, nil)
}

func (s *EventLogSink) ExecutionStarted(node *types.Node) {
	s.write(reporting.EventStarted, node, nil)
}

func (s *EventLogSink) ExecutionSkipped(node *types.Node, reason string) {
	s.write(reporting.EventSkipped, node, func(r *EventRecord) {
		r.Reason = stripansi.Strip(reason)
	})
}

func (s *EventLogSink) ExecutionFinished(node *types.Node, result types.ExecutionResult) {
	s.write(reporting.EventFinished, node, func(r *EventRecord) {
		r.Result = string(result.Status)
		if result.Cause != nil {
			r.Cause = stripansi.Strip(result.Cause.Error())
		}
	})
}

func (s *EventLogSink) ReportingEntryPublished(node *types.Node, entry types.ReportEntry) {
	s.write(reporting.EventEntry, node, func(r *EventRecord) {
		r.Entry = make(map[string]string, len(entry.Values))
		for k, v := range entry.Values {
			r.Entry[k] = stripansi.Strip(v)
		}
	})
}

const testBlockWidth = 71

// testBlock renders a terminal test event for the combined log
func testBlock(rec EventRecord, elapsed time.Duration) string {
	status := rec.Result
	if rec.Event == string(reporting.EventSkipped) {
		status = "skipped"
	}

	var content strings.Builder
	content.WriteString("\n")
	content.WriteString(ui.BuildBox("TEST: "+rec.Name, []string{
		"Status:   " + status,
		"Name:     " + rec.LegacyName,
		"Duration: " + formatDuration(elapsed),
		"Time:     " + rec.Time.Format(time.RFC3339),
	}, testBlockWidth))

	if rec.Cause != "" {
		fmt.Fprintf(&content, "\nERROR:\n~~~~~~\n%s\n", indentText(rec.Cause, "  "))
	}
	if rec.Reason != "" {
		fmt.Fprintf(&content, "\nREASON:\n~~~~~~~\n%s\n", indentText(rec.Reason, "  "))
	}
	return content.String()
}

// EventLogReader reads a JSON-lines event log
type EventLogReader struct {
	reader io.Reader
}

// NewEventLogReader creates a reader over r
func NewEventLogReader(r io.Reader) *EventLogReader {
	return &EventLogReader{reader: r}
}

// Records returns every record of the log ordered by sequence number. Blank
// lines are skipped, malformed lines are an error.
func (p *EventLogReader) Records() ([]EventRecord, error) {
	var out []EventRecord
	scanner := bufio.NewScanner(p.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec EventRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("invalid event log line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}
