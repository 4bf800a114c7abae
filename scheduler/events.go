package scheduler

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// EventKind names a recorded scheduler callback
type EventKind string

const (
	EventBeforeClass                       EventKind = "before-class"
	EventAfterClass                        EventKind = "after-class"
	EventConfigurationFailure              EventKind = "configuration-failure"
	EventConfigurationSkip                 EventKind = "configuration-skip"
	EventTestStart                         EventKind = "test-start"
	EventTestSuccess                       EventKind = "test-success"
	EventTestFailure                       EventKind = "test-failure"
	EventTestSkipped                       EventKind = "test-skipped"
	EventTestFailedWithTimeout             EventKind = "test-failed-with-timeout"
	EventTestFailedWithinSuccessPercentage EventKind = "test-failed-within-success-percentage"
)

// maxEventLineBytes bounds a single JSON line, parameters can be large
const maxEventLineBytes = 4 * 1024 * 1024

// MethodEvent is the recorded form of Method
type MethodEvent struct {
	Name            string              `json:"name"`
	ParameterTypes  []string            `json:"parameter_types,omitempty"`
	Groups          []string            `json:"groups,omitempty"`
	Description     string              `json:"description,omitempty"`
	Attributes      map[string][]string `json:"attributes,omitempty"`
	DataDriven      bool                `json:"data_driven,omitempty"`
	InvocationCount int                 `json:"invocation_count,omitempty"`
	ThreadPoolSize  int                 `json:"thread_pool_size,omitempty"`
	CustomRetry     bool                `json:"custom_retry,omitempty"`
}

// Event is one line of a recorded scheduler run. Events with an empty
// Thread act as barriers: everything recorded before them completes first.
type Event struct {
	Thread string    `json:"thread,omitempty"`
	Kind   EventKind `json:"event"`
	ID     string    `json:"id,omitempty"`
	Class  string    `json:"class,omitempty"`

	Method            *MethodEvent `json:"method,omitempty"`
	InstanceIndex     int          `json:"instance_index,omitempty"`
	InstanceCount     int          `json:"instance_count,omitempty"`
	FactoryIndex      *int         `json:"factory_index,omitempty"`
	FactoryParameters []string     `json:"factory_parameters,omitempty"`

	Parameters      []string `json:"parameters,omitempty"`
	InvocationIndex int      `json:"invocation_index,omitempty"`

	Error              string `json:"error,omitempty"`
	WillRetry          bool   `json:"will_retry,omitempty"`
	HasMoreInvocations bool   `json:"has_more_invocations,omitempty"`
}

// Validate checks the fields required by the event kind
func (e Event) Validate() error {
	switch e.Kind {
	case EventBeforeClass, EventAfterClass:
		if e.Class == "" {
			return fmt.Errorf("%s event without class", e.Kind)
		}
	case EventConfigurationFailure, EventConfigurationSkip:
		if e.Method == nil || e.Method.Name == "" {
			return fmt.Errorf("%s event without method", e.Kind)
		}
	case EventTestStart, EventTestSuccess, EventTestFailure, EventTestSkipped,
		EventTestFailedWithTimeout, EventTestFailedWithinSuccessPercentage:
		if e.Class == "" || e.Method == nil || e.Method.Name == "" {
			return fmt.Errorf("%s event without class or method", e.Kind)
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// Result converts the recorded payload into a callback result
func (e Event) Result() *Result {
	r := &Result{
		ID:                 e.ID,
		Thread:             e.Thread,
		Class:              Class{Name: e.Class},
		InstanceIndex:      e.InstanceIndex,
		InstanceCount:      e.InstanceCount,
		FactoryIndex:       e.FactoryIndex,
		FactoryParameters:  e.FactoryParameters,
		Parameters:         e.Parameters,
		InvocationIndex:    e.InvocationIndex,
		WillRetry:          e.WillRetry,
		HasMoreInvocations: e.HasMoreInvocations,
	}
	if e.Method != nil {
		r.Method = Method{
			Name:            e.Method.Name,
			ParameterTypes:  e.Method.ParameterTypes,
			Groups:          e.Method.Groups,
			Description:     e.Method.Description,
			Attributes:      e.Method.Attributes,
			DataDriven:      e.Method.DataDriven,
			InvocationCount: e.Method.InvocationCount,
			ThreadPoolSize:  e.Method.ThreadPoolSize,
			CustomRetry:     e.Method.CustomRetry,
		}
	}
	if e.Error != "" {
		r.Err = errors.New(e.Error)
	}
	return r
}

// resultKey identifies the result object an event belongs to
func (e Event) resultKey() string {
	if e.ID != "" {
		return e.ID
	}
	name := ""
	if e.Method != nil {
		name = e.Method.Name + "(" + strings.Join(e.Method.ParameterTypes, ",") + ")"
	}
	return fmt.Sprintf("%s#%s@%d_%d", e.Class, name, e.InstanceIndex, e.InvocationIndex)
}

// ReadEvents parses a JSON-lines event stream. Blank lines are ignored.
func ReadEvents(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, fmt.Errorf("line %d: parsing event: %w", lineNo, err)
		}
		if err := event.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}
	return events, nil
}

// ReadEventsFile parses the JSON-lines event file at path
func ReadEventsFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening events file: %w", err)
	}
	defer f.Close()
	return ReadEvents(f)
}
