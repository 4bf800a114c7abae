package reporting

import (
	"context"
	"testing"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// replay feeds recorded events into another listener
func replay(rec *Recorder, l Listener) {
	for _, ev := range rec.Events() {
		switch ev.Kind {
		case EventRegistered:
			l.DynamicTestRegistered(ev.Node)
		case EventStarted:
			l.ExecutionStarted(ev.Node)
		case EventSkipped:
			l.ExecutionSkipped(ev.Node, ev.Reason)
		case EventFinished:
			l.ExecutionFinished(ev.Node, ev.Result)
		case EventEntry:
			l.ReportingEntryPublished(ev.Node, ev.Entry)
		}
	}
}

func attr(span sdktrace.ReadOnlySpan, key string) attribute.Value {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestTracingListener(t *testing.T) {
	exporter := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	listener := NewTracingListener(context.Background(), tp.Tracer("test"))
	replay(sampleRecording(t), listener)

	spans := exporter.Ended()
	// engine, two classes, three methods, two invocations and one skipped method
	require.Len(t, spans, 9)

	byName := make(map[string]sdktrace.ReadOnlySpan)
	for _, s := range spans {
		byName[s.Name()] = s
	}

	engine := byName["engine TestNG"]
	require.NotNil(t, engine)
	assert.False(t, engine.Parent().IsValid())

	classA := byName["class A"]
	require.NotNil(t, classA)
	assert.Equal(t, engine.SpanContext().SpanID(), classA.Parent().SpanID())

	two := byName["method two"]
	require.NotNil(t, two)
	assert.Equal(t, classA.SpanContext().SpanID(), two.Parent().SpanID())
	assert.Equal(t, codes.Error, two.Status().Code)
	assert.Equal(t, "failed", attr(two, "testbridge.result").AsString())

	rows := byName["method rows(int)"]
	require.NotNil(t, rows)
	inv := byName["invoc [1] 2"]
	require.NotNil(t, inv)
	assert.Equal(t, rows.SpanContext().SpanID(), inv.Parent().SpanID())
	assert.Equal(t, int64(1), attr(inv, "testbridge.invocation.index").AsInt64())

	var registered int
	for _, ev := range rows.Events() {
		if ev.Name == "dynamic test registered" {
			registered++
		}
	}
	assert.Equal(t, 2, registered)

	three := byName["method three"]
	require.NotNil(t, three)
	assert.Equal(t, "skipped", attr(three, "testbridge.result").AsString())
	assert.Equal(t, "<unknown>", attr(three, "testbridge.skip_reason").AsString())
}

func TestTracingListener_EntriesAndUnknownNodes(t *testing.T) {
	exporter := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	listener := NewTracingListener(context.Background(), tp.Tracer("test"))
	engine := types.NewEngineNode("testng", "TestNG")

	// finishing a node that never started is ignored
	listener.ExecutionFinished(engine, types.Successful())
	listener.ReportingEntryPublished(engine, types.NewReportEntry("k", "v"))
	assert.Empty(t, exporter.Ended())

	listener.ExecutionStarted(engine)
	listener.ReportingEntryPublished(engine, types.NewReportEntry("description", "root"))
	listener.ExecutionFinished(engine, types.Aborted(nil))

	spans := exporter.Ended()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "report entry", spans[0].Events()[0].Name)
	assert.Equal(t, "aborted", attr(spans[0], "testbridge.result").AsString())
}
