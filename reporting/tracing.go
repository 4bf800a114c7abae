package reporting

import (
	"context"
	"sync"

	"github.com/ethereum-optimism/infra/op-testbridge/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingListener turns the report stream into spans: every started node
// opens a span below its parent's span and its terminal event ends it.
// Skipped nodes produce an already ended span.
type TracingListener struct {
	ctx    context.Context
	tracer trace.Tracer
	spans  sync.Map // *types.Node -> trace.Span
}

var _ Listener = (*TracingListener)(nil)

// NewTracingListener creates a listener whose root spans are children of ctx
func NewTracingListener(ctx context.Context, tracer trace.Tracer) *TracingListener {
	return &TracingListener{ctx: ctx, tracer: tracer}
}

func nodeAttributes(node *types.Node) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("testbridge.node.id", node.ID.String()),
		attribute.String("testbridge.node.kind", node.Kind.String()),
		attribute.String("testbridge.node.legacy_name", node.LegacyName),
	}
	if len(node.Tags) > 0 {
		attrs = append(attrs, attribute.StringSlice("testbridge.node.tags", node.Tags))
	}
	if node.Kind == types.KindInvocation {
		attrs = append(attrs, attribute.Int("testbridge.invocation.index", node.InvocationIndex))
	}
	return attrs
}

// parentContext returns the context of the closest ancestor with an open span
func (l *TracingListener) parentContext(node *types.Node) context.Context {
	for p := node.Parent(); p != nil; p = p.Parent() {
		if span, ok := l.spans.Load(p); ok {
			return trace.ContextWithSpan(l.ctx, span.(trace.Span))
		}
	}
	return l.ctx
}

func (l *TracingListener) start(node *types.Node) trace.Span {
	_, span := l.tracer.Start(l.parentContext(node), node.Kind.String()+" "+node.DisplayName,
		trace.WithAttributes(nodeAttributes(node)...))
	return span
}

func (l *TracingListener) DynamicTestRegistered(node *types.Node) {
	if p := node.Parent(); p != nil {
		if span, ok := l.spans.Load(p); ok {
			span.(trace.Span).AddEvent("dynamic test registered",
				trace.WithAttributes(attribute.String("testbridge.node.id", node.ID.String())))
		}
	}
}

func (l *TracingListener) ExecutionStarted(node *types.Node) {
	l.spans.Store(node, l.start(node))
}

func (l *TracingListener) ExecutionSkipped(node *types.Node, reason string) {
	span := l.start(node)
	span.SetAttributes(
		attribute.String("testbridge.result", "skipped"),
		attribute.String("testbridge.skip_reason", reason),
	)
	span.End()
}

func (l *TracingListener) ExecutionFinished(node *types.Node, result types.ExecutionResult) {
	v, ok := l.spans.LoadAndDelete(node)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(attribute.String("testbridge.result", string(result.Status)))
	switch result.Status {
	case types.StatusFailed:
		if result.Cause != nil {
			span.RecordError(result.Cause)
			span.SetStatus(codes.Error, result.Cause.Error())
		} else {
			span.SetStatus(codes.Error, "failed")
		}
	case types.StatusAborted:
		if result.Cause != nil {
			span.RecordError(result.Cause)
		}
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (l *TracingListener) ReportingEntryPublished(node *types.Node, entry types.ReportEntry) {
	v, ok := l.spans.Load(node)
	if !ok {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(entry.Values))
	for k, val := range entry.Values {
		attrs = append(attrs, attribute.String(k, val))
	}
	v.(trace.Span).AddEvent("report entry", trace.WithAttributes(attrs...))
}
