// Package trace instruments one OpenTelemetry span per agent turn (spec.md
// §4.5: WaitingForLLM through however many ExecutingTool/WaitingForLLM
// loops the LLM asks for, back to Idle) and one child span per tool
// execution within that loop. It is grounded on the teacher's
// internal/observability.Tracer concern — tracing turns and tool calls for
// latency and failure analysis — but uses only go.opentelemetry.io/otel's
// core API, since this module (unlike the teacher) does not pull in an
// OTLP exporter or SDK: a process that never calls otel.SetTracerProvider
// gets the no-op tracer, so these spans are free overhead until a caller
// wires a real provider, which keeps this package usable without
// mandating an exporter choice on every deployment.
package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mgreenly/ikigai-sub009/internal/agentfsm"

// EndFunc finishes a span started by StartTurn or StartToolCall. err, if
// non-nil, marks the span as failed before it ends.
type EndFunc func(err error)

// StartTurn opens a span covering one user turn. The caller must invoke
// the returned EndFunc exactly once when the agent settles back to Idle.
func StartTurn(ctx context.Context, agentID string) (context.Context, EndFunc) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "agent.turn", trace.WithAttributes(attribute.String("agent_id", agentID)))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// StartToolCall opens a child span for one tool execution inside a turn's
// tool loop.
func StartToolCall(ctx context.Context, toolName string) (context.Context, EndFunc) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "agent.tool_call", trace.WithAttributes(attribute.String("tool_name", toolName)))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
