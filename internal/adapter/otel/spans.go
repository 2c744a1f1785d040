package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "phasegate"

// StartActionSpan starts a span covering one submitted action.
func StartActionSpan(ctx context.Context, proposalID, projectID, agentType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "action.submit",
		trace.WithAttributes(
			attribute.String("proposal.id", proposalID),
			attribute.String("project.id", projectID),
			attribute.String("agent.type", agentType),
		),
	)
}

// StartHITLSpan starts a span for a HITL lifecycle transition.
func StartHITLSpan(ctx context.Context, op, requestID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "hitl."+op,
		trace.WithAttributes(attribute.String("hitl.request_id", requestID)),
	)
}

// StartGateSpan starts a span for a quality gate evaluation.
func StartGateSpan(ctx context.Context, gateID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "gate.evaluate",
		trace.WithAttributes(attribute.String("gate.id", gateID)),
	)
}
