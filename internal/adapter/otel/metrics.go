package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "phasegate"

// Metrics holds all PhaseGate metric instruments.
type Metrics struct {
	PolicyDecisions    metric.Int64Counter
	HITLTransitions    metric.Int64Counter
	CounterBreaches    metric.Int64Counter
	GateEvaluations    metric.Int64Counter
	ActionOutcomes     metric.Int64Counter
	ActionDuration     metric.Float64Histogram
	AuditAppendFailure metric.Int64Counter
	LogDropped         metric.Int64ObservableCounter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.PolicyDecisions, err = meter.Int64Counter("phasegate.policy.decisions",
		metric.WithDescription("Policy evaluations by status and reason")); err != nil {
		return nil, err
	}
	if m.HITLTransitions, err = meter.Int64Counter("phasegate.hitl.transitions",
		metric.WithDescription("HITL request lifecycle transitions")); err != nil {
		return nil, err
	}
	if m.CounterBreaches, err = meter.Int64Counter("phasegate.hitl.counter_breaches",
		metric.WithDescription("Autonomous action counters that crossed their limit")); err != nil {
		return nil, err
	}
	if m.GateEvaluations, err = meter.Int64Counter("phasegate.gate.evaluations",
		metric.WithDescription("Quality gate evaluations by status")); err != nil {
		return nil, err
	}
	if m.ActionOutcomes, err = meter.Int64Counter("phasegate.actions",
		metric.WithDescription("Submitted actions by outcome")); err != nil {
		return nil, err
	}
	if m.ActionDuration, err = meter.Float64Histogram("phasegate.action.duration_seconds",
		metric.WithDescription("End-to-end action handling time"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.AuditAppendFailure, err = meter.Int64Counter("phasegate.audit.append_failures",
		metric.WithDescription("Audit events that could not be persisted")); err != nil {
		return nil, err
	}

	if m.LogDropped, err = meter.Int64ObservableCounter("phasegate.log.dropped_records",
		metric.WithDescription("Log records discarded because the async buffer was full")); err != nil {
		return nil, err
	}

	return m, nil
}

// ObserveLogDrops reports dropped() as phasegate.log.dropped_records on
// every collection.
func (m *Metrics) ObserveLogDrops(dropped func() int64) error {
	if m == nil {
		return nil
	}
	_, err := otel.Meter(meterName).RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.LogDropped, dropped())
		return nil
	}, m.LogDropped)
	return err
}

// The Record helpers tolerate a nil receiver so callers can run without
// instruments.

func (m *Metrics) RecordDecision(ctx context.Context, status, reason string) {
	if m == nil {
		return
	}
	m.PolicyDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status), attribute.String("reason", reason)))
}

func (m *Metrics) RecordHITLTransition(ctx context.Context, to string) {
	if m == nil {
		return
	}
	m.HITLTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", to)))
}

func (m *Metrics) RecordBreach(ctx context.Context, projectID string) {
	if m == nil {
		return
	}
	m.CounterBreaches.Add(ctx, 1, metric.WithAttributes(attribute.String("project.id", projectID)))
}

func (m *Metrics) RecordGate(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.GateEvaluations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordAction(ctx context.Context, outcome string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.ActionOutcomes.Add(ctx, 1, attrs)
	m.ActionDuration.Record(ctx, seconds, attrs)
}

func (m *Metrics) RecordAuditFailure(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.AuditAppendFailure.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}
