// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Event types pushed to reviewers' clients.
const (
	EventHITLCreated   = "hitl.created"
	EventHITLResponded = "hitl.responded"
	EventHITLEscalated = "hitl.escalated"
	EventHITLExpired   = "hitl.expired"
	EventCounterBreach = "hitl.counter_breached"
	EventGateEvaluated = "gate.evaluated"
	EventPhaseAdvanced = "phase.advanced"
	EventPolicyReload  = "policy.reloaded"
)
