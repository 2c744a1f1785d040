// Package event defines the immutable audit log entry.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies what happened.
type Type string

const (
	TypePolicyEvaluated    Type = "policy_evaluated"
	TypePolicyReloaded     Type = "policy_reloaded"
	TypePolicyReloadFailed Type = "policy_reload_failed"

	TypeHITLRequestCreated           Type = "hitl_request_created"
	TypeHITLRequestResponded         Type = "hitl_request_responded"
	TypeHITLRequestEscalated         Type = "hitl_request_escalated"
	TypeHITLRequestExpired           Type = "hitl_request_expired"
	TypeHITLTransitionFailed         Type = "hitl_transition_failed"
	TypeHITLCounterReconfigured      Type = "hitl_counter_reconfigured"
	TypeHITLCounterReconfigureFailed Type = "hitl_counter_reconfigure_failed"
	TypeHITLCounterBreached          Type = "hitl_counter_breached"
	TypeHITLCounterReset             Type = "hitl_counter_reset"
	TypeHITLCounterResetFailed       Type = "hitl_counter_reset_failed"

	TypeQualityGateEvaluated       Type = "quality_gate_evaluated"
	TypeQualityGateWaived          Type = "quality_gate_waived"
	TypeQualityGateMetricsRecorded Type = "quality_gate_metrics_recorded"
	TypeQualityGateUpdateFailed    Type = "quality_gate_update_failed"

	TypeActionDispatched Type = "action_dispatched"
	TypeActionFailed     Type = "action_failed"
	TypeActionSuspended  Type = "action_suspended"
	TypeActionReleased   Type = "action_released"
	TypeActionDiscarded  Type = "action_discarded"

	TypePhaseSet            Type = "phase_set"
	TypePhaseAdvanced       Type = "phase_advanced"
	TypePhaseAdvanceBlocked Type = "phase_advance_blocked"
	TypePhaseChangeFailed   Type = "phase_change_failed"
)

// Source names the component that wrote an entry.
type Source string

const (
	SourcePolicyEngine Source = "policy_engine"
	SourceHITLManager  Source = "hitl_manager"
	SourceHITLCounter  Source = "hitl_counter"
	SourceQualityGate  Source = "quality_gate"
	SourceCoordinator  Source = "coordinator"
)

// Entry is a single write-once audit record.
type Entry struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Type          Type            `json:"event_type"`
	Source        Source          `json:"event_source"`
	ProjectID     string          `json:"project_id,omitempty"`
	TaskID        string          `json:"task_id,omitempty"`
	HITLRequestID string          `json:"hitl_request_id,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}
