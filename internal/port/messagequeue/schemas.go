package messagequeue

import "time"

// HITLEventPayload is the schema for governance.hitl.* messages.
type HITLEventPayload struct {
	RequestID   string    `json:"request_id"`
	ProjectID   string    `json:"project_id"`
	TaskID      string    `json:"task_id,omitempty"`
	Status      string    `json:"status"`
	RequestType string    `json:"request_type"`
	Priority    string    `json:"priority"`
	Actor       string    `json:"actor,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// ActionReleasedPayload is the schema for governance.actions.released messages.
type ActionReleasedPayload struct {
	ProposalID    string `json:"proposal_id"`
	ProjectID     string `json:"project_id"`
	TaskID        string `json:"task_id,omitempty"`
	HITLRequestID string `json:"hitl_request_id"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

// PhaseAdvancedPayload is the schema for governance.phase.advanced messages.
type PhaseAdvancedPayload struct {
	ProjectID string `json:"project_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	GateID    string `json:"gate_id"`
}

// PolicyReloadedPayload is the schema for governance.policy.reloaded messages.
type PolicyReloadedPayload struct {
	Source string   `json:"source"`
	Phases []string `json:"phases"`
	Error  string   `json:"error,omitempty"`
}
