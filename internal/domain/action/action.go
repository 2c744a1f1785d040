// Package action defines proposed agent actions and their outcomes.
package action

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/policy"
)

// Proposal is an agent action submitted for admission.
type Proposal struct {
	ID            string          `json:"id,omitempty"`
	ProjectID     string          `json:"project_id"`
	TaskID        string          `json:"task_id,omitempty"`
	AgentType     string          `json:"agent_type"`
	Instructions  *string         `json:"instructions,omitempty"`
	Context       json.RawMessage `json:"context,omitempty"`
	Override      bool            `json:"override,omitempty"`
	OverrideBy    string          `json:"override_by,omitempty"`
	PhaseBoundary bool            `json:"phase_boundary,omitempty"`
	GateID        string          `json:"gate_id,omitempty"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

// Validate checks the required fields of a Proposal.
func (p *Proposal) Validate() error {
	if p.ProjectID == "" {
		return fmt.Errorf("project_id is required: %w", domain.ErrValidation)
	}
	if p.AgentType == "" {
		return fmt.Errorf("agent_type is required: %w", domain.ErrValidation)
	}
	if p.PhaseBoundary && p.GateID == "" {
		return fmt.Errorf("gate_id is required for a phase boundary action: %w", domain.ErrValidation)
	}
	return nil
}

// Status is the coordinator's verdict on a Proposal.
type Status string

const (
	StatusRejected            Status = "rejected"
	StatusClarificationNeeded Status = "clarification_needed"
	StatusSuspended           Status = "suspended"
	StatusCompleted           Status = "completed"
	StatusFailed              Status = "failed"
	StatusDiscarded           Status = "discarded"
)

// Outcome is returned for every submitted Proposal.
type Outcome struct {
	ProposalID    string           `json:"proposal_id"`
	Status        Status           `json:"status"`
	Decision      *policy.Decision `json:"decision,omitempty"`
	HITLRequestID string           `json:"hitl_request_id,omitempty"`
	Count         int64            `json:"count,omitempty"`
	Output        string           `json:"output,omitempty"`
	Error         string           `json:"error,omitempty"`
	PhaseAdvance  *PhaseAdvance    `json:"phase_advance,omitempty"`
}

// PhaseAdvance reports the result of a phase-boundary transition attempt.
type PhaseAdvance struct {
	ProjectID  string `json:"project_id"`
	From       string `json:"from"`
	To         string `json:"to,omitempty"`
	GateID     string `json:"gate_id"`
	GateStatus string `json:"gate_status"`
	Advanced   bool   `json:"advanced"`
	Reason     string `json:"reason,omitempty"`
}

// ExecutionResult is what the external agent executor returns.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}
