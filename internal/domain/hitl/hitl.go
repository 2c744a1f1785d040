// Package hitl defines the human-in-the-loop request and counter entities.
package hitl

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a Request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusEscalated Status = "escalated"
	StatusExpired   Status = "expired"
)

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

// IsOpen reports whether the request still awaits a human.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusEscalated
}

// RequestType classifies what is being asked of the human.
type RequestType string

const (
	TypeApproval   RequestType = "approval"
	TypeReview     RequestType = "review"
	TypeDecision   RequestType = "decision"
	TypeValidation RequestType = "validation"
	TypeEscalation RequestType = "escalation"
)

// Priority orders requests for reviewers.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Action is a reviewer's verdict.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Request is a single human review request.
type Request struct {
	ID               string          `json:"id"`
	ProjectID        string          `json:"project_id"`
	TaskID           string          `json:"task_id,omitempty"`
	AgentType        string          `json:"agent_type"`
	Type             RequestType     `json:"request_type"`
	Status           Status          `json:"status"`
	Priority         Priority        `json:"priority"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	Context          json.RawMessage `json:"context,omitempty"`
	Options          []string        `json:"options,omitempty"`
	Response         json.RawMessage `json:"response,omitempty"`
	ResponseData     json.RawMessage `json:"response_data,omitempty"`
	Comment          string          `json:"comment,omitempty"`
	RespondedBy      string          `json:"responded_by,omitempty"`
	EscalatedTo      string          `json:"escalated_to,omitempty"`
	EscalationReason string          `json:"escalation_reason,omitempty"`
	EscalationCount  int             `json:"escalation_count"`
	Version          int             `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	RespondedAt      *time.Time      `json:"responded_at,omitempty"`
	EscalatedAt      *time.Time      `json:"escalated_at,omitempty"`
}

// IsDue reports whether an open request has passed its expiry at now.
func (r *Request) IsDue(now time.Time) bool {
	return r.Status.IsOpen() && r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// CreateRequest holds the fields needed to open a new Request.
type CreateRequest struct {
	ProjectID   string          `json:"project_id"`
	TaskID      string          `json:"task_id,omitempty"`
	AgentType   string          `json:"agent_type"`
	Type        RequestType     `json:"request_type"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Context     json.RawMessage `json:"context,omitempty"`
	Options     []string        `json:"options,omitempty"`
	Priority    Priority        `json:"priority,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
}

// RespondRequest carries a reviewer's answer.
type RespondRequest struct {
	Action       Action          `json:"action"`
	ResponseData json.RawMessage `json:"response_data,omitempty"`
	Comment      string          `json:"comment,omitempty"`
	RespondedBy  string          `json:"responded_by"`
}

// ResetsCounter reports whether the response resets the project's action
// counter. Approval always does; rejection only when response_data carries
// "reset_counter": true.
func (r *RespondRequest) ResetsCounter() bool {
	if r.Action == ActionApprove {
		return true
	}
	if len(r.ResponseData) == 0 {
		return false
	}
	var data struct {
		ResetCounter bool `json:"reset_counter"`
	}
	if err := json.Unmarshal(r.ResponseData, &data); err != nil {
		return false
	}
	return data.ResetCounter
}

// EscalateRequest forwards an open request to another responder.
type EscalateRequest struct {
	EscalatedTo string `json:"escalated_to"`
	Reason      string `json:"reason"`
}

// ListFilter narrows List results.
type ListFilter struct {
	ProjectID string `json:"project_id,omitempty"`
	Status    Status `json:"status,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// DefaultListLimit and MaxListLimit bound List page sizes.
const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

// Normalize clamps Limit and Offset into range.
func (f *ListFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
