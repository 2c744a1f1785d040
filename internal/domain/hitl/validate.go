package hitl

import (
	"fmt"
	"strings"

	"github.com/Strob0t/phasegate/internal/domain"
)

var validTypes = map[RequestType]bool{
	TypeApproval:   true,
	TypeReview:     true,
	TypeDecision:   true,
	TypeValidation: true,
	TypeEscalation: true,
}

var validPriorities = map[Priority]bool{
	PriorityLow:      true,
	PriorityMedium:   true,
	PriorityHigh:     true,
	PriorityCritical: true,
}

var validStatuses = map[Status]bool{
	StatusPending:   true,
	StatusApproved:  true,
	StatusRejected:  true,
	StatusEscalated: true,
	StatusExpired:   true,
}

// Validate checks a CreateRequest and fills in defaults.
func (r *CreateRequest) Validate() error {
	if r.ProjectID == "" {
		return fmt.Errorf("project_id is required: %w", domain.ErrValidation)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("title is required: %w", domain.ErrValidation)
	}
	if r.Type == "" {
		r.Type = TypeApproval
	}
	if !validTypes[r.Type] {
		return fmt.Errorf("invalid request_type %q: %w", r.Type, domain.ErrValidation)
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if !validPriorities[r.Priority] {
		return fmt.Errorf("invalid priority %q: %w", r.Priority, domain.ErrValidation)
	}
	return nil
}

// Validate checks a RespondRequest.
func (r *RespondRequest) Validate() error {
	if r.Action != ActionApprove && r.Action != ActionReject {
		return fmt.Errorf("invalid action %q: %w", r.Action, domain.ErrValidation)
	}
	if strings.TrimSpace(r.RespondedBy) == "" {
		return fmt.Errorf("responded_by is required: %w", domain.ErrValidation)
	}
	return nil
}

// Validate checks an EscalateRequest.
func (r *EscalateRequest) Validate() error {
	if strings.TrimSpace(r.EscalatedTo) == "" {
		return fmt.Errorf("escalated_to is required: %w", domain.ErrValidation)
	}
	return nil
}

// Validate checks a ListFilter.
func (f *ListFilter) Validate() error {
	if f.Status != "" && !validStatuses[f.Status] {
		return fmt.Errorf("invalid status %q: %w", f.Status, domain.ErrValidation)
	}
	return nil
}

// Validate checks a Reconfigure. A non-positive limit is rejected with
// ErrThresholdMisconfigured.
func (r *Reconfigure) Validate() error {
	if r.Limit == nil && r.Status == nil {
		return fmt.Errorf("limit or status is required: %w", domain.ErrValidation)
	}
	if r.Limit != nil && *r.Limit <= 0 {
		return fmt.Errorf("limit %d: %w", *r.Limit, domain.ErrThresholdMisconfigured)
	}
	if r.Status != nil && *r.Status != CounterEnabled && *r.Status != CounterDisabled {
		return fmt.Errorf("invalid counter status %q: %w", *r.Status, domain.ErrValidation)
	}
	return nil
}
