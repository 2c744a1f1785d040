package hitl

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/phasegate/internal/domain"
)

// The transition methods mutate r in place and leave Version alone; the
// store bumps it when the update is written.

// ApplyResponse moves an open request to approved or rejected.
func (r *Request) ApplyResponse(resp RespondRequest, now time.Time) error {
	if !r.Status.IsOpen() {
		return fmt.Errorf("respond to %s request %s: %w", r.Status, r.ID, domain.ErrInvalidTransition)
	}
	switch resp.Action {
	case ActionApprove:
		r.Status = StatusApproved
	case ActionReject:
		r.Status = StatusRejected
	default:
		return fmt.Errorf("invalid action %q: %w", resp.Action, domain.ErrValidation)
	}

	body, err := json.Marshal(struct {
		Action  Action `json:"action"`
		Comment string `json:"comment,omitempty"`
	}{resp.Action, resp.Comment})
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	r.Response = body
	r.ResponseData = resp.ResponseData
	r.Comment = resp.Comment
	r.RespondedBy = resp.RespondedBy
	r.RespondedAt = &now
	r.UpdatedAt = now
	return nil
}

// ApplyEscalation moves an open request to escalated. Escalating an already
// escalated request re-targets it and bumps the count.
func (r *Request) ApplyEscalation(esc EscalateRequest, now time.Time) error {
	if !r.Status.IsOpen() {
		return fmt.Errorf("escalate %s request %s: %w", r.Status, r.ID, domain.ErrInvalidTransition)
	}
	r.Status = StatusEscalated
	r.EscalatedTo = esc.EscalatedTo
	r.EscalationReason = esc.Reason
	r.EscalationCount++
	r.EscalatedAt = &now
	r.UpdatedAt = now
	return nil
}

// ApplyExpiry moves a due request to expired.
func (r *Request) ApplyExpiry(now time.Time) error {
	if !r.IsDue(now) {
		return fmt.Errorf("expire %s request %s: %w", r.Status, r.ID, domain.ErrInvalidTransition)
	}
	r.Status = StatusExpired
	r.UpdatedAt = now
	return nil
}
