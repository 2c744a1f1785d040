// Package gate defines quality gates: weighted exit criteria checked before a
// project moves to its next phase.
package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/phasegate/internal/domain"
)

// Status is the effective outcome of a gate.
type Status string

const (
	StatusPending Status = "pending"
	StatusPass    Status = "pass"
	StatusFail    Status = "fail"
	StatusWarning Status = "warning"
	StatusWaived  Status = "waived"
)

// Default score thresholds.
const (
	DefaultPassingScore = 0.8
	DefaultWarningScore = 0.6
)

// Criterion is one weighted exit condition.
type Criterion struct {
	Name      string  `json:"name"`
	Weight    float64 `json:"weight"`
	Threshold float64 `json:"threshold"`
	Required  bool    `json:"required"`
}

// Metric is a measured value for a criterion of the same name.
type Metric struct {
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
	MeasuredAt time.Time `json:"measured_at"`
}

// QualityGate is a phase-scoped checkpoint.
type QualityGate struct {
	ID             string      `json:"id"`
	ProjectID      string      `json:"project_id"`
	Phase          string      `json:"phase"`
	Name           string      `json:"name"`
	Criteria       []Criterion `json:"criteria"`
	Metrics        []Metric    `json:"metrics"`
	PassingScore   float64     `json:"passing_score"`
	WarningScore   float64     `json:"warning_score"`
	OverallScore   float64     `json:"overall_score"`
	Status         Status      `json:"status"`
	ComputedStatus Status      `json:"computed_status,omitempty"`
	WaivedBy       string      `json:"waived_by,omitempty"`
	WaiverReason   string      `json:"waiver_reason,omitempty"`
	WaivedAt       *time.Time  `json:"waived_at,omitempty"`
	EvaluatedAt    *time.Time  `json:"evaluated_at,omitempty"`
	Version        int         `json:"version"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Blocks reports whether the gate's effective status forbids a phase change.
func (g *QualityGate) Blocks() bool {
	return g.Status == StatusFail || g.Status == StatusPending
}

// CreateRequest holds the fields needed to create a gate.
type CreateRequest struct {
	ProjectID    string      `json:"project_id"`
	Phase        string      `json:"phase"`
	Name         string      `json:"name"`
	Criteria     []Criterion `json:"criteria"`
	PassingScore float64     `json:"passing_score,omitempty"`
	WarningScore float64     `json:"warning_score,omitempty"`
}

// Validate checks a CreateRequest and fills in default scores.
func (r *CreateRequest) Validate() error {
	if r.ProjectID == "" {
		return fmt.Errorf("project_id is required: %w", domain.ErrValidation)
	}
	if strings.TrimSpace(r.Phase) == "" {
		return fmt.Errorf("phase is required: %w", domain.ErrValidation)
	}
	if len(r.Criteria) == 0 {
		return fmt.Errorf("at least one criterion is required: %w", domain.ErrValidation)
	}
	seen := make(map[string]bool, len(r.Criteria))
	for i, c := range r.Criteria {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("criteria[%d]: name is required: %w", i, domain.ErrValidation)
		}
		if seen[c.Name] {
			return fmt.Errorf("criteria[%d]: duplicate name %q: %w", i, c.Name, domain.ErrValidation)
		}
		seen[c.Name] = true
		if c.Weight < 0 {
			return fmt.Errorf("criteria[%d]: weight must be non-negative: %w", i, domain.ErrValidation)
		}
	}
	if r.PassingScore == 0 {
		r.PassingScore = DefaultPassingScore
	}
	if r.WarningScore == 0 {
		r.WarningScore = DefaultWarningScore
	}
	if r.PassingScore > 1 || r.WarningScore < 0 || r.WarningScore > r.PassingScore {
		return fmt.Errorf("scores must satisfy 0 <= warning <= passing <= 1: %w", domain.ErrValidation)
	}
	return nil
}

// WaiveRequest records who waived a gate and why.
type WaiveRequest struct {
	WaivedBy string `json:"waived_by"`
	Reason   string `json:"reason"`
}

// Validate checks a WaiveRequest.
func (r *WaiveRequest) Validate() error {
	if strings.TrimSpace(r.WaivedBy) == "" {
		return fmt.Errorf("waived_by is required: %w", domain.ErrValidation)
	}
	if strings.TrimSpace(r.Reason) == "" {
		return fmt.Errorf("reason is required: %w", domain.ErrValidation)
	}
	return nil
}
