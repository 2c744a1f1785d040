package hitl

import "time"

// CounterStatus toggles threshold enforcement for a project.
type CounterStatus string

const (
	CounterEnabled  CounterStatus = "enabled"
	CounterDisabled CounterStatus = "disabled"
)

// Counter is a project's action counter configuration. Count is read from
// the shared counter cache; Limit and Status are durable.
type Counter struct {
	ProjectID string        `json:"project_id"`
	Count     int64         `json:"count"`
	Limit     int64         `json:"limit"`
	Status    CounterStatus `json:"status"`
	Version   int           `json:"version"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Enabled reports whether the threshold is enforced.
func (c *Counter) Enabled() bool { return c.Status != CounterDisabled }

// CheckResult is the outcome of one IncrementAndCheck call.
//
// Breached is true for every count above the limit. Crossed is true only for
// the increment that first moved the count past the limit, so exactly one
// caller observes it per counter cycle.
type CheckResult struct {
	Count    int64 `json:"count"`
	Limit    int64 `json:"limit"`
	Breached bool  `json:"breached"`
	Crossed  bool  `json:"crossed"`
}

// Check classifies a post-increment count against c.
func (c *Counter) Check(count int64) CheckResult {
	res := CheckResult{Count: count, Limit: c.Limit}
	if !c.Enabled() || c.Limit <= 0 {
		return res
	}
	res.Breached = count > c.Limit
	res.Crossed = count == c.Limit+1
	return res
}

// Reconfigure carries an operator's new counter settings. Nil fields are
// left unchanged.
type Reconfigure struct {
	Limit  *int64         `json:"limit,omitempty"`
	Status *CounterStatus `json:"status,omitempty"`
}
