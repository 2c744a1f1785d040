package gate

import "time"

// CriterionResult is the scored breakdown for one criterion.
type CriterionResult struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Measured  bool    `json:"measured"`
	Threshold float64 `json:"threshold"`
	Weight    float64 `json:"weight"`
	Required  bool    `json:"required"`
	Score     float64 `json:"score"`
}

// Result is the outcome of scoring a gate.
type Result struct {
	GateID         string            `json:"gate_id"`
	OverallScore   float64           `json:"overall_score"`
	ComputedStatus Status            `json:"computed_status"`
	Status         Status            `json:"status"`
	RequiredVeto   bool              `json:"required_veto"`
	Criteria       []CriterionResult `json:"criteria"`
	EvaluatedAt    time.Time         `json:"evaluated_at"`
}

// Score computes the weighted result for g. It is pure: g is not modified.
func Score(g *QualityGate, now time.Time) Result {
	values := make(map[string]float64, len(g.Metrics))
	for _, m := range g.Metrics {
		values[m.Name] = m.Value
	}

	res := Result{GateID: g.ID, EvaluatedAt: now, Criteria: make([]CriterionResult, 0, len(g.Criteria))}
	var weighted, total float64
	for _, c := range g.Criteria {
		v, ok := values[c.Name]
		cr := CriterionResult{
			Name:      c.Name,
			Value:     v,
			Measured:  ok,
			Threshold: c.Threshold,
			Weight:    c.Weight,
			Required:  c.Required,
		}
		if ok {
			cr.Score = criterionScore(v, c.Threshold)
		}
		if c.Required && cr.Score == 0 {
			res.RequiredVeto = true
		}
		weighted += cr.Score * c.Weight
		total += c.Weight
		res.Criteria = append(res.Criteria, cr)
	}
	if total > 0 {
		res.OverallScore = weighted / total
	}

	passing, warning := g.PassingScore, g.WarningScore
	if passing == 0 {
		passing = DefaultPassingScore
	}
	if warning == 0 {
		warning = DefaultWarningScore
	}
	switch {
	case res.RequiredVeto:
		res.ComputedStatus = StatusFail
	case res.OverallScore >= passing:
		res.ComputedStatus = StatusPass
	case res.OverallScore >= warning:
		res.ComputedStatus = StatusWarning
	default:
		res.ComputedStatus = StatusFail
	}
	res.Status = res.ComputedStatus
	return res
}

// criterionScore is value/threshold capped at 1. A non-positive threshold
// scores 1 for any positive value.
func criterionScore(value, threshold float64) float64 {
	if threshold <= 0 {
		if value > 0 {
			return 1
		}
		return 0
	}
	s := value / threshold
	if s > 1 {
		return 1
	}
	if s < 0 {
		return 0
	}
	return s
}

// Apply writes r onto g. A waived gate keeps its waived status.
func (g *QualityGate) Apply(r Result) {
	g.OverallScore = r.OverallScore
	g.ComputedStatus = r.ComputedStatus
	g.EvaluatedAt = &r.EvaluatedAt
	g.UpdatedAt = r.EvaluatedAt
	if g.Status != StatusWaived {
		g.Status = r.ComputedStatus
	}
}

// Waive marks g waived without touching its score or computed status.
func (g *QualityGate) Waive(req WaiveRequest, now time.Time) {
	g.Status = StatusWaived
	g.WaivedBy = req.WaivedBy
	g.WaiverReason = req.Reason
	g.WaivedAt = &now
	g.UpdatedAt = now
}

// MergeMetrics replaces metrics with the same name and appends new ones.
func (g *QualityGate) MergeMetrics(in []Metric, now time.Time) {
	idx := make(map[string]int, len(g.Metrics))
	for i, m := range g.Metrics {
		idx[m.Name] = i
	}
	for _, m := range in {
		if m.MeasuredAt.IsZero() {
			m.MeasuredAt = now
		}
		if i, ok := idx[m.Name]; ok {
			g.Metrics[i] = m
			continue
		}
		idx[m.Name] = len(g.Metrics)
		g.Metrics = append(g.Metrics, m)
	}
	g.UpdatedAt = now
}
