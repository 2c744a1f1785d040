package gate

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Strob0t/phasegate/internal/domain"
)

var evalTime = time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

func TestScoreWeightedAverage(t *testing.T) {
	g := &QualityGate{
		Criteria: []Criterion{
			{Name: "coverage", Weight: 3, Threshold: 80},
			{Name: "lint", Weight: 1, Threshold: 1},
		},
		Metrics: []Metric{
			{Name: "coverage", Value: 40},
			{Name: "lint", Value: 5},
		},
	}
	r := Score(g, evalTime)
	// (0.5*3 + 1*1) / 4
	if math.Abs(r.OverallScore-0.625) > 1e-9 {
		t.Errorf("overall = %v, want 0.625", r.OverallScore)
	}
	if r.ComputedStatus != StatusWarning {
		t.Errorf("status = %s, want warning", r.ComputedStatus)
	}
	if len(r.Criteria) != 2 || r.Criteria[1].Score != 1 {
		t.Errorf("lint score should be capped at 1: %+v", r.Criteria)
	}
}

func TestScoreStatusBands(t *testing.T) {
	tests := []struct {
		value float64
		want  Status
	}{
		{0.9, StatusPass},
		{0.8, StatusPass},
		{0.7, StatusWarning},
		{0.6, StatusWarning},
		{0.59, StatusFail},
	}
	for _, tt := range tests {
		g := &QualityGate{
			Criteria: []Criterion{{Name: "m", Weight: 1, Threshold: 1}},
			Metrics:  []Metric{{Name: "m", Value: tt.value}},
		}
		if got := Score(g, evalTime).ComputedStatus; got != tt.want {
			t.Errorf("value %v: got %s, want %s", tt.value, got, tt.want)
		}
	}
}

func TestScoreMissingMetricScoresZero(t *testing.T) {
	g := &QualityGate{Criteria: []Criterion{{Name: "coverage", Weight: 1, Threshold: 80}}}
	r := Score(g, evalTime)
	if r.OverallScore != 0 || r.Criteria[0].Measured {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestScoreZeroTotalWeight(t *testing.T) {
	g := &QualityGate{
		Criteria: []Criterion{{Name: "a", Weight: 0, Threshold: 1}},
		Metrics:  []Metric{{Name: "a", Value: 1}},
	}
	if r := Score(g, evalTime); r.OverallScore != 0 || r.ComputedStatus != StatusFail {
		t.Errorf("unexpected result %+v", r)
	}
}

// A required criterion scoring zero vetoes the gate whatever the weights.
func TestPropertyRequiredZeroVetoes(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("required criterion at zero forces fail", prop.ForAll(
		func(requiredWeight float64, otherWeights []float64) bool {
			g := &QualityGate{
				Criteria: []Criterion{{Name: "required", Weight: requiredWeight, Threshold: 10, Required: true}},
				Metrics:  []Metric{{Name: "required", Value: 0}},
			}
			for i, w := range otherWeights {
				name := string(rune('a' + i%26))
				name += string(rune('a' + i/26%26))
				g.Criteria = append(g.Criteria, Criterion{Name: name, Weight: w, Threshold: 1})
				g.Metrics = append(g.Metrics, Metric{Name: name, Value: 1})
			}
			return Score(g, evalTime).ComputedStatus == StatusFail
		},
		gen.Float64Range(0, 1000),
		gen.SliceOf(gen.Float64Range(0, 1000)),
	))

	properties.TestingRun(t)
}

func TestWaiveKeepsScore(t *testing.T) {
	g := &QualityGate{
		Criteria: []Criterion{{Name: "m", Weight: 1, Threshold: 1}},
		Metrics:  []Metric{{Name: "m", Value: 0.2}},
	}
	g.Apply(Score(g, evalTime))
	if g.Status != StatusFail {
		t.Fatalf("status = %s", g.Status)
	}
	before := g.OverallScore

	g.Waive(WaiveRequest{WaivedBy: "lead", Reason: "known flaky"}, evalTime)
	if g.Status != StatusWaived || g.ComputedStatus != StatusFail || g.OverallScore != before {
		t.Errorf("waive altered score or computed status: %+v", g)
	}
	if g.Blocks() {
		t.Error("waived gate must not block")
	}

	g.Apply(Score(g, evalTime.Add(time.Minute)))
	if g.Status != StatusWaived {
		t.Error("re-applying a score must keep the waiver")
	}
}

func TestMergeMetrics(t *testing.T) {
	g := &QualityGate{Metrics: []Metric{{Name: "a", Value: 1}}}
	g.MergeMetrics([]Metric{{Name: "a", Value: 2}, {Name: "b", Value: 3}}, evalTime)
	if len(g.Metrics) != 2 || g.Metrics[0].Value != 2 || g.Metrics[1].MeasuredAt != evalTime {
		t.Errorf("unexpected metrics %+v", g.Metrics)
	}
}

func TestCreateRequestValidate(t *testing.T) {
	r := CreateRequest{ProjectID: "p", Phase: "coding", Criteria: []Criterion{{Name: "c", Weight: 1, Threshold: 1}}}
	if err := r.Validate(); err != nil {
		t.Fatal(err)
	}
	if r.PassingScore != DefaultPassingScore || r.WarningScore != DefaultWarningScore {
		t.Errorf("defaults not applied: %+v", r)
	}

	dup := CreateRequest{ProjectID: "p", Phase: "coding", Criteria: []Criterion{{Name: "c"}, {Name: "c"}}}
	if err := dup.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestWaiveRequestValidate(t *testing.T) {
	if err := (&WaiveRequest{WaivedBy: "x"}).Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}
