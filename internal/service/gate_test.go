package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Strob0t/phasegate/internal/adapter/memory"
	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/event"
	"github.com/Strob0t/phasegate/internal/domain/gate"
)

func TestEvaluateGate(t *testing.T) {
	tests := []struct {
		name     string
		coverage float64
		build    float64
		want     gate.Status
	}{
		{"pass", 0.8, 1, gate.StatusPass},
		{"warning", 0.4, 1, gate.StatusWarning},
		{"fail on low score", 0, 1, gate.StatusFail},
		{"required veto", 1, 0, gate.StatusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			g := createCodingGate(t, h, "p1")
			recordMetrics(t, h, g.ID, tt.coverage, tt.build)

			res, err := h.gates.EvaluateGate(context.Background(), g.ID)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if res.Status != tt.want {
				t.Errorf("expected %q, got %q (score %.2f)", tt.want, res.Status, res.OverallScore)
			}
			stored, err := h.gates.GetGate(context.Background(), g.ID)
			if err != nil {
				t.Fatal(err)
			}
			if stored.Status != tt.want || stored.EvaluatedAt == nil {
				t.Errorf("stored gate not updated: %+v", stored)
			}
			if got := h.auditCount(t, "p1", event.TypeQualityGateEvaluated); got != 1 {
				t.Errorf("expected evaluated audit entry, got %d", got)
			}
		})
	}
}

func TestWaivedGateIsNotRescored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := createCodingGate(t, h, "p1")
	recordMetrics(t, h, g.ID, 0.4, 0)

	first, err := h.gates.EvaluateGate(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != gate.StatusFail {
		t.Fatalf("expected fail, got %q", first.Status)
	}

	waived, err := h.gates.Waive(ctx, g.ID, gate.WaiveRequest{WaivedBy: "alice", Reason: "flaky build agent"})
	if err != nil {
		t.Fatalf("waive: %v", err)
	}
	if waived.Status != gate.StatusWaived || waived.ComputedStatus != gate.StatusFail {
		t.Errorf("waiver must keep computed status: %+v", waived)
	}

	recordMetrics(t, h, g.ID, 1, 1)
	again, err := h.gates.EvaluateGate(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != gate.StatusWaived || again.OverallScore != first.OverallScore || again.ComputedStatus != gate.StatusFail {
		t.Errorf("waived gate was re-scored: %+v", again)
	}
	if len(again.Criteria) != 2 || again.Criteria[0].Score != 1 || again.Criteria[1].Score != 1 {
		t.Errorf("expected breakdown of current metrics, got %+v", again.Criteria)
	}
	stored, err := h.gates.GetGate(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.OverallScore != first.OverallScore || stored.ComputedStatus != gate.StatusFail {
		t.Errorf("evaluating a waived gate changed it: %+v", stored)
	}
	if got := h.auditCount(t, "p1", event.TypeQualityGateEvaluated); got != 2 {
		t.Errorf("expected both evaluations audited, got %d", got)
	}
	if got := h.auditCount(t, "p1", event.TypeQualityGateWaived); got != 1 {
		t.Errorf("expected waived audit entry, got %d", got)
	}
}

func TestGateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.gates.CreateGate(ctx, gate.CreateRequest{ProjectID: "p1", Phase: "coding"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("no criteria: expected ErrValidation, got %v", err)
	}

	g := createCodingGate(t, h, "p1")
	if _, err := h.gates.RecordMetrics(ctx, g.ID, nil); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("no metrics: expected ErrValidation, got %v", err)
	}
	if _, err := h.gates.RecordMetrics(ctx, g.ID, []gate.Metric{{Value: 1}}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("unnamed metric: expected ErrValidation, got %v", err)
	}
	if _, err := h.gates.Waive(ctx, g.ID, gate.WaiveRequest{WaivedBy: "alice"}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("waiver without reason: expected ErrValidation, got %v", err)
	}
	if _, err := h.gates.EvaluateGate(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing gate: expected ErrNotFound, got %v", err)
	}
}

func TestListGates(t *testing.T) {
	h := newHarness(t)
	createCodingGate(t, h, "p1")
	createCodingGate(t, h, "p1")
	createCodingGate(t, h, "p2")

	gates, err := h.gates.ListGates(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(gates) != 2 {
		t.Errorf("expected 2 gates for p1, got %d", len(gates))
	}
}

func TestGateUnchangedWhenAuditFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := createCodingGate(t, h, "p1")
	recordMetrics(t, h, g.ID, 1, 1)
	h.gates.audit = NewAuditService(failingAuditLog{h.auditLog})

	if _, err := h.gates.EvaluateGate(ctx, g.ID); err == nil {
		t.Fatal("expected evaluate to fail when the evaluation cannot be audited")
	}
	if _, err := h.gates.Waive(ctx, g.ID, gate.WaiveRequest{WaivedBy: "alice", Reason: "release freeze"}); err == nil {
		t.Fatal("expected waive to fail when the waiver cannot be audited")
	}
	if _, err := h.gates.RecordMetrics(ctx, g.ID, []gate.Metric{{Name: "coverage", Value: 0.1}}); err == nil {
		t.Fatal("expected metrics to be refused when they cannot be audited")
	}

	stored, err := h.gates.GetGate(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != gate.StatusPending || stored.EvaluatedAt != nil || stored.WaivedBy != "" {
		t.Errorf("gate changed without an audit entry: %+v", stored)
	}
	for _, m := range stored.Metrics {
		if m.Name == "coverage" && m.Value != 1 {
			t.Errorf("coverage changed without an audit entry: %v", m.Value)
		}
	}
}

// failingGateStore refuses every gate update.
type failingGateStore struct{ *memory.Store }

func (failingGateStore) UpdateQualityGate(context.Context, *gate.QualityGate) error {
	return errors.New("disk full")
}

func TestGateStoreFailureIsAudited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	g := createCodingGate(t, h, "p1")
	svc := NewGateService(failingGateStore{h.store}, h.audit)

	if _, err := svc.EvaluateGate(ctx, g.ID); err == nil {
		t.Fatal("expected store failure")
	}
	if got := h.auditCount(t, "p1", event.TypeQualityGateEvaluated); got != 1 {
		t.Errorf("expected the evaluation audited ahead of the write, got %d", got)
	}
	if got := h.auditCount(t, "p1", event.TypeQualityGateUpdateFailed); got != 1 {
		t.Errorf("expected one update_failed entry, got %d", got)
	}
	stored, err := h.gates.GetGate(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != gate.StatusPending {
		t.Errorf("expected gate untouched, got %q", stored.Status)
	}
}
