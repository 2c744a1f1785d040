package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/phasegate/internal/adapter/otel"
	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/event"
	"github.com/Strob0t/phasegate/internal/domain/gate"
	"github.com/Strob0t/phasegate/internal/port/broadcast"
)

// GateStore persists quality gates.
type GateStore interface {
	CreateQualityGate(ctx context.Context, g *gate.QualityGate) error
	GetQualityGate(ctx context.Context, id string) (*gate.QualityGate, error)
	ListQualityGates(ctx context.Context, projectID string) ([]gate.QualityGate, error)
	UpdateQualityGate(ctx context.Context, g *gate.QualityGate) error
}

// GateService scores quality gates and records waivers.
type GateService struct {
	store   GateStore
	audit   *AuditService
	notify  *Notifier
	metrics *otel.Metrics
	locks   *keyLock
	now     func() time.Time
}

// NewGateService creates a GateService.
func NewGateService(store GateStore, audit *AuditService) *GateService {
	return &GateService{store: store, audit: audit, locks: newKeyLock(), now: time.Now}
}

// SetNotifier attaches the event fan-out.
func (s *GateService) SetNotifier(n *Notifier) { s.notify = n }

// SetMetrics attaches metric instruments.
func (s *GateService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// CreateGate stores a new pending gate.
func (s *GateService) CreateGate(ctx context.Context, req gate.CreateRequest) (*gate.QualityGate, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	g := &gate.QualityGate{
		ID:           uuid.NewString(),
		ProjectID:    req.ProjectID,
		Phase:        req.Phase,
		Name:         req.Name,
		Criteria:     req.Criteria,
		Metrics:      []gate.Metric{},
		PassingScore: req.PassingScore,
		WarningScore: req.WarningScore,
		Status:       gate.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateQualityGate(ctx, g); err != nil {
		return nil, fmt.Errorf("create quality gate: %w", err)
	}
	return g, nil
}

// GetGate returns a gate by id.
func (s *GateService) GetGate(ctx context.Context, id string) (*gate.QualityGate, error) {
	return s.store.GetQualityGate(ctx, id)
}

// ListGates returns a project's gates, newest first.
func (s *GateService) ListGates(ctx context.Context, projectID string) ([]gate.QualityGate, error) {
	return s.store.ListQualityGates(ctx, projectID)
}

// RecordMetrics merges measured values into the gate. Same-name metrics are
// replaced.
func (s *GateService) RecordMetrics(ctx context.Context, id string, metrics []gate.Metric) (*gate.QualityGate, error) {
	if len(metrics) == 0 {
		return nil, fmt.Errorf("at least one metric is required: %w", domain.ErrValidation)
	}
	for i, m := range metrics {
		if m.Name == "" {
			return nil, fmt.Errorf("metrics[%d]: name is required: %w", i, domain.ErrValidation)
		}
	}
	return s.update(ctx, id, event.TypeQualityGateMetricsRecorded, func(g *gate.QualityGate, now time.Time) (any, error) {
		g.MergeMetrics(metrics, now)
		return map[string]any{"gate_id": g.ID, "metrics": metrics}, nil
	})
}

// EvaluateGate scores the gate against its recorded metrics and stores the
// result. A waived gate is not re-scored: its stored score is reported with
// status waived, alongside a read-only breakdown of the current metrics.
func (s *GateService) EvaluateGate(ctx context.Context, id string) (*gate.Result, error) {
	ctx, span := otel.StartGateSpan(ctx, id)
	defer span.End()

	var res gate.Result
	_, err := s.update(ctx, id, event.TypeQualityGateEvaluated, func(g *gate.QualityGate, now time.Time) (any, error) {
		res = gate.Score(g, now)
		if g.Status == gate.StatusWaived {
			res.OverallScore = g.OverallScore
			res.ComputedStatus = g.ComputedStatus
			res.Status = gate.StatusWaived
			return res, errSkipWrite
		}
		g.Apply(res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordGate(ctx, string(res.Status))
	s.notify.Broadcast(ctx, broadcast.EventGateEvaluated, res)
	return &res, nil
}

// Waive overrides the gate's effective status. Score and computed status are
// kept.
func (s *GateService) Waive(ctx context.Context, id string, req gate.WaiveRequest) (*gate.QualityGate, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.update(ctx, id, event.TypeQualityGateWaived, func(g *gate.QualityGate, now time.Time) (any, error) {
		g.Waive(req, now)
		return map[string]any{
			"gate_id":         g.ID,
			"waived_by":       req.WaivedBy,
			"reason":          req.Reason,
			"computed_status": g.ComputedStatus,
			"overall_score":   g.OverallScore,
		}, nil
	})
}

// errSkipWrite tells update that fn's change is audited but not stored.
var errSkipWrite = errors.New("skip write")

// update applies fn to the latest copy of the gate, audits the payload fn
// returns as typ, then stores the gate. Nothing is stored when the audit
// append fails; a failed store is audited as quality_gate_update_failed.
// Lost version races are retried.
func (s *GateService) update(ctx context.Context, id string, typ event.Type, fn func(*gate.QualityGate, time.Time) (any, error)) (*gate.QualityGate, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	for attempt := 1; ; attempt++ {
		g, err := s.store.GetQualityGate(ctx, id)
		if err != nil {
			return nil, err
		}
		payload, err := fn(g, s.now().UTC())
		skip := errors.Is(err, errSkipWrite)
		if err != nil && !skip {
			return nil, err
		}
		if _, err := s.audit.Record(ctx, event.Entry{
			Type:      typ,
			Source:    event.SourceQualityGate,
			ProjectID: g.ProjectID,
		}, payload); err != nil {
			return nil, err
		}
		if skip {
			return g, nil
		}

		err = s.store.UpdateQualityGate(ctx, g)
		if err == nil {
			return g, nil
		}
		retry := errors.Is(err, domain.ErrConflict) && attempt < maxSaveAttempts
		s.recordFailure(ctx, g, typ, err, retry)
		if !retry {
			return nil, fmt.Errorf("update quality gate %s: %w", id, err)
		}
	}
}

// recordFailure audits a gate change that was logged but not stored.
func (s *GateService) recordFailure(ctx context.Context, g *gate.QualityGate, typ event.Type, cause error, retrying bool) {
	if _, err := s.audit.Record(ctx, event.Entry{
		Type:      event.TypeQualityGateUpdateFailed,
		Source:    event.SourceQualityGate,
		ProjectID: g.ProjectID,
	}, map[string]any{"gate_id": g.ID, "operation": typ, "error": cause.Error(), "retrying": retrying}); err != nil {
		slog.ErrorContext(ctx, "audit of failed gate update lost", "gate_id", g.ID, "error", err)
	}
}
