// Package service contains PhaseGate's application services.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/phasegate/internal/adapter/otel"
	"github.com/Strob0t/phasegate/internal/domain/event"
	"github.com/Strob0t/phasegate/internal/logger"
	"github.com/Strob0t/phasegate/internal/port/auditlog"
)

// AuditService is the only writer of the governance audit log.
type AuditService struct {
	store   auditlog.Store
	metrics *otel.Metrics
	now     func() time.Time
}

// NewAuditService creates an AuditService over store.
func NewAuditService(store auditlog.Store) *AuditService {
	return &AuditService{store: store, now: time.Now}
}

// SetMetrics attaches metric instruments.
func (s *AuditService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// Record stamps e with an id, timestamp and request id, encodes payload, and
// appends it. It returns after the append is durable.
func (s *AuditService) Record(ctx context.Context, e event.Entry, payload any) (*event.Entry, error) {
	e.ID = uuid.NewString()
	e.Timestamp = s.now().UTC()
	if e.RequestID == "" {
		e.RequestID = logger.RequestID(ctx)
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("audit %s: marshal payload: %w", e.Type, err)
		}
		e.Payload = data
	}

	if err := s.store.Append(ctx, &e); err != nil {
		slog.ErrorContext(ctx, "audit append failed", "event_type", e.Type, "project_id", e.ProjectID, "error", err)
		s.metrics.RecordAuditFailure(ctx, string(e.Type))
		return nil, fmt.Errorf("audit %s: %w", e.Type, err)
	}
	return &e, nil
}

// Query returns entries matching f, newest first.
func (s *AuditService) Query(ctx context.Context, f event.Filter) (*event.Page, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	f.Normalize()
	return s.store.Query(ctx, f)
}
