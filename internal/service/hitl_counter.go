package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/phasegate/internal/adapter/otel"
	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/event"
	"github.com/Strob0t/phasegate/internal/domain/hitl"
	"github.com/Strob0t/phasegate/internal/port/broadcast"
	"github.com/Strob0t/phasegate/internal/port/counter"
)

// CounterStore persists counter configuration.
type CounterStore interface {
	GetHITLCounter(ctx context.Context, projectID string) (*hitl.Counter, error)
	SaveHITLCounter(ctx context.Context, c *hitl.Counter) error
}

// maxSaveAttempts bounds optimistic retries when saving counter config.
const maxSaveAttempts = 3

// CounterService tracks autonomous actions per project against the
// configured limit. The count lives only in the shared counter cache and
// only moves back to zero through Reset or Reconfigure, both audited.
type CounterService struct {
	store        CounterStore
	cache        counter.Cache
	defaultLimit int64
	audit        *AuditService
	notify       *Notifier
	metrics      *otel.Metrics
	now          func() time.Time
}

// NewCounterService creates a CounterService. Projects without a stored
// configuration use defaultLimit, enabled.
func NewCounterService(store CounterStore, cache counter.Cache, defaultLimit int64, audit *AuditService) *CounterService {
	return &CounterService{
		store:        store,
		cache:        cache,
		defaultLimit: defaultLimit,
		audit:        audit,
		now:          time.Now,
	}
}

// SetNotifier attaches the event fan-out.
func (s *CounterService) SetNotifier(n *Notifier) { s.notify = n }

// SetMetrics attaches metric instruments.
func (s *CounterService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// config returns the stored configuration or the default.
func (s *CounterService) config(ctx context.Context, projectID string) (*hitl.Counter, error) {
	c, err := s.store.GetHITLCounter(ctx, projectID)
	if errors.Is(err, domain.ErrNotFound) {
		return &hitl.Counter{ProjectID: projectID, Limit: s.defaultLimit, Status: hitl.CounterEnabled}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("counter config %s: %w", projectID, err)
	}
	return c, nil
}

// Status returns the project's counter with its live count.
func (s *CounterService) Status(ctx context.Context, projectID string) (*hitl.Counter, error) {
	c, err := s.config(ctx, projectID)
	if err != nil {
		return nil, err
	}
	n, err := s.cache.Get(ctx, counter.Key(projectID))
	if err != nil {
		return nil, fmt.Errorf("counter get %s: %w", projectID, err)
	}
	c.Count = n
	return c, nil
}

// IncrementAndCheck counts one autonomous action. Exactly one caller per
// counter cycle sees Crossed; that caller is expected to open the approval
// request.
func (s *CounterService) IncrementAndCheck(ctx context.Context, projectID string) (hitl.CheckResult, error) {
	c, err := s.config(ctx, projectID)
	if err != nil {
		return hitl.CheckResult{}, err
	}

	n, err := s.cache.Incr(ctx, counter.Key(projectID))
	if err != nil {
		return hitl.CheckResult{}, fmt.Errorf("counter incr %s: %w", projectID, err)
	}

	res := c.Check(n)
	if res.Crossed {
		s.metrics.RecordBreach(ctx, projectID)
		if _, err := s.audit.Record(ctx, event.Entry{
			Type:      event.TypeHITLCounterBreached,
			Source:    event.SourceHITLCounter,
			ProjectID: projectID,
		}, res); err != nil {
			return res, err
		}
		s.notify.Broadcast(ctx, broadcast.EventCounterBreach, map[string]any{
			"project_id": projectID, "count": res.Count, "limit": res.Limit,
		})
	}
	return res, nil
}

// Reset zeroes the project's count. The reset is audited before the count
// changes.
func (s *CounterService) Reset(ctx context.Context, projectID, reason string) error {
	payload := map[string]any{"reason": reason}
	if _, err := s.audit.Record(ctx, event.Entry{
		Type:      event.TypeHITLCounterReset,
		Source:    event.SourceHITLCounter,
		ProjectID: projectID,
	}, payload); err != nil {
		return err
	}
	if err := s.cache.Set(ctx, counter.Key(projectID), 0); err != nil {
		err = fmt.Errorf("counter reset %s: %w", projectID, err)
		s.recordFailure(ctx, projectID, event.TypeHITLCounterResetFailed, payload, err)
		return err
	}
	return nil
}

// Reconfigure applies new settings and resets the count. A non-positive
// limit is rejected with domain.ErrThresholdMisconfigured and audit-logged.
// The change is audited before anything is stored.
func (s *CounterService) Reconfigure(ctx context.Context, projectID string, req hitl.Reconfigure, by string) (*hitl.Counter, error) {
	if err := req.Validate(); err != nil {
		_, auditErr := s.audit.Record(ctx, event.Entry{
			Type:      event.TypeHITLCounterReconfigureFailed,
			Source:    event.SourceHITLCounter,
			ProjectID: projectID,
		}, map[string]any{"request": req, "by": by, "error": err.Error()})
		return nil, errors.Join(err, auditErr)
	}

	c, err := s.config(ctx, projectID)
	if err != nil {
		return nil, err
	}
	applyReconfigure(c, req)

	payload := map[string]any{"limit": c.Limit, "status": c.Status, "by": by}
	if _, err := s.audit.Record(ctx, event.Entry{
		Type:      event.TypeHITLCounterReconfigured,
		Source:    event.SourceHITLCounter,
		ProjectID: projectID,
	}, payload); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		c.UpdatedAt = s.now().UTC()
		err = s.store.SaveHITLCounter(ctx, c)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrConflict) || attempt == maxSaveAttempts {
			err = fmt.Errorf("save counter %s: %w", projectID, err)
			s.recordFailure(ctx, projectID, event.TypeHITLCounterReconfigureFailed, payload, err)
			return nil, err
		}
		if c, err = s.config(ctx, projectID); err != nil {
			s.recordFailure(ctx, projectID, event.TypeHITLCounterReconfigureFailed, payload, err)
			return nil, err
		}
		applyReconfigure(c, req)
	}

	if err := s.cache.Set(ctx, counter.Key(projectID), 0); err != nil {
		err = fmt.Errorf("counter reset %s: %w", projectID, err)
		s.recordFailure(ctx, projectID, event.TypeHITLCounterResetFailed, payload, err)
		return nil, err
	}
	c.Count = 0
	return c, nil
}

func applyReconfigure(c *hitl.Counter, req hitl.Reconfigure) {
	if req.Limit != nil {
		c.Limit = *req.Limit
	}
	if req.Status != nil {
		c.Status = *req.Status
	}
}

// recordFailure audits a counter change that was logged but not applied.
func (s *CounterService) recordFailure(ctx context.Context, projectID string, typ event.Type, payload map[string]any, cause error) {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["error"] = cause.Error()
	if _, err := s.audit.Record(ctx, event.Entry{
		Type:      typ,
		Source:    event.SourceHITLCounter,
		ProjectID: projectID,
	}, out); err != nil {
		slog.ErrorContext(ctx, "audit of failed counter change lost", "project_id", projectID, "type", typ, "error", err)
	}
}
