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
	"github.com/Strob0t/phasegate/internal/domain/hitl"
	"github.com/Strob0t/phasegate/internal/port/broadcast"
	"github.com/Strob0t/phasegate/internal/port/messagequeue"
)

// HITLStore persists HITL requests.
type HITLStore interface {
	CreateHITLRequest(ctx context.Context, r *hitl.Request) error
	GetHITLRequest(ctx context.Context, id string) (*hitl.Request, error)
	ListHITLRequests(ctx context.Context, f hitl.ListFilter) ([]hitl.Request, error)
	ListDueHITLRequests(ctx context.Context, now time.Time, limit int) ([]hitl.Request, error)
	UpdateHITLRequest(ctx context.Context, r *hitl.Request) error
}

// HITLService runs the HITL request lifecycle. Transitions for one project
// are serialized in-process; the store's version check catches races with
// other replicas.
type HITLService struct {
	store      HITLStore
	counter    *CounterService
	audit      *AuditService
	notify     *Notifier
	metrics    *otel.Metrics
	locks      *keyLock
	defaultTTL time.Duration
	sweepBatch int
	now        func() time.Time
}

// NewHITLService creates a HITLService. Requests created without an expiry
// get now+defaultTTL; a zero defaultTTL leaves them open indefinitely.
func NewHITLService(store HITLStore, counter *CounterService, audit *AuditService, defaultTTL time.Duration) *HITLService {
	return &HITLService{
		store:      store,
		counter:    counter,
		audit:      audit,
		locks:      newKeyLock(),
		defaultTTL: defaultTTL,
		sweepBatch: 100,
		now:        time.Now,
	}
}

// SetNotifier attaches the event fan-out.
func (s *HITLService) SetNotifier(n *Notifier) { s.notify = n }

// SetMetrics attaches metric instruments.
func (s *HITLService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// SetSweepBatch bounds how many due requests one ExpireDue pass handles.
func (s *HITLService) SetSweepBatch(n int) {
	if n > 0 {
		s.sweepBatch = n
	}
}

// Counter exposes the project counter tracker.
func (s *HITLService) Counter() *CounterService { return s.counter }

// Create opens a pending request.
func (s *HITLService) Create(ctx context.Context, req hitl.CreateRequest) (*hitl.Request, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	r := &hitl.Request{
		ID:          uuid.NewString(),
		ProjectID:   req.ProjectID,
		TaskID:      req.TaskID,
		AgentType:   req.AgentType,
		Type:        req.Type,
		Status:      hitl.StatusPending,
		Priority:    req.Priority,
		Title:       req.Title,
		Description: req.Description,
		Context:     req.Context,
		Options:     req.Options,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   req.ExpiresAt,
	}
	if r.ExpiresAt == nil && s.defaultTTL > 0 {
		exp := now.Add(s.defaultTTL)
		r.ExpiresAt = &exp
	}

	if _, err := s.record(ctx, event.TypeHITLRequestCreated, r, nil); err != nil {
		return nil, err
	}
	if err := s.store.CreateHITLRequest(ctx, r); err != nil {
		s.recordFailure(ctx, r, "create", err)
		return nil, fmt.Errorf("create hitl request: %w", err)
	}

	s.metrics.RecordHITLTransition(ctx, string(r.Status))
	s.announce(ctx, broadcast.EventHITLCreated, "created", r, "")
	slog.InfoContext(ctx, "hitl request created", "id", r.ID, "project_id", r.ProjectID, "priority", r.Priority)
	return r, nil
}

// Get returns a request, expiring it first when it is overdue.
func (s *HITLService) Get(ctx context.Context, id string) (*hitl.Request, error) {
	r, err := s.store.GetHITLRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.IsDue(s.now()) {
		return r, nil
	}
	expired, err := s.Expire(ctx, id)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Someone else moved it first.
		return s.store.GetHITLRequest(ctx, id)
	}
	return expired, err
}

// List returns requests matching f. Overdue open requests are expired
// before the store applies the status filter, so a query for expired
// requests sees them and a query for pending ones does not.
func (s *HITLService) List(ctx context.Context, f hitl.ListFilter) ([]hitl.Request, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	f.Normalize()

	now := s.now()
	if err := s.expireAllDue(ctx, now); err != nil {
		return nil, err
	}
	items, err := s.store.ListHITLRequests(ctx, f)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for i := range items {
		if items[i].IsDue(now) {
			expired, err := s.Expire(ctx, items[i].ID)
			if err != nil {
				slog.WarnContext(ctx, "lazy expiry failed", "id", items[i].ID, "error", err)
			} else {
				items[i] = *expired
			}
		}
		if f.Status != "" && items[i].Status != f.Status {
			continue
		}
		out = append(out, items[i])
	}
	return out, nil
}

// Respond records a reviewer's approve or reject. Only pending and escalated
// requests accept a response; an overdue request is expired first and the
// response fails with domain.ErrInvalidTransition.
func (s *HITLService) Respond(ctx context.Context, id string, resp hitl.RespondRequest) (*hitl.Request, error) {
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	r, err := s.transition(ctx, id, "respond", event.TypeHITLRequestResponded, map[string]any{
		"action": resp.Action, "responded_by": resp.RespondedBy, "reset_counter": resp.ResetsCounter(),
	}, func(r *hitl.Request, now time.Time) error {
		return r.ApplyResponse(resp, now)
	})
	if err != nil {
		return nil, err
	}

	if resp.ResetsCounter() && s.counter != nil {
		if err := s.counter.Reset(ctx, r.ProjectID, fmt.Sprintf("hitl request %s %s", r.ID, r.Status)); err != nil {
			return r, err
		}
	}
	s.announce(ctx, broadcast.EventHITLResponded, "responded", r, resp.RespondedBy)
	return r, nil
}

// Escalate forwards an open request. Re-escalating an escalated request
// bumps escalation_count again.
func (s *HITLService) Escalate(ctx context.Context, id string, esc hitl.EscalateRequest) (*hitl.Request, error) {
	if err := esc.Validate(); err != nil {
		return nil, err
	}
	r, err := s.transition(ctx, id, "escalate", event.TypeHITLRequestEscalated, map[string]any{
		"escalated_to": esc.EscalatedTo, "reason": esc.Reason,
	}, func(r *hitl.Request, now time.Time) error {
		return r.ApplyEscalation(esc, now)
	})
	if err != nil {
		return nil, err
	}
	s.announce(ctx, broadcast.EventHITLEscalated, "escalated", r, esc.EscalatedTo)
	return r, nil
}

// Expire moves an overdue open request to expired. Expiry never escalates.
func (s *HITLService) Expire(ctx context.Context, id string) (*hitl.Request, error) {
	r, err := s.transition(ctx, id, "expire", event.TypeHITLRequestExpired, nil, func(r *hitl.Request, now time.Time) error {
		return r.ApplyExpiry(now)
	})
	if err != nil {
		return nil, err
	}
	s.announce(ctx, broadcast.EventHITLExpired, "expired", r, "")
	return r, nil
}

// ExpireDue expires up to one batch of overdue requests and returns how
// many it moved. Per-request failures are logged and skipped.
func (s *HITLService) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListDueHITLRequests(ctx, now, s.sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list due hitl requests: %w", err)
	}
	n := 0
	for i := range due {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if _, err := s.Expire(ctx, due[i].ID); err != nil {
			if !errors.Is(err, domain.ErrInvalidTransition) {
				slog.WarnContext(ctx, "expire failed", "id", due[i].ID, "error", err)
			}
			continue
		}
		n++
	}
	return n, nil
}

// expireAllDue sweeps in batches until a batch comes back short.
func (s *HITLService) expireAllDue(ctx context.Context, now time.Time) error {
	for {
		n, err := s.ExpireDue(ctx, now)
		if err != nil {
			return err
		}
		if n < s.sweepBatch {
			return nil
		}
	}
}

// ReconfigureCounter applies new counter settings for a project.
func (s *HITLService) ReconfigureCounter(ctx context.Context, projectID string, req hitl.Reconfigure, by string) (*hitl.Counter, error) {
	return s.counter.Reconfigure(ctx, projectID, req, by)
}

// transition runs one state change under the project's lock: it re-reads
// the request, lazily expires it when due, applies fn, appends the audit
// entry, then writes. A failed write is audit-logged as
// hitl_transition_failed; a lost version race surfaces as
// domain.ErrInvalidTransition.
func (s *HITLService) transition(
	ctx context.Context,
	id, op string,
	typ event.Type,
	payload map[string]any,
	fn func(*hitl.Request, time.Time) error,
) (*hitl.Request, error) {
	ctx, span := otel.StartHITLSpan(ctx, op, id)
	defer span.End()

	peek, err := s.store.GetHITLRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(peek.ProjectID)
	defer unlock()

	r, err := s.store.GetHITLRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	if op != "expire" && r.IsDue(now) {
		if err := s.expireLocked(ctx, r, now); err != nil {
			return nil, err
		}
		s.announce(ctx, broadcast.EventHITLExpired, "expired", r, "")
		err := fmt.Errorf("%s request %s: expired at %s: %w", op, id, r.ExpiresAt.Format(time.RFC3339), domain.ErrInvalidTransition)
		s.recordFailure(ctx, r, op, err)
		return nil, err
	}

	from := r.Status
	if err := fn(r, now); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			s.recordFailure(ctx, r, op, err)
		}
		return nil, err
	}

	if payload == nil {
		payload = map[string]any{}
	}
	payload["from"] = from
	payload["to"] = r.Status
	if _, err := s.record(ctx, typ, r, payload); err != nil {
		return nil, err
	}

	if err := s.store.UpdateHITLRequest(ctx, r); err != nil {
		s.recordFailure(ctx, r, op, err)
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%s request %s: concurrent update: %w", op, id, domain.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("%s request %s: %w", op, id, err)
	}

	s.metrics.RecordHITLTransition(ctx, string(r.Status))
	slog.InfoContext(ctx, "hitl transition", "id", r.ID, "project_id", r.ProjectID, "from", from, "to", r.Status)
	return r, nil
}

// expireLocked writes an expiry for r. The caller holds the project lock.
func (s *HITLService) expireLocked(ctx context.Context, r *hitl.Request, now time.Time) error {
	from := r.Status
	if err := r.ApplyExpiry(now); err != nil {
		return err
	}
	if _, err := s.record(ctx, event.TypeHITLRequestExpired, r, map[string]any{"from": from, "to": r.Status}); err != nil {
		return err
	}
	if err := s.store.UpdateHITLRequest(ctx, r); err != nil {
		s.recordFailure(ctx, r, "expire", err)
		if errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("expire request %s: concurrent update: %w", r.ID, domain.ErrInvalidTransition)
		}
		return fmt.Errorf("expire request %s: %w", r.ID, err)
	}
	s.metrics.RecordHITLTransition(ctx, string(r.Status))
	return nil
}

func (s *HITLService) record(ctx context.Context, typ event.Type, r *hitl.Request, payload map[string]any) (*event.Entry, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["status"] = r.Status
	payload["request_type"] = r.Type
	payload["priority"] = r.Priority
	return s.audit.Record(ctx, event.Entry{
		Type:          typ,
		Source:        event.SourceHITLManager,
		ProjectID:     r.ProjectID,
		TaskID:        r.TaskID,
		HITLRequestID: r.ID,
	}, payload)
}

// recordFailure appends hitl_transition_failed. Its own failure is logged
// only; the caller already returns the original error.
func (s *HITLService) recordFailure(ctx context.Context, r *hitl.Request, op string, cause error) {
	_, err := s.audit.Record(ctx, event.Entry{
		Type:          event.TypeHITLTransitionFailed,
		Source:        event.SourceHITLManager,
		ProjectID:     r.ProjectID,
		TaskID:        r.TaskID,
		HITLRequestID: r.ID,
	}, map[string]any{"operation": op, "status": r.Status, "error": cause.Error()})
	if err != nil {
		slog.ErrorContext(ctx, "audit of failed transition lost", "id", r.ID, "op", op, "error", err)
	}
}

func (s *HITLService) announce(ctx context.Context, wsEvent, mqEvent string, r *hitl.Request, actor string) {
	s.notify.Broadcast(ctx, wsEvent, r)
	s.notify.Publish(ctx, messagequeue.HITLSubject(mqEvent), messagequeue.HITLEventPayload{
		RequestID:   r.ID,
		ProjectID:   r.ProjectID,
		TaskID:      r.TaskID,
		Status:      string(r.Status),
		RequestType: string(r.Type),
		Priority:    string(r.Priority),
		Actor:       actor,
		OccurredAt:  r.UpdatedAt,
	})
}
