package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Strob0t/phasegate/internal/adapter/otel"
	"github.com/Strob0t/phasegate/internal/domain/event"
	"github.com/Strob0t/phasegate/internal/domain/policy"
	"github.com/Strob0t/phasegate/internal/port/broadcast"
	"github.com/Strob0t/phasegate/internal/port/messagequeue"
	"github.com/Strob0t/phasegate/internal/port/phase"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 250 * time.Millisecond

// Authorizer reports whether a name belongs to a registered human reviewer.
type Authorizer interface {
	IsReviewer(name string) bool
}

// EvaluateRequest is one admission question for the policy engine.
type EvaluateRequest struct {
	ProjectID    string  `json:"project_id"`
	TaskID       string  `json:"task_id,omitempty"`
	AgentType    string  `json:"agent_type"`
	Instructions *string `json:"instructions,omitempty"`
	Override     bool    `json:"override,omitempty"`
	OverrideBy   string  `json:"override_by,omitempty"`
}

// ReloadResult describes the table now in effect.
type ReloadResult struct {
	Source string   `json:"source"`
	Phases []string `json:"phases"`
}

// PolicyService evaluates agent actions against the phase table. The table
// is immutable and replaced atomically on reload.
type PolicyService struct {
	path      string
	table     atomic.Pointer[policy.Table]
	phases    phase.Lookup
	reviewers Authorizer
	audit     *AuditService
	notify    *Notifier
	metrics   *otel.Metrics
}

// NewPolicyService loads the table at path. A load failure leaves the
// service running with an unavailable table that denies every action.
func NewPolicyService(path string, phases phase.Lookup, reviewers Authorizer, audit *AuditService) *PolicyService {
	s := &PolicyService{path: path, phases: phases, reviewers: reviewers, audit: audit}
	t, err := policy.LoadOrUnavailable(path)
	if err != nil {
		slog.Error("policy load failed, denying all actions", "path", path, "error", err)
	}
	s.table.Store(t)
	return s
}

// SetNotifier attaches the event fan-out.
func (s *PolicyService) SetNotifier(n *Notifier) { s.notify = n }

// SetMetrics attaches metric instruments.
func (s *PolicyService) SetMetrics(m *otel.Metrics) { s.metrics = m }

// Table returns the table currently in effect.
func (s *PolicyService) Table() *policy.Table { return s.table.Load() }

// NextPhase returns the phase after current in the configured order.
func (s *PolicyService) NextPhase(current string) (string, bool) {
	return s.table.Load().NextPhase(current)
}

// Evaluate decides whether req may proceed and audit-logs the decision. An
// audit failure fails the call.
func (s *PolicyService) Evaluate(ctx context.Context, req EvaluateRequest) (policy.Decision, error) {
	current, err := s.phases.CurrentPhase(ctx, req.ProjectID)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("phase lookup %s: %w", req.ProjectID, err)
	}

	in := policy.Input{
		Phase:        current,
		AgentType:    req.AgentType,
		Instructions: req.Instructions,
		Override:     req.Override,
	}
	if req.Override && s.reviewers != nil {
		in.OverrideAuthorized = s.reviewers.IsReviewer(req.OverrideBy)
	}

	d := s.table.Load().Evaluate(in)
	s.metrics.RecordDecision(ctx, string(d.Status), string(d.ReasonCode))

	payload := map[string]any{
		"agent_type": req.AgentType,
		"override":   req.Override,
		"decision":   d,
	}
	if req.OverrideBy != "" {
		payload["override_by"] = req.OverrideBy
	}
	if _, err := s.audit.Record(ctx, event.Entry{
		Type:      event.TypePolicyEvaluated,
		Source:    event.SourcePolicyEngine,
		ProjectID: req.ProjectID,
		TaskID:    req.TaskID,
	}, payload); err != nil {
		return policy.Decision{}, err
	}

	slog.DebugContext(ctx, "policy evaluated",
		"project_id", req.ProjectID,
		"agent_type", req.AgentType,
		"status", d.Status,
		"reason", d.ReasonCode,
	)
	return d, nil
}

// Reload rebuilds the table from the policy file and swaps it in. On failure
// the previous table stays in effect.
func (s *PolicyService) Reload(ctx context.Context) (*ReloadResult, error) {
	t, err := policy.LoadOrUnavailable(s.path)
	if err != nil {
		_, auditErr := s.audit.Record(ctx, event.Entry{
			Type:   event.TypePolicyReloadFailed,
			Source: event.SourcePolicyEngine,
		}, map[string]any{"source": s.path, "error": err.Error()})
		s.notify.Publish(ctx, messagequeue.SubjectPolicyReloaded, messagequeue.PolicyReloadedPayload{
			Source: s.path, Error: err.Error(),
		})
		return nil, errors.Join(fmt.Errorf("reload policy: %w", err), auditErr)
	}

	s.table.Store(t)
	res := &ReloadResult{Source: t.Source(), Phases: t.Phases()}
	slog.InfoContext(ctx, "policy reloaded", "source", res.Source, "phases", len(res.Phases))

	if _, err := s.audit.Record(ctx, event.Entry{
		Type:   event.TypePolicyReloaded,
		Source: event.SourcePolicyEngine,
	}, res); err != nil {
		return res, err
	}
	s.notify.Broadcast(ctx, broadcast.EventPolicyReload, res)
	s.notify.Publish(ctx, messagequeue.SubjectPolicyReloaded, messagequeue.PolicyReloadedPayload{
		Source: res.Source, Phases: res.Phases,
	})
	return res, nil
}

// Watch reloads the table whenever the policy file is written or replaced.
// It watches the parent directory so atomic renames are seen. It blocks
// until ctx is done.
func (s *PolicyService) Watch(ctx context.Context) error {
	if s.path == "" {
		return errors.New("watch: no policy file configured")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer func() { _ = w.Close() }()

	target := filepath.Clean(s.path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	slog.Info("policy watch started", "path", target)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if _, err := s.Reload(ctx); err != nil {
				slog.Warn("policy hot reload failed", "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("policy watch error", "error", err)
		}
	}
}
