package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/phasegate/internal/adapter/otel"
	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/action"
	"github.com/Strob0t/phasegate/internal/domain/event"
	"github.com/Strob0t/phasegate/internal/domain/gate"
	"github.com/Strob0t/phasegate/internal/domain/hitl"
	"github.com/Strob0t/phasegate/internal/domain/policy"
	"github.com/Strob0t/phasegate/internal/port/broadcast"
	"github.com/Strob0t/phasegate/internal/port/executor"
	"github.com/Strob0t/phasegate/internal/port/messagequeue"
	"github.com/Strob0t/phasegate/internal/port/phase"
)

// holdQueue is the set of proposals parked behind one open approval request.
type holdQueue struct {
	requestID string
	proposals []action.Proposal
}

// RespondResult is a HITL response plus what happened to the held actions.
type RespondResult struct {
	Request  *hitl.Request    `json:"request"`
	Released []action.Outcome `json:"released,omitempty"`
}

// Coordinator admits agent actions: policy first, then the autonomy counter,
// then the executor. Actions past the counter limit are parked until a human
// responds to the approval request.
type Coordinator struct {
	policy      *PolicyService
	hitl        *HITLService
	counter     *CounterService
	gates       *GateService
	phases      phase.Store
	exec        executor.Executor
	audit       *AuditService
	notify      *Notifier
	metrics     *otel.Metrics
	parallelism int
	locks       *keyLock

	mu    sync.Mutex
	holds map[string]*holdQueue
	now   func() time.Time
}

// NewCoordinator wires the governance services around an executor.
func NewCoordinator(
	pol *PolicyService,
	h *HITLService,
	gates *GateService,
	phases phase.Store,
	exec executor.Executor,
	audit *AuditService,
	parallelism int,
) *Coordinator {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Coordinator{
		policy:      pol,
		hitl:        h,
		counter:     h.Counter(),
		gates:       gates,
		phases:      phases,
		exec:        exec,
		audit:       audit,
		parallelism: parallelism,
		locks:       newKeyLock(),
		holds:       make(map[string]*holdQueue),
		now:         time.Now,
	}
}

// SetNotifier attaches the event fan-out.
func (c *Coordinator) SetNotifier(n *Notifier) { c.notify = n }

// SetMetrics attaches metric instruments.
func (c *Coordinator) SetMetrics(m *otel.Metrics) { c.metrics = m }

// Submit runs one proposal through admission and, if admitted, the executor.
// Executor failures are reported in the outcome, not as an error.
func (c *Coordinator) Submit(ctx context.Context, p action.Proposal) (*action.Outcome, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.SubmittedAt.IsZero() {
		p.SubmittedAt = c.now().UTC()
	}

	ctx, span := otel.StartActionSpan(ctx, p.ID, p.ProjectID, p.AgentType)
	defer span.End()
	start := time.Now()

	out, err := c.submit(ctx, p)
	if err != nil {
		c.metrics.RecordAction(ctx, "error", time.Since(start).Seconds())
		return nil, err
	}
	c.metrics.RecordAction(ctx, string(out.Status), time.Since(start).Seconds())
	return out, nil
}

func (c *Coordinator) submit(ctx context.Context, p action.Proposal) (*action.Outcome, error) {
	d, err := c.policy.Evaluate(ctx, EvaluateRequest{
		ProjectID:    p.ProjectID,
		TaskID:       p.TaskID,
		AgentType:    p.AgentType,
		Instructions: p.Instructions,
		Override:     p.Override,
		OverrideBy:   p.OverrideBy,
	})
	if err != nil {
		return nil, err
	}

	out := &action.Outcome{ProposalID: p.ID, Decision: &d}
	switch d.Status {
	case policy.StatusDenied:
		out.Status = action.StatusRejected
		return out, nil
	case policy.StatusNeedsClarification:
		out.Status = action.StatusClarificationNeeded
		return out, nil
	}

	held, err := c.admit(ctx, p, out)
	if err != nil || held {
		return out, err
	}

	c.dispatch(ctx, p, out)

	if p.PhaseBoundary && out.Status == action.StatusCompleted {
		adv, err := c.AdvancePhase(ctx, p.ProjectID, p.GateID)
		if err != nil {
			adv = &action.PhaseAdvance{ProjectID: p.ProjectID, GateID: p.GateID, Reason: err.Error()}
		}
		out.PhaseAdvance = adv
	}
	return out, nil
}

// admit counts the action against the project's autonomy limit. It reports
// true when the proposal was parked; out is filled in accordingly.
func (c *Coordinator) admit(ctx context.Context, p action.Proposal, out *action.Outcome) (bool, error) {
	unlock := c.locks.Lock(p.ProjectID)
	defer unlock()

	reqID, carried, ok := c.holdIfOpen(ctx, p)
	if !ok && len(carried) > 0 {
		if err := c.carryOver(ctx, reqID, carried); err != nil {
			return false, err
		}
		reqID, _, ok = c.holdIfOpen(ctx, p)
	}
	if ok {
		out.Status = action.StatusSuspended
		out.HITLRequestID = reqID
		return true, c.recordAction(ctx, event.TypeActionSuspended, p, map[string]any{"hitl_request_id": reqID})
	}

	res, err := c.counter.IncrementAndCheck(ctx, p.ProjectID)
	if err != nil {
		return false, err
	}
	out.Count = res.Count
	if !res.Breached {
		return false, nil
	}

	r, err := c.hitl.Create(ctx, approvalRequest(p, res))
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	c.holds[p.ProjectID] = &holdQueue{requestID: r.ID, proposals: []action.Proposal{p}}
	c.mu.Unlock()

	slog.InfoContext(ctx, "autonomy limit reached, action suspended",
		"project_id", p.ProjectID, "count", res.Count, "limit", res.Limit, "hitl_request_id", r.ID)
	out.Status = action.StatusSuspended
	out.HITLRequestID = r.ID
	return true, c.recordAction(ctx, event.TypeActionSuspended, p, map[string]any{
		"hitl_request_id": r.ID, "count": res.Count, "limit": res.Limit,
	})
}

// holdIfOpen parks p behind the project's open approval request. When that
// request has expired, its ID and queue are handed back so the caller can
// move the queue behind a follow-up request. Other closed queues are
// released or discarded.
func (c *Coordinator) holdIfOpen(ctx context.Context, p action.Proposal) (string, []action.Proposal, bool) {
	c.mu.Lock()
	q := c.holds[p.ProjectID]
	c.mu.Unlock()
	if q == nil {
		return "", nil, false
	}

	r, err := c.hitl.Get(ctx, q.requestID)
	if err == nil && r.Status.IsOpen() {
		c.mu.Lock()
		q.proposals = append(q.proposals, p)
		c.mu.Unlock()
		return q.requestID, nil, true
	}

	stale := c.takeHold(p.ProjectID, q.requestID)
	switch {
	case err != nil:
		c.discard(ctx, stale, err.Error())
	case r.Status == hitl.StatusApproved:
		// Approved outside Respond; release once the caller drops the lock.
		go c.release(context.WithoutCancel(ctx), r.ID, stale)
	case r.Status == hitl.StatusExpired:
		return r.ID, stale, false
	default:
		c.discard(ctx, stale, fmt.Sprintf("approval request %s", r.Status))
	}
	return "", nil, false
}

// carryOver opens a follow-up approval request for proposals whose request
// expired unanswered and parks them behind it. Must be called with the
// project lock held.
func (c *Coordinator) carryOver(ctx context.Context, prevID string, carried []action.Proposal) error {
	projectID := carried[0].ProjectID
	r, err := c.hitl.Create(ctx, followUpRequest(carried, prevID))
	if err != nil {
		c.discard(ctx, carried, "follow-up approval request: "+err.Error())
		return err
	}
	c.mu.Lock()
	c.holds[projectID] = &holdQueue{requestID: r.ID, proposals: carried}
	c.mu.Unlock()

	for _, p := range carried {
		if err := c.recordAction(ctx, event.TypeActionSuspended, p, map[string]any{
			"hitl_request_id": r.ID, "carried_from": prevID,
		}); err != nil {
			slog.ErrorContext(ctx, "carry-over audit lost", "proposal_id", p.ID, "error", err)
		}
	}
	slog.InfoContext(ctx, "held actions moved to follow-up approval",
		"project_id", projectID, "count", len(carried), "expired_request_id", prevID, "hitl_request_id", r.ID)
	return nil
}

// takeHold removes and returns the queue for projectID if it belongs to requestID.
func (c *Coordinator) takeHold(projectID, requestID string) []action.Proposal {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.holds[projectID]
	if q == nil || q.requestID != requestID {
		return nil
	}
	delete(c.holds, projectID)
	return q.proposals
}

// Held returns the proposals parked for a project.
func (c *Coordinator) Held(projectID string) []action.Proposal {
	c.mu.Lock()
	defer c.mu.Unlock()
	q := c.holds[projectID]
	if q == nil {
		return nil
	}
	return append([]action.Proposal(nil), q.proposals...)
}

func (c *Coordinator) dispatch(ctx context.Context, p action.Proposal, out *action.Outcome) {
	req := executor.Request{
		ProjectID: p.ProjectID,
		TaskID:    p.TaskID,
		AgentType: p.AgentType,
		Context:   p.Context,
	}
	if p.Instructions != nil {
		req.Instructions = *p.Instructions
	}

	res, err := c.exec.Execute(ctx, req)
	switch {
	case err != nil:
		if !errors.Is(err, domain.ErrUpstreamExecutor) {
			err = fmt.Errorf("%w: %w", domain.ErrUpstreamExecutor, err)
		}
		out.Status = action.StatusFailed
		out.Error = err.Error()
	case !res.Success:
		out.Status = action.StatusFailed
		out.Output = res.Output
		out.Error = res.Error
	default:
		out.Status = action.StatusCompleted
		out.Output = res.Output
	}

	typ := event.TypeActionDispatched
	payload := map[string]any{"status": out.Status}
	if out.Status == action.StatusFailed {
		typ = event.TypeActionFailed
		payload["error"] = out.Error
		slog.WarnContext(ctx, "action failed", "proposal_id", p.ID, "project_id", p.ProjectID, "error", out.Error)
	}
	if err := c.recordAction(ctx, typ, p, payload); err != nil {
		slog.ErrorContext(ctx, "action audit lost", "proposal_id", p.ID, "error", err)
	}
}

// Respond answers a HITL request. Approval releases the project's parked
// actions and re-submits them concurrently; rejection discards them.
func (c *Coordinator) Respond(ctx context.Context, id string, resp hitl.RespondRequest) (*RespondResult, error) {
	peek, err := c.hitl.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// Hold the project lock across the response so no submission can slip
	// between the counter reset and taking the queue.
	unlock := c.locks.Lock(peek.ProjectID)
	r, err := c.hitl.Respond(ctx, id, resp)
	if err != nil {
		unlock()
		return nil, err
	}
	held := c.takeHold(r.ProjectID, r.ID)
	unlock()

	result := &RespondResult{Request: r}
	if len(held) == 0 {
		return result, nil
	}
	if r.Status != hitl.StatusApproved {
		c.discard(ctx, held, "approval request rejected")
		result.Released = make([]action.Outcome, len(held))
		for i, p := range held {
			result.Released[i] = action.Outcome{ProposalID: p.ID, Status: action.StatusDiscarded, HITLRequestID: r.ID}
		}
		return result, nil
	}

	result.Released = c.release(ctx, r.ID, held)
	return result, nil
}

// release re-submits held proposals with bounded parallelism.
func (c *Coordinator) release(ctx context.Context, requestID string, held []action.Proposal) []action.Outcome {
	outcomes := make([]action.Outcome, len(held))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)

	for i, p := range held {
		g.Go(func() error {
			if err := c.recordAction(gctx, event.TypeActionReleased, p, map[string]any{"hitl_request_id": requestID}); err != nil {
				slog.ErrorContext(gctx, "release audit lost", "proposal_id", p.ID, "error", err)
			}
			out, err := c.Submit(gctx, p)
			if err != nil {
				outcomes[i] = action.Outcome{ProposalID: p.ID, Status: action.StatusFailed, Error: err.Error()}
			} else {
				outcomes[i] = *out
			}
			c.notify.Publish(gctx, messagequeue.SubjectActionsReleased, messagequeue.ActionReleasedPayload{
				ProposalID:    p.ID,
				ProjectID:     p.ProjectID,
				TaskID:        p.TaskID,
				HITLRequestID: requestID,
				Status:        string(outcomes[i].Status),
				Error:         outcomes[i].Error,
			})
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (c *Coordinator) discard(ctx context.Context, proposals []action.Proposal, reason string) {
	for _, p := range proposals {
		if err := c.recordAction(ctx, event.TypeActionDiscarded, p, map[string]any{"reason": reason}); err != nil {
			slog.ErrorContext(ctx, "discard audit lost", "proposal_id", p.ID, "error", err)
		}
	}
	if len(proposals) > 0 {
		slog.InfoContext(ctx, "held actions discarded", "project_id", proposals[0].ProjectID, "count", len(proposals), "reason", reason)
	}
}

// AdvancePhase evaluates the gate guarding the project's current phase and,
// unless it fails, moves the project to the next phase in the policy order.
func (c *Coordinator) AdvancePhase(ctx context.Context, projectID, gateID string) (*action.PhaseAdvance, error) {
	unlock := c.locks.Lock("phase:" + projectID)
	defer unlock()

	current, err := c.phases.CurrentPhase(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("phase lookup %s: %w", projectID, err)
	}
	if current == "" {
		return nil, fmt.Errorf("project %s has no active phase: %w", projectID, domain.ErrValidation)
	}

	g, err := c.gates.GetGate(ctx, gateID)
	if err != nil {
		return nil, err
	}
	if g.ProjectID != projectID {
		return nil, fmt.Errorf("gate %s belongs to project %s: %w", gateID, g.ProjectID, domain.ErrValidation)
	}

	res, err := c.gates.EvaluateGate(ctx, gateID)
	if err != nil {
		return nil, err
	}

	adv := &action.PhaseAdvance{ProjectID: projectID, From: current, GateID: gateID, GateStatus: string(res.Status)}
	next, hasNext := c.policy.NextPhase(current)
	switch {
	case res.Status == gate.StatusFail:
		adv.Reason = fmt.Sprintf("quality gate failed with score %.2f", res.OverallScore)
	case g.Phase != current:
		adv.Reason = fmt.Sprintf("gate guards phase %q, project is in %q", g.Phase, current)
	case !hasNext:
		adv.Reason = fmt.Sprintf("%q is the final phase", current)
	}
	if adv.Reason != "" {
		_, err := c.audit.Record(ctx, event.Entry{
			Type:      event.TypePhaseAdvanceBlocked,
			Source:    event.SourceCoordinator,
			ProjectID: projectID,
		}, adv)
		return adv, err
	}

	adv.To = next
	adv.Advanced = true
	if err := c.changePhase(ctx, event.TypePhaseAdvanced, adv); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "phase advanced", "project_id", projectID, "from", current, "to", next)
	c.notify.Broadcast(ctx, broadcast.EventPhaseAdvanced, adv)
	c.notify.Publish(ctx, messagequeue.SubjectPhaseAdvanced, messagequeue.PhaseAdvancedPayload{
		ProjectID: projectID, From: current, To: next, GateID: gateID,
	})
	return adv, nil
}

// CurrentPhase returns the project's phase, or "" when none is active.
func (c *Coordinator) CurrentPhase(ctx context.Context, projectID string) (string, error) {
	return c.phases.CurrentPhase(ctx, projectID)
}

// SetPhase places a project directly in phaseName without a gate check.
// The phase must exist in the policy table in effect.
func (c *Coordinator) SetPhase(ctx context.Context, projectID, phaseName, by string) (*action.PhaseAdvance, error) {
	phaseName = strings.ToLower(strings.TrimSpace(phaseName))
	switch {
	case projectID == "":
		return nil, fmt.Errorf("project_id is required: %w", domain.ErrValidation)
	case by == "":
		return nil, fmt.Errorf("set_by is required: %w", domain.ErrValidation)
	}
	if _, ok := c.policy.Table().Lookup(phaseName); !ok {
		return nil, fmt.Errorf("unknown phase %q: %w", phaseName, domain.ErrValidation)
	}

	unlock := c.locks.Lock("phase:" + projectID)
	defer unlock()

	current, err := c.phases.CurrentPhase(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("phase lookup %s: %w", projectID, err)
	}
	adv := &action.PhaseAdvance{
		ProjectID: projectID,
		From:      current,
		To:        phaseName,
		Advanced:  true,
		Reason:    "set by " + by,
	}
	if err := c.changePhase(ctx, event.TypePhaseSet, adv); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "phase set", "project_id", projectID, "from", current, "to", phaseName, "by", by)
	c.notify.Broadcast(ctx, broadcast.EventPhaseAdvanced, adv)
	return adv, nil
}

// changePhase audits adv as typ and then moves the project to adv.To. A
// failed move is audited as phase_change_failed.
func (c *Coordinator) changePhase(ctx context.Context, typ event.Type, adv *action.PhaseAdvance) error {
	if _, err := c.audit.Record(ctx, event.Entry{
		Type:      typ,
		Source:    event.SourceCoordinator,
		ProjectID: adv.ProjectID,
	}, adv); err != nil {
		return err
	}
	if err := c.phases.SetPhase(ctx, adv.ProjectID, adv.To); err != nil {
		err = fmt.Errorf("set phase %s: %w", adv.ProjectID, err)
		if _, auditErr := c.audit.Record(ctx, event.Entry{
			Type:      event.TypePhaseChangeFailed,
			Source:    event.SourceCoordinator,
			ProjectID: adv.ProjectID,
		}, map[string]any{"operation": typ, "from": adv.From, "to": adv.To, "error": err.Error()}); auditErr != nil {
			slog.ErrorContext(ctx, "audit of failed phase change lost", "project_id", adv.ProjectID, "error", auditErr)
		}
		return err
	}
	return nil
}

func (c *Coordinator) recordAction(ctx context.Context, typ event.Type, p action.Proposal, payload map[string]any) error {
	payload["proposal_id"] = p.ID
	payload["agent_type"] = p.AgentType
	_, err := c.audit.Record(ctx, event.Entry{
		Type:      typ,
		Source:    event.SourceCoordinator,
		ProjectID: p.ProjectID,
		TaskID:    p.TaskID,
	}, payload)
	return err
}

func followUpRequest(carried []action.Proposal, prevID string) hitl.CreateRequest {
	ids := make([]string, len(carried))
	for i, p := range carried {
		ids[i] = p.ID
	}
	data, _ := json.Marshal(map[string]any{
		"expired_request_id": prevID,
		"proposal_ids":       ids,
	})
	first := carried[0]
	return hitl.CreateRequest{
		ProjectID:   first.ProjectID,
		TaskID:      first.TaskID,
		AgentType:   first.AgentType,
		Type:        hitl.TypeApproval,
		Priority:    hitl.PriorityHigh,
		Title:       fmt.Sprintf("%d held actions await approval", len(carried)),
		Description: fmt.Sprintf("Approval request %s expired unanswered. Approve to release the held actions and reset the counter.", prevID),
		Context:     data,
		Options:     []string{string(hitl.ActionApprove), string(hitl.ActionReject)},
	}
}

func approvalRequest(p action.Proposal, res hitl.CheckResult) hitl.CreateRequest {
	data, _ := json.Marshal(map[string]any{
		"proposal_id": p.ID,
		"count":       res.Count,
		"limit":       res.Limit,
	})
	return hitl.CreateRequest{
		ProjectID:   p.ProjectID,
		TaskID:      p.TaskID,
		AgentType:   p.AgentType,
		Type:        hitl.TypeApproval,
		Priority:    hitl.PriorityHigh,
		Title:       fmt.Sprintf("Autonomy limit of %d actions reached", res.Limit),
		Description: "The project exceeded its autonomous action limit. Approve to release held actions and reset the counter.",
		Context:     data,
		Options:     []string{string(hitl.ActionApprove), string(hitl.ActionReject)},
	}
}
