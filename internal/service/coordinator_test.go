package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/phasegate/internal/adapter/memory"
	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/action"
	"github.com/Strob0t/phasegate/internal/domain/event"
	"github.com/Strob0t/phasegate/internal/domain/gate"
	"github.com/Strob0t/phasegate/internal/domain/hitl"
	"github.com/Strob0t/phasegate/internal/domain/policy"
)

func submit(t *testing.T, h *harness, p action.Proposal) *action.Outcome {
	t.Helper()
	out, err := h.coord.Submit(context.Background(), p)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return out
}

func TestSubmitDiscoveryPhase(t *testing.T) {
	h := newHarness(t)
	h.setPhase(t, "p1", "discovery")

	tests := []struct {
		name       string
		proposal   action.Proposal
		wantStatus action.Status
		wantReason policy.ReasonCode
	}{
		{
			name:       "analyst gathering requirements",
			proposal:   action.Proposal{ProjectID: "p1", AgentType: "analyst", Instructions: strPtr("Gather requirements from the stakeholder notes")},
			wantStatus: action.StatusCompleted,
			wantReason: policy.ReasonOK,
		},
		{
			name:       "coder not allowed",
			proposal:   action.Proposal{ProjectID: "p1", AgentType: "coder", Instructions: strPtr("Implement the login form")},
			wantStatus: action.StatusRejected,
			wantReason: policy.ReasonAgentNotAllowed,
		},
		{
			name:       "analyst off topic",
			proposal:   action.Proposal{ProjectID: "p1", AgentType: "analyst", Instructions: strPtr("Write the database migration")},
			wantStatus: action.StatusClarificationNeeded,
			wantReason: policy.ReasonPromptMismatch,
		},
		{
			name:       "override by reviewer",
			proposal:   action.Proposal{ProjectID: "p1", AgentType: "coder", Override: true, OverrideBy: "alice"},
			wantStatus: action.StatusCompleted,
			wantReason: policy.ReasonOverrideApplied,
		},
		{
			name:       "override by stranger",
			proposal:   action.Proposal{ProjectID: "p1", AgentType: "coder", Override: true, OverrideBy: "mallory"},
			wantStatus: action.StatusRejected,
			wantReason: policy.ReasonOverrideNotAuthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := submit(t, h, tt.proposal)
			if out.Status != tt.wantStatus {
				t.Errorf("expected status %q, got %q", tt.wantStatus, out.Status)
			}
			if out.Decision == nil || out.Decision.ReasonCode != tt.wantReason {
				t.Errorf("expected reason %q, got %+v", tt.wantReason, out.Decision)
			}
		})
	}
	if got := h.exec.Calls(); got != 2 {
		t.Errorf("expected 2 executor calls, got %d", got)
	}
	if got := h.auditCount(t, "p1", event.TypePolicyEvaluated); got != len(tests) {
		t.Errorf("expected %d policy_evaluated entries, got %d", len(tests), got)
	}
}

func TestSubmitWithoutPhaseIsRejected(t *testing.T) {
	h := newHarness(t)
	out := submit(t, h, action.Proposal{ProjectID: "p1", AgentType: "orchestrator"})
	if out.Status != action.StatusRejected || out.Decision.ReasonCode != policy.ReasonNoActivePhase {
		t.Errorf("expected no_active_phase rejection, got %+v", out)
	}
	if h.exec.Calls() != 0 {
		t.Error("rejected action reached the executor")
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.Submit(context.Background(), action.Proposal{AgentType: "coder"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	_, err = h.coord.Submit(context.Background(), action.Proposal{ProjectID: "p1", AgentType: "coder", PhaseBoundary: true})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for boundary without gate, got %v", err)
	}
}

func TestSubmitExecutorFailure(t *testing.T) {
	h := newHarness(t)
	h.setPhase(t, "p1", "coding")

	h.exec.err = errors.New("connection refused")
	out := submit(t, h, action.Proposal{ProjectID: "p1", AgentType: "coder"})
	if out.Status != action.StatusFailed || !containsAll(out.Error, "upstream executor failure", "connection refused") {
		t.Errorf("unexpected outcome: %+v", out)
	}

	h.exec.err = nil
	h.exec.fail = true
	out = submit(t, h, action.Proposal{ProjectID: "p1", AgentType: "coder"})
	if out.Status != action.StatusFailed || out.Error != "tests failed" {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if got := h.auditCount(t, "p1", event.TypeActionFailed); got != 2 {
		t.Errorf("expected 2 action_failed entries, got %d", got)
	}
	// Failed executions still count toward autonomy.
	if got := h.count(t, "p1"); got != 2 {
		t.Errorf("expected count 2, got %d", got)
	}
}

// fillToLimit submits five completed actions, then a sixth that trips the
// limit and a seventh that queues behind it.
func fillToLimit(t *testing.T, h *harness) (requestID string) {
	t.Helper()
	h.setPhase(t, "p1", "coding")
	for i := 1; i <= 5; i++ {
		out := submit(t, h, action.Proposal{ID: fmt.Sprintf("a%d", i), ProjectID: "p1", AgentType: "coder"})
		if out.Status != action.StatusCompleted || out.Count != int64(i) {
			t.Fatalf("action %d: expected completed at count %d, got %+v", i, i, out)
		}
	}

	sixth := submit(t, h, action.Proposal{ID: "a6", ProjectID: "p1", AgentType: "coder"})
	if sixth.Status != action.StatusSuspended || sixth.HITLRequestID == "" {
		t.Fatalf("expected sixth action suspended, got %+v", sixth)
	}
	seventh := submit(t, h, action.Proposal{ID: "a7", ProjectID: "p1", AgentType: "coder"})
	if seventh.Status != action.StatusSuspended || seventh.HITLRequestID != sixth.HITLRequestID {
		t.Fatalf("expected seventh action held behind %s, got %+v", sixth.HITLRequestID, seventh)
	}

	if got := h.exec.Calls(); got != 5 {
		t.Fatalf("expected 5 executor calls, got %d", got)
	}
	if got := len(h.coord.Held("p1")); got != 2 {
		t.Fatalf("expected 2 held actions, got %d", got)
	}
	r, err := h.hitl.Get(context.Background(), sixth.HITLRequestID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Type != hitl.TypeApproval || r.Priority != hitl.PriorityHigh || r.Status != hitl.StatusPending {
		t.Fatalf("unexpected approval request: %+v", r)
	}
	return sixth.HITLRequestID
}

func TestAutonomyLimitApproveReleases(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reqID := fillToLimit(t, h)

	res, err := h.coord.Respond(ctx, reqID, hitl.RespondRequest{Action: hitl.ActionApprove, RespondedBy: "alice"})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if res.Request.Status != hitl.StatusApproved {
		t.Errorf("expected approved, got %q", res.Request.Status)
	}
	if len(res.Released) != 2 {
		t.Fatalf("expected 2 released outcomes, got %d", len(res.Released))
	}
	for _, out := range res.Released {
		if out.Status != action.StatusCompleted {
			t.Errorf("released %s: expected completed, got %+v", out.ProposalID, out)
		}
	}
	if got := h.exec.Calls(); got != 7 {
		t.Errorf("expected 7 executor calls, got %d", got)
	}
	if got := h.count(t, "p1"); got != 2 {
		t.Errorf("expected count 2 after reset and release, got %d", got)
	}
	if len(h.coord.Held("p1")) != 0 {
		t.Error("expected hold queue cleared")
	}
	if got := h.auditCount(t, "p1", event.TypeActionReleased); got != 2 {
		t.Errorf("expected 2 action_released entries, got %d", got)
	}
	if got := h.auditCount(t, "p1", event.TypeHITLCounterBreached); got != 1 {
		t.Errorf("expected 1 breach entry, got %d", got)
	}
}

func TestAutonomyLimitRejectDiscards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reqID := fillToLimit(t, h)

	res, err := h.coord.Respond(ctx, reqID, hitl.RespondRequest{Action: hitl.ActionReject, RespondedBy: "alice"})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if len(res.Released) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(res.Released))
	}
	for _, out := range res.Released {
		if out.Status != action.StatusDiscarded {
			t.Errorf("expected discarded, got %+v", out)
		}
	}
	if got := h.exec.Calls(); got != 5 {
		t.Errorf("discarded actions reached the executor: %d calls", got)
	}
	if got := h.auditCount(t, "p1", event.TypeActionDiscarded); got != 2 {
		t.Errorf("expected 2 action_discarded entries, got %d", got)
	}

	// The count was not reset, so the next action opens a fresh request.
	next := submit(t, h, action.Proposal{ID: "a8", ProjectID: "p1", AgentType: "coder"})
	if next.Status != action.StatusSuspended || next.HITLRequestID == "" || next.HITLRequestID == reqID {
		t.Errorf("expected suspension behind a new request, got %+v", next)
	}
}

func TestAutonomyLimitRejectWithReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reqID := fillToLimit(t, h)

	_, err := h.coord.Respond(ctx, reqID, hitl.RespondRequest{
		Action: hitl.ActionReject, RespondedBy: "alice", ResponseData: []byte(`{"reset_counter":true}`),
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	out := submit(t, h, action.Proposal{ProjectID: "p1", AgentType: "coder"})
	if out.Status != action.StatusCompleted || out.Count != 1 {
		t.Errorf("expected completed at count 1, got %+v", out)
	}
}

func TestApprovalOutsideCoordinatorReleasesOnNextSubmit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reqID := fillToLimit(t, h)

	if _, err := h.hitl.Respond(ctx, reqID, hitl.RespondRequest{Action: hitl.ActionApprove, RespondedBy: "alice"}); err != nil {
		t.Fatalf("respond: %v", err)
	}
	out := submit(t, h, action.Proposal{ID: "a8", ProjectID: "p1", AgentType: "coder"})
	if out.Status != action.StatusCompleted {
		t.Fatalf("expected completed, got %+v", out)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.exec.Calls() < 8 {
		if time.Now().After(deadline) {
			t.Fatalf("held actions were not released: %d executor calls", h.exec.Calls())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(h.coord.Held("p1")) != 0 {
		t.Error("expected hold queue cleared")
	}
}

func TestExpiredApprovalMovesHeldToFollowUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reqID := fillToLimit(t, h)

	h.clock.Advance(2 * time.Hour)
	out := submit(t, h, action.Proposal{ID: "a8", ProjectID: "p1", AgentType: "coder"})
	if out.Status != action.StatusSuspended || out.HITLRequestID == "" || out.HITLRequestID == reqID {
		t.Fatalf("expected suspension behind a follow-up request, got %+v", out)
	}
	if got := h.auditCount(t, "p1", event.TypeActionDiscarded); got != 0 {
		t.Errorf("expected nothing discarded, got %d", got)
	}
	held := h.coord.Held("p1")
	if len(held) != 3 || held[0].ID != "a6" || held[1].ID != "a7" || held[2].ID != "a8" {
		t.Fatalf("expected a6, a7, a8 held, got %+v", held)
	}
	expired, err := h.hitl.Get(ctx, reqID)
	if err != nil {
		t.Fatal(err)
	}
	if expired.Status != hitl.StatusExpired {
		t.Errorf("expected first request expired, got %q", expired.Status)
	}

	res, err := h.coord.Respond(ctx, out.HITLRequestID, hitl.RespondRequest{Action: hitl.ActionApprove, RespondedBy: "alice"})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if len(res.Released) != 3 {
		t.Fatalf("expected 3 released, got %d", len(res.Released))
	}
	if got := h.exec.Calls(); got != 8 {
		t.Errorf("expected 8 executor calls, got %d", got)
	}
}

func TestConcurrentSubmitsPastLimitOpenOneRequest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setPhase(t, "p1", "coding")

	const n = 30
	outs := make([]*action.Outcome, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outs[i], errs[i] = h.coord.Submit(ctx, action.Proposal{ID: fmt.Sprintf("c%d", i), ProjectID: "p1", AgentType: "coder"})
		}()
	}
	wg.Wait()

	completed, suspended := 0, 0
	requestIDs := map[string]bool{}
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("submit %d: %v", i, errs[i])
		}
		switch outs[i].Status {
		case action.StatusCompleted:
			completed++
		case action.StatusSuspended:
			suspended++
			requestIDs[outs[i].HITLRequestID] = true
		}
	}
	if completed != 5 || suspended != n-5 {
		t.Errorf("expected 5 completed and %d suspended, got %d and %d", n-5, completed, suspended)
	}
	if len(requestIDs) != 1 {
		t.Errorf("expected every suspension behind one request, got %v", requestIDs)
	}
	reqs, err := h.hitl.List(ctx, hitl.ListFilter{ProjectID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 {
		t.Errorf("expected exactly one approval request, got %d", len(reqs))
	}
	if got := h.exec.Calls(); got != 5 {
		t.Errorf("expected 5 executor calls, got %d", got)
	}
	if got := len(h.coord.Held("p1")); got != n-5 {
		t.Errorf("expected %d held, got %d", n-5, got)
	}
}

func createCodingGate(t *testing.T, h *harness, projectID string) *gate.QualityGate {
	t.Helper()
	g, err := h.gates.CreateGate(context.Background(), gate.CreateRequest{
		ProjectID: projectID,
		Phase:     "coding",
		Name:      "coding exit",
		Criteria: []gate.Criterion{
			{Name: "coverage", Weight: 2, Threshold: 0.8},
			{Name: "build", Weight: 1, Threshold: 1, Required: true},
		},
	})
	if err != nil {
		t.Fatalf("create gate: %v", err)
	}
	return g
}

func recordMetrics(t *testing.T, h *harness, gateID string, coverage, build float64) {
	t.Helper()
	_, err := h.gates.RecordMetrics(context.Background(), gateID, []gate.Metric{
		{Name: "coverage", Value: coverage},
		{Name: "build", Value: build},
	})
	if err != nil {
		t.Fatalf("record metrics: %v", err)
	}
}

func TestAdvancePhase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setPhase(t, "p1", "coding")
	g := createCodingGate(t, h, "p1")

	recordMetrics(t, h, g.ID, 0.9, 0)
	adv, err := h.coord.AdvancePhase(ctx, "p1", g.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if adv.Advanced || adv.GateStatus != string(gate.StatusFail) || adv.Reason == "" {
		t.Errorf("expected blocked advance, got %+v", adv)
	}
	if p, _ := h.store.CurrentPhase(ctx, "p1"); p != "coding" {
		t.Errorf("phase moved to %q on failed gate", p)
	}

	recordMetrics(t, h, g.ID, 0.9, 1)
	adv, err = h.coord.AdvancePhase(ctx, "p1", g.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !adv.Advanced || adv.From != "coding" || adv.To != "testing" {
		t.Errorf("expected coding -> testing, got %+v", adv)
	}
	if p, _ := h.store.CurrentPhase(ctx, "p1"); p != "testing" {
		t.Errorf("expected phase testing, got %q", p)
	}
	if got := h.auditCount(t, "p1", event.TypePhaseAdvanceBlocked); got != 1 {
		t.Errorf("expected 1 blocked entry, got %d", got)
	}
	if got := h.auditCount(t, "p1", event.TypePhaseAdvanced); got != 1 {
		t.Errorf("expected 1 advanced entry, got %d", got)
	}

	// The gate guards coding; the project has moved on.
	adv, err = h.coord.AdvancePhase(ctx, "p1", g.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if adv.Advanced {
		t.Errorf("expected phase mismatch to block, got %+v", adv)
	}
}

func TestAdvancePhaseWaivedGate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setPhase(t, "p1", "coding")
	g := createCodingGate(t, h, "p1")
	recordMetrics(t, h, g.ID, 0.1, 0)

	if _, err := h.gates.Waive(ctx, g.ID, gate.WaiveRequest{WaivedBy: "alice", Reason: "hotfix"}); err != nil {
		t.Fatalf("waive: %v", err)
	}
	adv, err := h.coord.AdvancePhase(ctx, "p1", g.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !adv.Advanced || adv.GateStatus != string(gate.StatusWaived) {
		t.Errorf("expected waived gate to advance, got %+v", adv)
	}
}

func TestAdvancePhaseErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setPhase(t, "p1", "coding")
	g := createCodingGate(t, h, "p1")

	if _, err := h.coord.AdvancePhase(ctx, "p2", g.ID); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("project without phase: expected ErrValidation, got %v", err)
	}
	h.setPhase(t, "p2", "coding")
	if _, err := h.coord.AdvancePhase(ctx, "p2", g.ID); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("foreign gate: expected ErrValidation, got %v", err)
	}
	if _, err := h.coord.AdvancePhase(ctx, "p1", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing gate: expected ErrNotFound, got %v", err)
	}
}

func TestAdvancePhaseFinalPhase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setPhase(t, "p1", "deployment")
	g, err := h.gates.CreateGate(ctx, gate.CreateRequest{
		ProjectID: "p1", Phase: "deployment", Name: "release",
		Criteria: []gate.Criterion{{Name: "smoke", Weight: 1, Threshold: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.gates.RecordMetrics(ctx, g.ID, []gate.Metric{{Name: "smoke", Value: 1}}); err != nil {
		t.Fatal(err)
	}
	adv, err := h.coord.AdvancePhase(ctx, "p1", g.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if adv.Advanced || adv.Reason == "" {
		t.Errorf("expected final phase to block, got %+v", adv)
	}
}

func TestSubmitPhaseBoundary(t *testing.T) {
	h := newHarness(t)
	h.setPhase(t, "p1", "coding")
	g := createCodingGate(t, h, "p1")
	recordMetrics(t, h, g.ID, 1, 1)

	out := submit(t, h, action.Proposal{ProjectID: "p1", AgentType: "coder", PhaseBoundary: true, GateID: g.ID})
	if out.Status != action.StatusCompleted {
		t.Fatalf("expected completed, got %+v", out)
	}
	if out.PhaseAdvance == nil || !out.PhaseAdvance.Advanced || out.PhaseAdvance.To != "testing" {
		t.Errorf("expected boundary to advance to testing, got %+v", out.PhaseAdvance)
	}
}

func TestSetPhase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	adv, err := h.coord.SetPhase(ctx, "p1", " Architecture ", "alice")
	if err != nil {
		t.Fatalf("set phase: %v", err)
	}
	if adv.From != "" || adv.To != "architecture" || !adv.Advanced {
		t.Errorf("unexpected result: %+v", adv)
	}
	if got, _ := h.coord.CurrentPhase(ctx, "p1"); got != "architecture" {
		t.Errorf("expected architecture, got %q", got)
	}
	if got := h.auditCount(t, "p1", event.TypePhaseSet); got != 1 {
		t.Errorf("expected one phase_set entry, got %d", got)
	}

	tests := []struct {
		name, project, phase, by string
	}{
		{"unknown phase", "p1", "maintenance", "alice"},
		{"no project", "", "coding", "alice"},
		{"no actor", "p1", "coding", ""},
	}
	for _, tt := range tests {
		if _, err := h.coord.SetPhase(ctx, tt.project, tt.phase, tt.by); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", tt.name, err)
		}
	}
	if got, _ := h.coord.CurrentPhase(ctx, "p1"); got != "architecture" {
		t.Errorf("rejected updates must not move the phase, got %q", got)
	}
}

func TestPhaseUnchangedWhenAuditFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setPhase(t, "p1", "coding")
	g := createCodingGate(t, h, "p1")
	recordMetrics(t, h, g.ID, 1, 1)
	h.coord.audit = NewAuditService(failingAuditLog{h.auditLog})

	if _, err := h.coord.AdvancePhase(ctx, "p1", g.ID); err == nil {
		t.Fatal("expected advance to fail when it cannot be audited")
	}
	if _, err := h.coord.SetPhase(ctx, "p1", "deployment", "alice"); err == nil {
		t.Fatal("expected set to fail when it cannot be audited")
	}
	if got, _ := h.coord.CurrentPhase(ctx, "p1"); got != "coding" {
		t.Errorf("phase moved without an audit entry: %q", got)
	}
}

// failingPhaseStore refuses every phase change.
type failingPhaseStore struct{ *memory.Store }

func (failingPhaseStore) SetPhase(context.Context, string, string) error {
	return errors.New("disk full")
}

func TestPhaseStoreFailureIsAudited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setPhase(t, "p1", "coding")
	g := createCodingGate(t, h, "p1")
	recordMetrics(t, h, g.ID, 1, 1)
	coord := NewCoordinator(h.policy, h.hitl, h.gates, failingPhaseStore{h.store}, h.exec, h.audit, 1)

	if _, err := coord.AdvancePhase(ctx, "p1", g.ID); err == nil {
		t.Fatal("expected advance to fail")
	}
	if _, err := coord.SetPhase(ctx, "p1", "testing", "alice"); err == nil {
		t.Fatal("expected set to fail")
	}
	if got := h.auditCount(t, "p1", event.TypePhaseAdvanced); got != 1 {
		t.Errorf("expected advance audited ahead of the write, got %d", got)
	}
	if got := h.auditCount(t, "p1", event.TypePhaseChangeFailed); got != 2 {
		t.Errorf("expected two phase_change_failed entries, got %d", got)
	}
	if got, _ := h.coord.CurrentPhase(ctx, "p1"); got != "coding" {
		t.Errorf("expected coding, got %q", got)
	}
}
