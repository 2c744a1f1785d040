package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/phasegate/internal/adapter/memory"
	"github.com/Strob0t/phasegate/internal/config"
	"github.com/Strob0t/phasegate/internal/domain/action"
	"github.com/Strob0t/phasegate/internal/domain/event"
	"github.com/Strob0t/phasegate/internal/port/executor"
)

// fakeClock is a settable clock shared by every service in a harness.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeExecutor records requests and answers with a fixed result.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []executor.Request
	err   error
	fail  bool
}

func (f *fakeExecutor) Execute(_ context.Context, req executor.Request) (*action.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.fail {
		return &action.ExecutionResult{Success: false, Error: "tests failed"}, nil
	}
	return &action.ExecutionResult{Success: true, Output: "ok"}, nil
}

func (f *fakeExecutor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// failingAuditLog rejects every append.
type failingAuditLog struct{ *memory.AuditLog }

func (failingAuditLog) Append(context.Context, *event.Entry) error {
	return errors.New("audit store offline")
}

type harness struct {
	clock    *fakeClock
	store    *memory.Store
	auditLog *memory.AuditLog
	counters *memory.Counter
	exec     *fakeExecutor

	audit     *AuditService
	reviewers *ReviewerService
	policy    *PolicyService
	counter   *CounterService
	hitl      *HITLService
	gates     *GateService
	coord     *Coordinator
}

// newHarness wires every service over the in-memory adapters with the
// built-in lifecycle, a default limit of 5 and a one hour request TTL.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    newFakeClock(),
		store:    memory.NewStore(),
		auditLog: memory.NewAuditLog(),
		counters: memory.NewCounter(),
		exec:     &fakeExecutor{},
	}
	h.audit = NewAuditService(h.auditLog)
	h.audit.now = h.clock.Now
	h.reviewers = NewReviewerService([]config.Reviewer{{Name: "alice", KeyHash: "unused"}})
	h.policy = NewPolicyService("", h.store, h.reviewers, h.audit)
	h.counter = NewCounterService(h.store, h.counters, 5, h.audit)
	h.counter.now = h.clock.Now
	h.hitl = NewHITLService(h.store, h.counter, h.audit, time.Hour)
	h.hitl.now = h.clock.Now
	h.gates = NewGateService(h.store, h.audit)
	h.gates.now = h.clock.Now
	h.coord = NewCoordinator(h.policy, h.hitl, h.gates, h.store, h.exec, h.audit, 4)
	h.coord.now = h.clock.Now
	return h
}

func (h *harness) setPhase(t *testing.T, projectID, phase string) {
	t.Helper()
	if err := h.store.SetPhase(context.Background(), projectID, phase); err != nil {
		t.Fatalf("set phase: %v", err)
	}
}

// auditCount returns how many entries of typ exist for projectID.
func (h *harness) auditCount(t *testing.T, projectID string, typ event.Type) int {
	t.Helper()
	page, err := h.auditLog.Query(context.Background(), event.Filter{
		ProjectID: projectID,
		Types:     []event.Type{typ},
		Limit:     event.MaxLimit,
	})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	return len(page.Entries)
}

func (h *harness) count(t *testing.T, projectID string) int64 {
	t.Helper()
	c, err := h.counter.Status(context.Background(), projectID)
	if err != nil {
		t.Fatalf("counter status: %v", err)
	}
	return c.Count
}

func strPtr(s string) *string { return &s }

func int64Ptr(n int64) *int64 { return &n }
