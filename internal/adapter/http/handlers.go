package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/Strob0t/phasegate/internal/domain/action"
	"github.com/Strob0t/phasegate/internal/domain/event"
	"github.com/Strob0t/phasegate/internal/domain/gate"
	"github.com/Strob0t/phasegate/internal/domain/hitl"
	"github.com/Strob0t/phasegate/internal/middleware"
	"github.com/Strob0t/phasegate/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Policy      *service.PolicyService
	HITL        *service.HITLService
	Counter     *service.CounterService
	Gates       *service.GateService
	Coordinator *service.Coordinator
	Audit       *service.AuditService
	Reviewers   *service.ReviewerService
}

// --- Policy ---

// EvaluatePolicy handles POST /api/v1/policy/evaluate. An override is bound
// to the authenticated reviewer; override_by in the body is ignored.
func (h *Handlers) EvaluatePolicy(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.EvaluateRequest](w, r)
	if !ok {
		return
	}
	req.OverrideBy = ""
	if req.Override {
		req.OverrideBy = middleware.ReviewerFromContext(r.Context())
	}
	d, err := h.Policy.Evaluate(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "policy evaluation failed")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type policyPhase struct {
	Name           string   `json:"name"`
	AllowedAgents  []string `json:"allowed_agents"`
	PromptKeywords []string `json:"prompt_keywords,omitempty"`
}

type policyResponse struct {
	Source string        `json:"source"`
	Error  string        `json:"error,omitempty"`
	Phases []policyPhase `json:"phases"`
}

// GetPolicy handles GET /api/v1/policy.
func (h *Handlers) GetPolicy(w http.ResponseWriter, _ *http.Request) {
	t := h.Policy.Table()
	resp := policyResponse{Source: t.Source(), Phases: []policyPhase{}}
	if err := t.Err(); err != nil {
		resp.Error = err.Error()
	}
	for _, name := range t.Phases() {
		p, _ := t.Lookup(name)
		pp := policyPhase{Name: name, PromptKeywords: p.PromptKeywords}
		for _, a := range p.AllowedAgents {
			pp.AllowedAgents = append(pp.AllowedAgents, string(a))
		}
		resp.Phases = append(resp.Phases, pp)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ReloadPolicy handles POST /api/v1/policy/reload.
func (h *Handlers) ReloadPolicy(w http.ResponseWriter, r *http.Request) {
	res, err := h.Policy.Reload(r.Context())
	if err != nil && res == nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Actions ---

// SubmitAction handles POST /api/v1/actions. Suspended actions answer 202.
func (h *Handlers) SubmitAction(w http.ResponseWriter, r *http.Request) {
	p, ok := readJSON[action.Proposal](w, r)
	if !ok {
		return
	}
	p.OverrideBy = ""
	if p.Override {
		p.OverrideBy = middleware.ReviewerFromContext(r.Context())
	}
	out, err := h.Coordinator.Submit(r.Context(), p)
	if err != nil {
		writeDomainError(w, err, "submission failed")
		return
	}
	status := http.StatusOK
	if out.Status == action.StatusSuspended {
		status = http.StatusAccepted
	}
	writeJSON(w, status, out)
}

// ListHeldActions handles GET /api/v1/actions/held?project_id=.
func (h *Handlers) ListHeldActions(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if !requireField(w, projectID, "project_id") {
		return
	}
	held := h.Coordinator.Held(projectID)
	if held == nil {
		held = []action.Proposal{}
	}
	writeJSON(w, http.StatusOK, held)
}

// --- HITL requests ---

// ListHITLRequests handles GET /api/v1/hitl/requests.
func (h *Handlers) ListHITLRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}
	reqs, err := h.HITL.List(r.Context(), hitl.ListFilter{
		ProjectID: q.Get("project_id"),
		Status:    hitl.Status(q.Get("status")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeDomainError(w, err, "hitl requests not found")
		return
	}
	if reqs == nil {
		reqs = []hitl.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

// RespondHITLRequest handles POST /api/v1/hitl/requests/{id}/respond.
// The responder is the authenticated reviewer.
func (h *Handlers) RespondHITLRequest(w http.ResponseWriter, r *http.Request) {
	resp, ok := readJSON[hitl.RespondRequest](w, r)
	if !ok {
		return
	}
	resp.RespondedBy = middleware.ReviewerFromContext(r.Context())
	res, err := h.Coordinator.Respond(r.Context(), urlParam(r, "id"), resp)
	if err != nil {
		writeDomainError(w, err, "hitl request not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// EscalateHITLRequest handles POST /api/v1/hitl/requests/{id}/escalate.
func (h *Handlers) EscalateHITLRequest(w http.ResponseWriter, r *http.Request) {
	esc, ok := readJSON[hitl.EscalateRequest](w, r)
	if !ok {
		return
	}
	req, err := h.HITL.Escalate(r.Context(), urlParam(r, "id"), esc)
	if err != nil {
		writeDomainError(w, err, "hitl request not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// --- Counter ---

// GetCounter handles GET /api/v1/projects/{id}/hitl/counter.
func (h *Handlers) GetCounter(w http.ResponseWriter, r *http.Request) {
	c, err := h.Counter.Status(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "counter not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ReconfigureCounter handles PUT /api/v1/projects/{id}/hitl/counter.
func (h *Handlers) ReconfigureCounter(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[hitl.Reconfigure](w, r)
	if !ok {
		return
	}
	by := middleware.ReviewerFromContext(r.Context())
	c, err := h.HITL.ReconfigureCounter(r.Context(), urlParam(r, "id"), req, by)
	if err != nil {
		writeDomainError(w, err, "counter not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// --- Phases ---

type phaseResponse struct {
	ProjectID string `json:"project_id"`
	Phase     string `json:"phase"`
	Next      string `json:"next,omitempty"`
}

// GetPhase handles GET /api/v1/projects/{id}/phase.
func (h *Handlers) GetPhase(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	p, err := h.Coordinator.CurrentPhase(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	resp := phaseResponse{ProjectID: id, Phase: p}
	if p != "" {
		resp.Next, _ = h.Policy.NextPhase(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

type setPhaseRequest struct {
	Phase string `json:"phase"`
}

// SetPhase handles PUT /api/v1/projects/{id}/phase.
func (h *Handlers) SetPhase(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[setPhaseRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, strings.TrimSpace(req.Phase), "phase") {
		return
	}
	adv, err := h.Coordinator.SetPhase(r.Context(), urlParam(r, "id"), req.Phase, middleware.ReviewerFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, adv)
}

type advancePhaseRequest struct {
	GateID string `json:"gate_id"`
}

// AdvancePhase handles POST /api/v1/projects/{id}/phase/advance. A blocked
// advance answers 409 with the reason.
func (h *Handlers) AdvancePhase(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[advancePhaseRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.GateID, "gate_id") {
		return
	}
	adv, err := h.Coordinator.AdvancePhase(r.Context(), urlParam(r, "id"), req.GateID)
	if err != nil {
		writeDomainError(w, err, "quality gate not found")
		return
	}
	status := http.StatusOK
	if !adv.Advanced {
		status = http.StatusConflict
	}
	writeJSON(w, status, adv)
}

// --- Quality gates ---

type recordMetricsRequest struct {
	Metrics []gate.Metric `json:"metrics"`
}

// RecordGateMetrics handles POST /api/v1/gates/{id}/metrics.
func (h *Handlers) RecordGateMetrics(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[recordMetricsRequest](w, r)
	if !ok {
		return
	}
	g, err := h.Gates.RecordMetrics(r.Context(), urlParam(r, "id"), req.Metrics)
	if err != nil {
		writeDomainError(w, err, "quality gate not found")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// EvaluateGate handles POST /api/v1/gates/{id}/evaluate.
func (h *Handlers) EvaluateGate(w http.ResponseWriter, r *http.Request) {
	res, err := h.Gates.EvaluateGate(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "quality gate not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type waiveRequest struct {
	Reason string `json:"reason"`
}

// WaiveGate handles POST /api/v1/gates/{id}/waive.
func (h *Handlers) WaiveGate(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[waiveRequest](w, r)
	if !ok {
		return
	}
	g, err := h.Gates.Waive(r.Context(), urlParam(r, "id"), gate.WaiveRequest{
		WaivedBy: middleware.ReviewerFromContext(r.Context()),
		Reason:   req.Reason,
	})
	if err != nil {
		writeDomainError(w, err, "quality gate not found")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// --- Audit ---

// QueryAuditEvents handles GET /api/v1/audit/events. Repeated event_type
// parameters select any of the listed types; after and before take RFC 3339.
func (h *Handlers) QueryAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}
	f := event.Filter{
		ProjectID:     q.Get("project_id"),
		TaskID:        q.Get("task_id"),
		HITLRequestID: q.Get("hitl_request_id"),
		Source:        event.Source(q.Get("event_source")),
		Limit:         limit,
		Offset:        offset,
	}
	for _, t := range q["event_type"] {
		f.Types = append(f.Types, event.Type(t))
	}
	for name, dst := range map[string]**time.Time{"after": &f.After, "before": &f.Before} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, name+" must be an RFC 3339 timestamp")
			return
		}
		*dst = &ts
	}
	page, err := h.Audit.Query(r.Context(), f)
	if err != nil {
		writeDomainError(w, err, "audit events not found")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
