package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/phasegate/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router. Mutating
// governance calls require reviewer credentials; everything else is open to
// agents and dashboards.
func MountRoutes(r chi.Router, h *Handlers) {
	requireReviewer := middleware.RequireReviewer(h.Reviewers)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.OptionalReviewer(h.Reviewers))

		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Policy
		r.Get("/policy", h.GetPolicy)
		r.Post("/policy/evaluate", h.EvaluatePolicy)
		r.With(requireReviewer).Post("/policy/reload", h.ReloadPolicy)

		// Actions
		r.Post("/actions", h.SubmitAction)
		r.Get("/actions/held", h.ListHeldActions)

		// HITL requests
		r.Get("/hitl/requests", h.ListHITLRequests)
		r.Post("/hitl/requests", handleCreate(h.HITL.Create))
		r.Get("/hitl/requests/{id}", handleGet(h.HITL.Get, "hitl request not found"))
		r.With(requireReviewer).Post("/hitl/requests/{id}/respond", h.RespondHITLRequest)
		r.With(requireReviewer).Post("/hitl/requests/{id}/escalate", h.EscalateHITLRequest)

		// Projects: counter and phase
		r.Get("/projects/{id}/hitl/counter", h.GetCounter)
		r.With(requireReviewer).Put("/projects/{id}/hitl/counter", h.ReconfigureCounter)
		r.Get("/projects/{id}/phase", h.GetPhase)
		r.With(requireReviewer).Put("/projects/{id}/phase", h.SetPhase)
		r.With(requireReviewer).Post("/projects/{id}/phase/advance", h.AdvancePhase)
		r.Get("/projects/{id}/gates", handleListByParam("id", h.Gates.ListGates, "project not found"))

		// Quality gates
		r.Post("/gates", handleCreate(h.Gates.CreateGate))
		r.Get("/gates/{id}", handleGet(h.Gates.GetGate, "quality gate not found"))
		r.Post("/gates/{id}/metrics", h.RecordGateMetrics)
		r.Post("/gates/{id}/evaluate", h.EvaluateGate)
		r.With(requireReviewer).Post("/gates/{id}/waive", h.WaiveGate)

		// Audit
		r.Get("/audit/events", h.QueryAuditEvents)
	})
}
