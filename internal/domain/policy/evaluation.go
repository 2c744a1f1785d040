package policy

import (
	"fmt"
	"strings"

	"github.com/Strob0t/phasegate/internal/domain/agent"
)

// Input carries everything Evaluate needs. Phase is empty when the project
// has no active phase. Instructions is nil when the caller supplied none.
type Input struct {
	Phase              string
	AgentType          string
	Instructions       *string
	Override           bool
	OverrideAuthorized bool
}

// Evaluate checks an agent action against the table.
//
// Order of checks: active phase, phase policy, override authorization,
// agent membership, prompt keywords. An authorized override skips the last
// two but never the first two.
func (t *Table) Evaluate(in Input) Decision {
	phase := normalizePhase(in.Phase)
	if phase == "" {
		return Decision{
			Status:     StatusDenied,
			ReasonCode: ReasonNoActivePhase,
			Message:    "project has no active phase",
		}
	}

	e, ok := t.phases[phase]
	if !ok {
		msg := fmt.Sprintf("no policy configured for phase %q", phase)
		if t.loadErr != nil {
			msg = fmt.Sprintf("policy unavailable (%v); no policy for phase %q", t.loadErr, phase)
		}
		return Decision{
			Status:       StatusDenied,
			ReasonCode:   ReasonNoPolicyForPhase,
			Message:      msg,
			CurrentPhase: phase,
		}
	}

	allowed := append([]agent.Type(nil), e.agents...)

	if in.Override {
		if !in.OverrideAuthorized {
			return Decision{
				Status:        StatusDenied,
				ReasonCode:    ReasonOverrideNotAuthorized,
				Message:       "override presented by an actor who is not an authorized reviewer",
				CurrentPhase:  phase,
				AllowedAgents: allowed,
			}
		}
		return Decision{
			Status:        StatusAllowed,
			ReasonCode:    ReasonOverrideApplied,
			Message:       fmt.Sprintf("override applied in phase %q", phase),
			CurrentPhase:  phase,
			AllowedAgents: allowed,
		}
	}

	at, err := agent.Parse(in.AgentType)
	if err != nil || !e.allows(at) {
		msg := fmt.Sprintf("agent %q is not allowed in phase %q; allowed: %s", in.AgentType, phase, joinAgents(allowed))
		if err != nil {
			msg = fmt.Sprintf("unknown agent type %q; allowed in phase %q: %s", in.AgentType, phase, joinAgents(allowed))
		}
		return Decision{
			Status:        StatusDenied,
			ReasonCode:    ReasonAgentNotAllowed,
			Message:       msg,
			CurrentPhase:  phase,
			AllowedAgents: allowed,
		}
	}

	if in.Instructions != nil && len(e.keywords) > 0 && !matchesAnyKeyword(*in.Instructions, e.keywords) {
		return Decision{
			Status:        StatusNeedsClarification,
			ReasonCode:    ReasonPromptMismatch,
			Message:       fmt.Sprintf("instructions do not mention any expected keyword for phase %q: %s", phase, strings.Join(e.keywords, ", ")),
			CurrentPhase:  phase,
			AllowedAgents: allowed,
		}
	}

	return Decision{
		Status:        StatusAllowed,
		ReasonCode:    ReasonOK,
		Message:       fmt.Sprintf("agent %q allowed in phase %q", at, phase),
		CurrentPhase:  phase,
		AllowedAgents: allowed,
	}
}

func (e phaseEntry) allows(t agent.Type) bool {
	_, ok := e.allowed[t]
	return ok
}

// matchesAnyKeyword reports whether any lower-cased keyword occurs in text,
// ignoring case.
func matchesAnyKeyword(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func joinAgents(agents []agent.Type) string {
	if len(agents) == 0 {
		return "(none)"
	}
	parts := make([]string, len(agents))
	for i, a := range agents {
		parts[i] = string(a)
	}
	return strings.Join(parts, ", ")
}
