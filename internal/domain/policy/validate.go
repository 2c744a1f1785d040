package policy

import (
	"fmt"
	"strings"

	"github.com/Strob0t/phasegate/internal/domain/agent"
)

// Validate checks that a policy Document is well-formed. Unknown agent types
// are rejected here so they never reach evaluation.
func (d *Document) Validate() error {
	if len(d.Phases) == 0 {
		return fmt.Errorf("policy: at least one phase is required")
	}
	seen := make(map[string]string, len(d.Phases))
	for name, p := range d.Phases {
		key := normalizePhase(name)
		if key == "" {
			return fmt.Errorf("policy: phase name is required")
		}
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("policy: phase %q duplicates %q", name, prev)
		}
		seen[key] = name
		if err := p.Validate(); err != nil {
			return fmt.Errorf("policy: phase %q: %w", name, err)
		}
	}
	ordered := make(map[string]struct{}, len(d.PhaseOrder))
	for i, name := range d.PhaseOrder {
		key := normalizePhase(name)
		if _, ok := seen[key]; !ok {
			return fmt.Errorf("policy: phase_order[%d]: unknown phase %q", i, name)
		}
		if _, dup := ordered[key]; dup {
			return fmt.Errorf("policy: phase_order[%d]: phase %q listed twice", i, name)
		}
		ordered[key] = struct{}{}
	}
	return nil
}

// Validate checks that a PhasePolicy is well-formed.
func (p *PhasePolicy) Validate() error {
	for i, a := range p.AllowedAgents {
		if _, err := agent.Parse(string(a)); err != nil {
			return fmt.Errorf("allowed_agents[%d]: %w", i, err)
		}
	}
	for i, k := range p.PromptKeywords {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("prompt_keywords[%d]: empty keyword", i)
		}
	}
	return nil
}
