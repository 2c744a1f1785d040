package policy

import "github.com/Strob0t/phasegate/internal/domain/agent"

// DefaultLifecycleSource names the built-in table in logs and audit payloads.
const DefaultLifecycleSource = "builtin:default-lifecycle"

// DefaultLifecycleDocument returns the built-in six-phase lifecycle.
func DefaultLifecycleDocument() Document {
	return Document{
		PhaseOrder: []string{"discovery", "requirements", "architecture", "coding", "testing", "deployment"},
		Phases: map[string]PhasePolicy{
			"discovery": {
				Description:    "Explore the problem space and gather requirements.",
				AllowedAgents:  []agent.Type{agent.TypeOrchestrator, agent.TypeAnalyst},
				PromptKeywords: []string{"requirements", "gather", "research", "stakeholder", "discover"},
			},
			"requirements": {
				Description:    "Write and refine specifications and acceptance criteria.",
				AllowedAgents:  []agent.Type{agent.TypeOrchestrator, agent.TypeAnalyst, agent.TypeDesigner},
				PromptKeywords: []string{"requirement", "specification", "acceptance", "user story", "criteria"},
			},
			"architecture": {
				Description:    "Design system structure, interfaces and data models.",
				AllowedAgents:  []agent.Type{agent.TypeOrchestrator, agent.TypeArchitect, agent.TypeDesigner},
				PromptKeywords: []string{"design", "architecture", "interface", "schema", "component"},
			},
			"coding": {
				Description:   "Implement features against the agreed design.",
				AllowedAgents: []agent.Type{agent.TypeOrchestrator, agent.TypeCoder, agent.TypeBackendDev, agent.TypeFrontendDev, agent.TypeReviewer},
			},
			"testing": {
				Description:    "Verify behaviour and fix defects.",
				AllowedAgents:  []agent.Type{agent.TypeOrchestrator, agent.TypeTester, agent.TypeCoder, agent.TypeReviewer},
				PromptKeywords: []string{"test", "verify", "fix", "coverage", "regression"},
			},
			"deployment": {
				Description:    "Release, document and operate.",
				AllowedAgents:  []agent.Type{agent.TypeOrchestrator, agent.TypeDevOps, agent.TypeDocumenter},
				PromptKeywords: []string{"deploy", "release", "document", "pipeline", "monitor"},
			},
		},
	}
}

// DefaultLifecycle returns the built-in lifecycle as a Table.
func DefaultLifecycle() *Table {
	t, err := NewTable(DefaultLifecycleDocument(), DefaultLifecycleSource)
	if err != nil {
		// The preset is static; a validation error here is a programming error.
		panic("policy: invalid default lifecycle: " + err.Error())
	}
	return t
}
