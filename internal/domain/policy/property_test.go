package policy

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Strob0t/phasegate/internal/domain/agent"
)

// Property: with no active phase every agent is denied no_active_phase.
func TestPropertyNoActivePhaseAlwaysDenied(t *testing.T) {
	tbl := DefaultLifecycle()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("no active phase denies any agent", prop.ForAll(
		func(agentName, instructions string, override bool) bool {
			d := tbl.Evaluate(Input{AgentType: agentName, Instructions: &instructions, Override: override, OverrideAuthorized: override})
			return d.Status == StatusDenied && d.ReasonCode == ReasonNoActivePhase
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property: a phase missing from the table is always denied no_policy_for_phase.
func TestPropertyUnknownPhaseAlwaysDenied(t *testing.T) {
	tbl := DefaultLifecycle()
	all := agent.All()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("unconfigured phase denies any agent", prop.ForAll(
		func(phase string, idx int) bool {
			if _, ok := tbl.Lookup(phase); ok {
				return true
			}
			d := tbl.Evaluate(Input{Phase: "x-" + phase, AgentType: string(all[idx])})
			return d.Status == StatusDenied && d.ReasonCode == ReasonNoPolicyForPhase
		},
		gen.AlphaString(),
		gen.IntRange(0, len(all)-1),
	))

	properties.TestingRun(t)
}

// Property: an allowed agent flips to agent_not_allowed once removed from the
// allowed set, all other inputs equal.
func TestPropertyRemovingAgentFlipsDecision(t *testing.T) {
	all := agent.All()
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("allowed then removed becomes agent_not_allowed", prop.ForAll(
		func(idx int, others []int) bool {
			target := all[idx]
			allowed := []agent.Type{target}
			for _, o := range others {
				allowed = append(allowed, all[o])
			}
			with, err := NewTable(Document{Phases: map[string]PhasePolicy{"build": {AllowedAgents: allowed}}}, "prop")
			if err != nil {
				return false
			}
			var without []agent.Type
			for _, a := range allowed {
				if a != target {
					without = append(without, a)
				}
			}
			withoutTbl, err := NewTable(Document{Phases: map[string]PhasePolicy{"build": {AllowedAgents: without}}}, "prop")
			if err != nil {
				return false
			}

			in := Input{Phase: "build", AgentType: string(target)}
			a := with.Evaluate(in)
			b := withoutTbl.Evaluate(in)
			return a.Status == StatusAllowed && b.Status == StatusDenied && b.ReasonCode == ReasonAgentNotAllowed
		},
		gen.IntRange(0, len(all)-1),
		gen.SliceOf(gen.IntRange(0, len(all)-1)),
	))

	properties.TestingRun(t)
}
