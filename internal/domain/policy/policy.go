// Package policy defines the domain model for PhaseGate's phase policy layer.
// A phase policy governs which agent types may act while a project is in a
// given lifecycle phase, and which prompt keywords are expected of them.
package policy

import (
	"sort"
	"strings"

	"github.com/Strob0t/phasegate/internal/domain/agent"
)

// Status is the outcome class of a policy evaluation.
type Status string

const (
	StatusAllowed            Status = "allowed"
	StatusDenied             Status = "denied"
	StatusNeedsClarification Status = "needs_clarification"
)

// ReasonCode explains a Decision in machine-readable form.
type ReasonCode string

const (
	ReasonOK                    ReasonCode = "ok"
	ReasonOverrideApplied       ReasonCode = "override_applied"
	ReasonNoActivePhase         ReasonCode = "no_active_phase"
	ReasonNoPolicyForPhase      ReasonCode = "no_policy_for_phase"
	ReasonAgentNotAllowed       ReasonCode = "agent_not_allowed"
	ReasonPromptMismatch        ReasonCode = "prompt_mismatch"
	ReasonOverrideNotAuthorized ReasonCode = "override_not_authorized"
)

// Decision is the result of evaluating an agent action against the phase table.
// It is produced fresh on every call and never persisted.
type Decision struct {
	Status        Status       `json:"status"`
	ReasonCode    ReasonCode   `json:"reason_code"`
	Message       string       `json:"message"`
	CurrentPhase  string       `json:"current_phase,omitempty"`
	AllowedAgents []agent.Type `json:"allowed_agents,omitempty"`
}

// Allowed reports whether the action may proceed.
func (d Decision) Allowed() bool { return d.Status == StatusAllowed }

// PhasePolicy is the configured admission rule for one phase.
type PhasePolicy struct {
	Description    string       `json:"description,omitempty" yaml:"description,omitempty"`
	AllowedAgents  []agent.Type `json:"allowed_agents" yaml:"allowed_agents"`
	PromptKeywords []string     `json:"prompt_keywords,omitempty" yaml:"prompt_keywords,omitempty"`
}

// Document is the on-disk shape of a policy file.
type Document struct {
	PhaseOrder []string               `json:"phase_order,omitempty" yaml:"phase_order,omitempty"`
	Phases     map[string]PhasePolicy `json:"phases" yaml:"phases"`
}

type phaseEntry struct {
	allowed  map[agent.Type]struct{}
	agents   []agent.Type
	keywords []string // lower-cased
}

// Table is an immutable, validated phase policy set. Build one with NewTable
// or Unavailable; never mutate it after construction.
type Table struct {
	phases  map[string]phaseEntry
	order   []string
	source  string
	loadErr error
}

// NewTable validates doc and builds an immutable Table from it.
func NewTable(doc Document, source string) (*Table, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	t := &Table{
		phases: make(map[string]phaseEntry, len(doc.Phases)),
		order:  append([]string(nil), doc.PhaseOrder...),
		source: source,
	}
	for name, p := range doc.Phases {
		e := phaseEntry{allowed: make(map[agent.Type]struct{}, len(p.AllowedAgents))}
		for _, a := range p.AllowedAgents {
			at, _ := agent.Parse(string(a)) // validated above
			if _, dup := e.allowed[at]; dup {
				continue
			}
			e.allowed[at] = struct{}{}
			e.agents = append(e.agents, at)
		}
		for _, k := range p.PromptKeywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				e.keywords = append(e.keywords, k)
			}
		}
		t.phases[normalizePhase(name)] = e
	}
	return t, nil
}

// Unavailable returns an empty table that records why loading failed.
// Every evaluation against it is denied.
func Unavailable(source string, cause error) *Table {
	return &Table{phases: map[string]phaseEntry{}, source: source, loadErr: cause}
}

// Err returns the load error for an unavailable table, or nil.
func (t *Table) Err() error { return t.loadErr }

// Source returns where the table was loaded from.
func (t *Table) Source() string { return t.source }

// Phases returns the configured phase names, sorted.
func (t *Table) Phases() []string {
	out := make([]string, 0, len(t.phases))
	for name := range t.phases {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns a copy of the policy for phase.
func (t *Table) Lookup(phase string) (PhasePolicy, bool) {
	e, ok := t.phases[normalizePhase(phase)]
	if !ok {
		return PhasePolicy{}, false
	}
	return PhasePolicy{
		AllowedAgents:  append([]agent.Type(nil), e.agents...),
		PromptKeywords: append([]string(nil), e.keywords...),
	}, true
}

// NextPhase returns the phase that follows current in the configured order.
func (t *Table) NextPhase(current string) (string, bool) {
	current = normalizePhase(current)
	for i, p := range t.order {
		if normalizePhase(p) == current && i+1 < len(t.order) {
			return normalizePhase(t.order[i+1]), true
		}
	}
	return "", false
}

func normalizePhase(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
