// Package agent defines the closed set of agent types that may act on a project.
package agent

import (
	"fmt"
	"sort"
	"strings"
)

// Type identifies the role of an autonomous agent.
type Type string

const (
	TypeOrchestrator Type = "orchestrator"
	TypeAnalyst      Type = "analyst"
	TypeArchitect    Type = "architect"
	TypeDesigner     Type = "designer"
	TypeCoder        Type = "coder"
	TypeBackendDev   Type = "backend_dev"
	TypeFrontendDev  Type = "frontend_dev"
	TypeTester       Type = "tester"
	TypeReviewer     Type = "reviewer"
	TypeDevOps       Type = "devops"
	TypeDocumenter   Type = "documenter"
)

var known = map[Type]struct{}{
	TypeOrchestrator: {},
	TypeAnalyst:      {},
	TypeArchitect:    {},
	TypeDesigner:     {},
	TypeCoder:        {},
	TypeBackendDev:   {},
	TypeFrontendDev:  {},
	TypeTester:       {},
	TypeReviewer:     {},
	TypeDevOps:       {},
	TypeDocumenter:   {},
}

// IsValid reports whether t is one of the known agent types.
func (t Type) IsValid() bool {
	_, ok := known[t]
	return ok
}

// Parse normalizes s and returns the matching Type.
func Parse(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown agent type %q", s)
	}
	return t, nil
}

// All returns every known agent type, sorted.
func All() []Type {
	out := make([]Type, 0, len(known))
	for t := range known {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
