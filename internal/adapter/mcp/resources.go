package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/phasegate/internal/domain/policy"
)

const policyResourceURI = "phasegate://policy"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			policyResourceURI,
			"Phase Policy",
			mcplib.WithResourceDescription("Phase policy table currently in effect"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePolicyResource,
	)
}

// policyView is the JSON shape of the policy resource.
type policyView struct {
	Source string                        `json:"source"`
	Error  string                        `json:"error,omitempty"`
	Phases map[string]policy.PhasePolicy `json:"phases"`
}

func (s *Server) handlePolicyResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	text := `{"error":"policy engine not configured"}`
	if s.deps.Policy != nil {
		data, err := json.Marshal(describeTable(s.deps.Policy.Table()))
		if err != nil {
			return nil, err
		}
		text = string(data)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     text,
		},
	}, nil
}

func describeTable(t *policy.Table) policyView {
	v := policyView{Source: t.Source(), Phases: make(map[string]policy.PhasePolicy)}
	if err := t.Err(); err != nil {
		v.Error = err.Error()
	}
	for _, name := range t.Phases() {
		if p, ok := t.Lookup(name); ok {
			v.Phases[name] = p
		}
	}
	return v
}
