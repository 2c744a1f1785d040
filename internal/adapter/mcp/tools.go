package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/phasegate/internal/domain/event"
	"github.com/Strob0t/phasegate/internal/domain/hitl"
	"github.com/Strob0t/phasegate/internal/service"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.evaluatePolicyTool(),
		s.listHITLRequestsTool(),
		s.respondHITLRequestTool(),
		s.getCounterTool(),
		s.queryAuditEventsTool(),
	)
}

func (s *Server) evaluatePolicyTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("evaluate_policy",
		mcplib.WithDescription("Check whether an agent type may act in the project's current phase"),
		mcplib.WithString("project_id", mcplib.Required(), mcplib.Description("Project to evaluate against")),
		mcplib.WithString("agent_type", mcplib.Required(), mcplib.Description("Agent type proposing the action")),
		mcplib.WithString("instructions", mcplib.Description("Prompt text, matched against the phase keywords")),
		mcplib.WithString("task_id", mcplib.Description("Task the action belongs to")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleEvaluatePolicy}
}

func (s *Server) listHITLRequestsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_hitl_requests",
		mcplib.WithDescription("List human approval requests, newest first"),
		mcplib.WithString("project_id", mcplib.Description("Only requests for this project")),
		mcplib.WithString("status", mcplib.Description("Only requests in this status"),
			mcplib.Enum(string(hitl.StatusPending), string(hitl.StatusEscalated), string(hitl.StatusApproved),
				string(hitl.StatusRejected), string(hitl.StatusExpired))),
		mcplib.WithNumber("limit", mcplib.Description("Maximum number of requests")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListHITLRequests}
}

func (s *Server) respondHITLRequestTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("respond_hitl_request",
		mcplib.WithDescription("Approve or reject a pending approval request as a registered reviewer"),
		mcplib.WithString("request_id", mcplib.Required(), mcplib.Description("Approval request ID")),
		mcplib.WithString("action", mcplib.Required(), mcplib.Description("Reviewer decision"),
			mcplib.Enum(string(hitl.ActionApprove), string(hitl.ActionReject))),
		mcplib.WithString("reviewer", mcplib.Required(), mcplib.Description("Reviewer name")),
		mcplib.WithString("reviewer_key", mcplib.Required(), mcplib.Description("Reviewer key")),
		mcplib.WithString("comment", mcplib.Description("Free-text comment")),
		mcplib.WithBoolean("reset_counter", mcplib.Description("Reset the autonomy counter on rejection")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleRespondHITLRequest}
}

func (s *Server) getCounterTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_hitl_counter",
		mcplib.WithDescription("Get a project's autonomy counter and limit"),
		mcplib.WithString("project_id", mcplib.Required(), mcplib.Description("Project ID")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetCounter}
}

func (s *Server) queryAuditEventsTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("query_audit_events",
		mcplib.WithDescription("Query the governance audit log, newest first"),
		mcplib.WithString("project_id", mcplib.Description("Only events for this project")),
		mcplib.WithString("task_id", mcplib.Description("Only events for this task")),
		mcplib.WithString("hitl_request_id", mcplib.Description("Only events for this approval request")),
		mcplib.WithString("event_type", mcplib.Description("Only events of this type")),
		mcplib.WithNumber("limit", mcplib.Description("Maximum number of events")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleQueryAuditEvents}
}

func (s *Server) handleEvaluatePolicy(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Policy == nil {
		return mcplib.NewToolResultError("policy engine not configured"), nil
	}
	projectID := req.GetString("project_id", "")
	agentType := req.GetString("agent_type", "")
	if projectID == "" || agentType == "" {
		return mcplib.NewToolResultError("project_id and agent_type are required"), nil
	}
	eval := service.EvaluateRequest{
		ProjectID: projectID,
		AgentType: agentType,
		TaskID:    req.GetString("task_id", ""),
	}
	if instr, ok := req.GetArguments()["instructions"].(string); ok {
		eval.Instructions = &instr
	}
	d, err := s.deps.Policy.Evaluate(ctx, eval)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to evaluate policy", err), nil
	}
	return jsonResult(d)
}

func (s *Server) handleListHITLRequests(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Requests == nil {
		return mcplib.NewToolResultError("hitl manager not configured"), nil
	}
	reqs, err := s.deps.Requests.List(ctx, hitl.ListFilter{
		ProjectID: req.GetString("project_id", ""),
		Status:    hitl.Status(req.GetString("status", "")),
		Limit:     req.GetInt("limit", 0),
	})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list hitl requests", err), nil
	}
	return jsonResult(reqs)
}

func (s *Server) handleRespondHITLRequest(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Responder == nil || s.deps.Reviewers == nil {
		return mcplib.NewToolResultError("hitl responder not configured"), nil
	}
	id := req.GetString("request_id", "")
	if id == "" {
		return mcplib.NewToolResultError("request_id is required"), nil
	}
	reviewer := req.GetString("reviewer", "")
	if err := s.deps.Reviewers.Authenticate(reviewer, req.GetString("reviewer_key", "")); err != nil {
		return mcplib.NewToolResultErrorFromErr("reviewer authentication failed", err), nil
	}

	resp := hitl.RespondRequest{
		Action:      hitl.Action(req.GetString("action", "")),
		Comment:     req.GetString("comment", ""),
		RespondedBy: reviewer,
	}
	if req.GetBool("reset_counter", false) {
		resp.ResponseData = json.RawMessage(`{"reset_counter":true}`)
	}
	res, err := s.deps.Responder.Respond(ctx, id, resp)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to respond to %s", id), err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleGetCounter(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Counters == nil {
		return mcplib.NewToolResultError("counter tracker not configured"), nil
	}
	projectID := req.GetString("project_id", "")
	if projectID == "" {
		return mcplib.NewToolResultError("project_id is required"), nil
	}
	c, err := s.deps.Counters.Status(ctx, projectID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to read counter", err), nil
	}
	return jsonResult(c)
}

func (s *Server) handleQueryAuditEvents(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Audit == nil {
		return mcplib.NewToolResultError("audit log not configured"), nil
	}
	f := event.Filter{
		ProjectID:     req.GetString("project_id", ""),
		TaskID:        req.GetString("task_id", ""),
		HITLRequestID: req.GetString("hitl_request_id", ""),
		Limit:         req.GetInt("limit", 0),
	}
	if t := req.GetString("event_type", ""); t != "" {
		f.Types = []event.Type{event.Type(t)}
	}
	page, err := s.deps.Audit.Query(ctx, f)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to query audit log", err), nil
	}
	return jsonResult(page)
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}
