// Package mcp exposes PhaseGate's governance operations as Model Context
// Protocol tools, so agent runtimes can ask for admission decisions and
// reviewers can answer approval requests from an MCP client.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/phasegate/internal/domain/event"
	"github.com/Strob0t/phasegate/internal/domain/hitl"
	"github.com/Strob0t/phasegate/internal/domain/policy"
	"github.com/Strob0t/phasegate/internal/service"
)

// ServerConfig configures the MCP listener.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
}

// PolicyEvaluator answers admission questions.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, req service.EvaluateRequest) (policy.Decision, error)
	Table() *policy.Table
}

// HITLLister lists approval requests.
type HITLLister interface {
	List(ctx context.Context, f hitl.ListFilter) ([]hitl.Request, error)
}

// HITLResponder records a reviewer's answer and releases held actions.
type HITLResponder interface {
	Respond(ctx context.Context, id string, resp hitl.RespondRequest) (*service.RespondResult, error)
}

// AuditQuerier reads the audit log.
type AuditQuerier interface {
	Query(ctx context.Context, f event.Filter) (*event.Page, error)
}

// CounterReader reports a project's autonomy counter.
type CounterReader interface {
	Status(ctx context.Context, projectID string) (*hitl.Counter, error)
}

// Authenticator verifies reviewer credentials.
type Authenticator interface {
	Authenticate(name, key string) error
}

// ServerDeps holds the services the tools call into. Any of them may be nil;
// the matching tools then answer with an error result.
type ServerDeps struct {
	Policy    PolicyEvaluator
	Requests  HITLLister
	Responder HITLResponder
	Audit     AuditQuerier
	Counters  CounterReader
	Reviewers Authenticator
}

// Server is the MCP tool server.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer builds the MCP server and registers its tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Start listens on the configured address and serves the streamable HTTP
// transport in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	slog.Info("mcp server listening", "addr", ln.Addr().String())
	return nil
}

// Stop shuts the listener down, waiting for in-flight calls until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
