// Package executor defines the port for the external agent executor.
package executor

import (
	"context"
	"encoding/json"

	"github.com/Strob0t/phasegate/internal/domain/action"
)

// Request is what the executor receives for one admitted action.
type Request struct {
	ProjectID    string          `json:"project_id"`
	TaskID       string          `json:"task_id,omitempty"`
	AgentType    string          `json:"agent_type"`
	Instructions string          `json:"instructions"`
	Context      json.RawMessage `json:"context,omitempty"`
}

// Executor runs an agent action. Implementations are opaque and may be slow
// or unreliable; callers bound them with ctx.
type Executor interface {
	Execute(ctx context.Context, req Request) (*action.ExecutionResult, error)
}
