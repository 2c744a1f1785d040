// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/phasegate/internal/domain/gate"
	"github.com/Strob0t/phasegate/internal/domain/hitl"
	"github.com/Strob0t/phasegate/internal/port/phase"
)

// Store is the port interface for durable governance state.
//
// Update methods use optimistic locking: they succeed only when the stored
// version equals the passed entity's Version, bump Version on success, and
// return domain.ErrConflict otherwise.
type Store interface {
	// HITL requests
	CreateHITLRequest(ctx context.Context, r *hitl.Request) error
	GetHITLRequest(ctx context.Context, id string) (*hitl.Request, error)
	ListHITLRequests(ctx context.Context, filter hitl.ListFilter) ([]hitl.Request, error)
	ListDueHITLRequests(ctx context.Context, now time.Time, limit int) ([]hitl.Request, error)
	UpdateHITLRequest(ctx context.Context, r *hitl.Request) error

	// HITL counter configuration
	GetHITLCounter(ctx context.Context, projectID string) (*hitl.Counter, error)
	SaveHITLCounter(ctx context.Context, c *hitl.Counter) error

	// Quality gates
	CreateQualityGate(ctx context.Context, g *gate.QualityGate) error
	GetQualityGate(ctx context.Context, id string) (*gate.QualityGate, error)
	ListQualityGates(ctx context.Context, projectID string) ([]gate.QualityGate, error)
	UpdateQualityGate(ctx context.Context, g *gate.QualityGate) error

	// Project phases
	phase.Store
}
