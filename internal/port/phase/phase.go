// Package phase defines the ports for reading and moving a project's
// current lifecycle phase.
package phase

import "context"

// Lookup returns a project's current phase, or "" when none is active.
type Lookup interface {
	CurrentPhase(ctx context.Context, projectID string) (string, error)
}

// Advancer moves a project to a new phase.
type Advancer interface {
	SetPhase(ctx context.Context, projectID, phase string) error
}

// Store is both.
type Store interface {
	Lookup
	Advancer
}
