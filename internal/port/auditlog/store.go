// Package auditlog defines the port for the append-only governance audit log.
package auditlog

import (
	"context"

	"github.com/Strob0t/phasegate/internal/domain/event"
)

// Store persists audit entries. Entries are never updated or deleted.
type Store interface {
	// Append durably writes e. It returns only after the write is committed.
	Append(ctx context.Context, e *event.Entry) error

	// Query returns entries matching f, newest first.
	Query(ctx context.Context, f event.Filter) (*event.Page, error)
}
