package memory

import (
	"context"
	"sync"

	"github.com/Strob0t/phasegate/internal/domain/event"
)

// AuditLog implements auditlog.Store in memory. Entries are kept in append
// order and returned newest first.
type AuditLog struct {
	mu      sync.RWMutex
	entries []event.Entry
}

// NewAuditLog returns an empty AuditLog.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (a *AuditLog) Append(_ context.Context, e *event.Entry) error {
	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	a.mu.Lock()
	a.entries = append(a.entries, cp)
	a.mu.Unlock()
	return nil
}

func (a *AuditLog) Query(_ context.Context, f event.Filter) (*event.Page, error) {
	f.Normalize()
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]event.Entry, 0, f.Limit)
	skipped := 0
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := &a.entries[i]
		if !f.Matches(e) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		if len(out) == f.Limit {
			return &event.Page{Entries: out, HasMore: true}, nil
		}
		out = append(out, *e)
	}
	return &event.Page{Entries: out}, nil
}

// Len returns the number of stored entries.
func (a *AuditLog) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}
