package event

import (
	"fmt"
	"time"

	"github.com/Strob0t/phasegate/internal/domain"
)

// DefaultLimit and MaxLimit bound a query page.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Filter narrows an audit query. Zero fields match everything.
type Filter struct {
	ProjectID     string     `json:"project_id,omitempty"`
	TaskID        string     `json:"task_id,omitempty"`
	HITLRequestID string     `json:"hitl_request_id,omitempty"`
	Types         []Type     `json:"types,omitempty"`
	Source        Source     `json:"event_source,omitempty"`
	After         *time.Time `json:"after,omitempty"`
	Before        *time.Time `json:"before,omitempty"`
	Limit         int        `json:"limit,omitempty"`
	Offset        int        `json:"offset,omitempty"`
}

// Normalize applies the default limit.
func (f *Filter) Normalize() {
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
}

// Validate rejects out-of-range paging.
func (f *Filter) Validate() error {
	if f.Limit < 0 || f.Limit > MaxLimit {
		return fmt.Errorf("limit must be between 1 and %d: %w", MaxLimit, domain.ErrValidation)
	}
	if f.Offset < 0 {
		return fmt.Errorf("offset must be non-negative: %w", domain.ErrValidation)
	}
	return nil
}

// Matches reports whether e passes every set field of f.
func (f *Filter) Matches(e *Entry) bool {
	if f.ProjectID != "" && e.ProjectID != f.ProjectID {
		return false
	}
	if f.TaskID != "" && e.TaskID != f.TaskID {
		return false
	}
	if f.HITLRequestID != "" && e.HITLRequestID != f.HITLRequestID {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if e.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.After != nil && !e.Timestamp.After(*f.After) {
		return false
	}
	if f.Before != nil && !e.Timestamp.Before(*f.Before) {
		return false
	}
	return true
}

// Page is one newest-first slice of audit entries.
type Page struct {
	Entries []Entry `json:"entries"`
	HasMore bool    `json:"has_more"`
}
