// Package memory provides in-process implementations of PhaseGate's storage
// ports for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/phasegate/internal/domain"
	"github.com/Strob0t/phasegate/internal/domain/gate"
	"github.com/Strob0t/phasegate/internal/domain/hitl"
)

// Store implements database.Store in memory. Values are copied on the way in
// and out so callers never share state with the store.
type Store struct {
	mu       sync.RWMutex
	requests map[string]hitl.Request
	counters map[string]hitl.Counter
	gates    map[string]gate.QualityGate
	phases   map[string]string
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		requests: make(map[string]hitl.Request),
		counters: make(map[string]hitl.Counter),
		gates:    make(map[string]gate.QualityGate),
		phases:   make(map[string]string),
	}
}

// --- HITL requests ---

func (s *Store) CreateHITLRequest(_ context.Context, r *hitl.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return fmt.Errorf("create hitl request %s: %w", r.ID, domain.ErrConflict)
	}
	r.Version = 1
	s.requests[r.ID] = cloneRequest(r)
	return nil
}

func (s *Store) GetHITLRequest(_ context.Context, id string) (*hitl.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("get hitl request %s: %w", id, domain.ErrNotFound)
	}
	out := cloneRequest(&r)
	return &out, nil
}

func (s *Store) ListHITLRequests(_ context.Context, f hitl.ListFilter) ([]hitl.Request, error) {
	f.Normalize()
	s.mu.RLock()
	out := make([]hitl.Request, 0)
	for id := range s.requests {
		r := s.requests[id]
		if f.ProjectID != "" && r.ProjectID != f.ProjectID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, cloneRequest(&r))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, f.Offset, f.Limit), nil
}

func (s *Store) ListDueHITLRequests(_ context.Context, now time.Time, limit int) ([]hitl.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]hitl.Request, 0)
	for id := range s.requests {
		r := s.requests[id]
		if r.IsDue(now) {
			out = append(out, cloneRequest(&r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateHITLRequest(_ context.Context, r *hitl.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.requests[r.ID]
	if !ok {
		return fmt.Errorf("update hitl request %s: %w", r.ID, domain.ErrNotFound)
	}
	if cur.Version != r.Version {
		return fmt.Errorf("update hitl request %s: %w", r.ID, domain.ErrConflict)
	}
	r.Version++
	s.requests[r.ID] = cloneRequest(r)
	return nil
}

// --- HITL counters ---

func (s *Store) GetHITLCounter(_ context.Context, projectID string) (*hitl.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.counters[projectID]
	if !ok {
		return nil, fmt.Errorf("get hitl counter %s: %w", projectID, domain.ErrNotFound)
	}
	return &c, nil
}

func (s *Store) SaveHITLCounter(_ context.Context, c *hitl.Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.counters[c.ProjectID]
	switch {
	case !ok && c.Version != 0, ok && cur.Version != c.Version:
		return fmt.Errorf("save hitl counter %s: %w", c.ProjectID, domain.ErrConflict)
	}
	c.Version++
	s.counters[c.ProjectID] = *c
	return nil
}

// --- Quality gates ---

func (s *Store) CreateQualityGate(_ context.Context, g *gate.QualityGate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.gates[g.ID]; ok {
		return fmt.Errorf("create quality gate %s: %w", g.ID, domain.ErrConflict)
	}
	g.Version = 1
	s.gates[g.ID] = cloneGate(g)
	return nil
}

func (s *Store) GetQualityGate(_ context.Context, id string) (*gate.QualityGate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.gates[id]
	if !ok {
		return nil, fmt.Errorf("get quality gate %s: %w", id, domain.ErrNotFound)
	}
	out := cloneGate(&g)
	return &out, nil
}

func (s *Store) ListQualityGates(_ context.Context, projectID string) ([]gate.QualityGate, error) {
	s.mu.RLock()
	out := make([]gate.QualityGate, 0)
	for id := range s.gates {
		g := s.gates[id]
		if g.ProjectID == projectID {
			out = append(out, cloneGate(&g))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateQualityGate(_ context.Context, g *gate.QualityGate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.gates[g.ID]
	if !ok {
		return fmt.Errorf("update quality gate %s: %w", g.ID, domain.ErrNotFound)
	}
	if cur.Version != g.Version {
		return fmt.Errorf("update quality gate %s: %w", g.ID, domain.ErrConflict)
	}
	g.Version++
	s.gates[g.ID] = cloneGate(g)
	return nil
}

// --- Project phases ---

// CurrentPhase returns "" when the project has no active phase.
func (s *Store) CurrentPhase(_ context.Context, projectID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phases[projectID], nil
}

func (s *Store) SetPhase(_ context.Context, projectID, phase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if phase == "" {
		delete(s.phases, projectID)
		return nil
	}
	s.phases[projectID] = phase
	return nil
}

func cloneRequest(r *hitl.Request) hitl.Request {
	out := *r
	out.Context = append([]byte(nil), r.Context...)
	out.Response = append([]byte(nil), r.Response...)
	out.ResponseData = append([]byte(nil), r.ResponseData...)
	out.Options = append([]string(nil), r.Options...)
	out.ExpiresAt = cloneTime(r.ExpiresAt)
	out.RespondedAt = cloneTime(r.RespondedAt)
	out.EscalatedAt = cloneTime(r.EscalatedAt)
	return out
}

func cloneGate(g *gate.QualityGate) gate.QualityGate {
	out := *g
	out.Criteria = append([]gate.Criterion(nil), g.Criteria...)
	out.Metrics = append([]gate.Metric(nil), g.Metrics...)
	out.WaivedAt = cloneTime(g.WaivedAt)
	out.EvaluatedAt = cloneTime(g.EvaluatedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
