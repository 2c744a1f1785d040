package service

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/phasegate/internal/port/cache"
	"github.com/Strob0t/phasegate/internal/port/phase"
)

// PhaseService caches project phase lookups in front of the phase store.
// Concurrent misses for one project share a single store read.
type PhaseService struct {
	store phase.Store
	cache cache.Cache
	ttl   time.Duration
	group singleflight.Group
}

// NewPhaseService creates a PhaseService. A nil cache disables caching.
func NewPhaseService(store phase.Store, c cache.Cache, ttl time.Duration) *PhaseService {
	return &PhaseService{store: store, cache: c, ttl: ttl}
}

func phaseKey(projectID string) string { return "phase." + projectID }

// CurrentPhase returns the project's phase, or "" when none is active.
func (s *PhaseService) CurrentPhase(ctx context.Context, projectID string) (string, error) {
	if s.cache != nil {
		if v, ok, err := s.cache.Get(ctx, phaseKey(projectID)); err == nil && ok {
			return string(v), nil
		}
	}

	v, err, _ := s.group.Do(projectID, func() (any, error) {
		p, err := s.store.CurrentPhase(ctx, projectID)
		if err != nil {
			return "", err
		}
		if s.cache != nil {
			_ = s.cache.Set(ctx, phaseKey(projectID), []byte(p), s.ttl)
		}
		return p, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// SetPhase writes through to the store and drops the cached value.
func (s *PhaseService) SetPhase(ctx context.Context, projectID, phaseName string) error {
	if err := s.store.SetPhase(ctx, projectID, phaseName); err != nil {
		return err
	}
	if s.cache != nil {
		return s.cache.Delete(ctx, phaseKey(projectID))
	}
	return nil
}
