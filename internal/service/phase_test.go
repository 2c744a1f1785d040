package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/phasegate/internal/adapter/memory"
	"github.com/Strob0t/phasegate/internal/adapter/ristretto"
)

// countingPhases counts store reads and can hold them until released.
type countingPhases struct {
	*memory.Store
	reads atomic.Int32
	gate  chan struct{}
}

func (c *countingPhases) CurrentPhase(ctx context.Context, projectID string) (string, error) {
	c.reads.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.Store.CurrentPhase(ctx, projectID)
}

func newPhaseCache(t *testing.T) *ristretto.Cache {
	t.Helper()
	c, err := ristretto.New(1)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestPhaseServiceCachesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	store := &countingPhases{Store: memory.NewStore()}
	svc := NewPhaseService(store, newPhaseCache(t), time.Minute)

	if err := svc.SetPhase(ctx, "p1", "coding"); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		p, err := svc.CurrentPhase(ctx, "p1")
		if err != nil || p != "coding" {
			t.Fatalf("expected coding, got %q, %v", p, err)
		}
	}
	if got := store.reads.Load(); got != 1 {
		t.Errorf("expected 1 store read, got %d", got)
	}

	if err := svc.SetPhase(ctx, "p1", "testing"); err != nil {
		t.Fatal(err)
	}
	p, err := svc.CurrentPhase(ctx, "p1")
	if err != nil || p != "testing" {
		t.Errorf("expected testing after invalidation, got %q, %v", p, err)
	}
}

func TestPhaseServiceCollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	store := &countingPhases{Store: memory.NewStore(), gate: make(chan struct{})}
	if err := store.Store.SetPhase(ctx, "p1", "discovery"); err != nil {
		t.Fatal(err)
	}
	svc := NewPhaseService(store, nil, 0)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := svc.CurrentPhase(ctx, "p1")
			if err != nil || p != "discovery" {
				t.Errorf("expected discovery, got %q, %v", p, err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	if got := store.reads.Load(); got != 1 {
		t.Errorf("expected 1 store read for 10 callers, got %d", got)
	}
}
