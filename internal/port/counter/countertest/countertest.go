// Package countertest provides a compliance suite for counter.Cache implementations.
package countertest

import (
	"context"
	"sync"
	"testing"

	"github.com/Strob0t/phasegate/internal/port/counter"
)

// RunComplianceTests runs the standard compliance suite against any counter.Cache.
func RunComplianceTests(t *testing.T, c counter.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissingIsZero", func(t *testing.T) {
		v, err := c.Get(ctx, "compliance-missing")
		if err != nil {
			t.Fatal(err)
		}
		if v != 0 {
			t.Fatalf("expected 0, got %d", v)
		}
	})

	t.Run("IncrFromZero", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			got, err := c.Incr(ctx, "compliance-incr")
			if err != nil {
				t.Fatal(err)
			}
			if got != want {
				t.Fatalf("expected %d, got %d", want, got)
			}
		}
	})

	t.Run("SetThenIncr", func(t *testing.T) {
		if err := c.Set(ctx, "compliance-set", 10); err != nil {
			t.Fatal(err)
		}
		got, err := c.Incr(ctx, "compliance-set")
		if err != nil {
			t.Fatal(err)
		}
		if got != 11 {
			t.Fatalf("expected 11, got %d", got)
		}
		if err := c.Set(ctx, "compliance-set", 0); err != nil {
			t.Fatal(err)
		}
		v, err := c.Get(ctx, "compliance-set")
		if err != nil {
			t.Fatal(err)
		}
		if v != 0 {
			t.Fatalf("expected 0 after reset, got %d", v)
		}
	})

	t.Run("ConcurrentIncrDistinct", func(t *testing.T) {
		const n = 50
		seen := make(chan int64, n)
		var wg sync.WaitGroup
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := c.Incr(ctx, "compliance-race")
				if err != nil {
					t.Error(err)
					return
				}
				seen <- v
			}()
		}
		wg.Wait()
		close(seen)

		got := make(map[int64]bool, n)
		for v := range seen {
			if got[v] {
				t.Fatalf("value %d returned twice", v)
			}
			got[v] = true
		}
		for i := int64(1); i <= n; i++ {
			if !got[i] {
				t.Fatalf("missing value %d", i)
			}
		}
	})
}
