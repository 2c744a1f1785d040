package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errUpstream = errors.New("executor unavailable")

func fail(context.Context) error { return errUpstream }
func ok(context.Context) error   { return nil }

func TestClosedStateAllowsCalls(t *testing.T) {
	b := NewBreaker(3, time.Second)
	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected call to run, err=%v called=%v", err, called)
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker(3, time.Second)
	ctx := context.Background()
	for range 3 {
		_ = b.Execute(ctx, fail)
	}
	if err := b.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if b.State() != StateOpen {
		t.Errorf("expected open, got %s", b.State())
	}
}

func TestHalfOpenProbeCloses(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	if err := b.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}

	now = now.Add(2 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open, got %s", b.State())
	}
	if err := b.Execute(ctx, ok); err != nil {
		t.Fatalf("probe should run: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("expected closed after probe success, got %s", b.State())
	}
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Second)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	now = now.Add(2 * time.Second)

	release := make(chan struct{})
	done := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		done <- b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second call during probe: expected ErrCircuitOpen, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Second)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	now = now.Add(2 * time.Second)
	_ = b.Execute(ctx, fail)

	if b.State() != StateOpen {
		t.Fatalf("expected open after failed probe, got %s", b.State())
	}
	if err := b.Execute(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after reopen, got %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Second)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, ok)
	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, fail)

	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestPermanentErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker(1, time.Second)
	ctx := context.Background()
	bad := fmt.Errorf("status 400: %w", errUpstream)

	for range 3 {
		err := b.Execute(ctx, func(context.Context) error { return Permanent(bad) })
		if !errors.Is(err, errUpstream) {
			t.Fatalf("expected wrapped error, got %v", err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("permanent errors tripped the breaker: %s", b.State())
	}
}

func TestCanceledCallerDoesNotTrip(t *testing.T) {
	b := NewBreaker(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	_ = b.Execute(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	if b.State() != StateClosed {
		t.Errorf("caller cancellation tripped the breaker: %s", b.State())
	}
	if err := b.Execute(ctx, ok); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled for dead context, got %v", err)
	}
}
