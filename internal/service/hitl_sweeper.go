package service

import (
	"context"
	"log/slog"
	"time"
)

// ExpirySweeper periodically expires overdue HITL requests. Lazy expiry on
// read covers the gaps between ticks.
type ExpirySweeper struct {
	hitl     *HITLService
	interval time.Duration
}

// NewExpirySweeper creates a sweeper that runs every interval.
func NewExpirySweeper(h *HITLService, interval time.Duration) *ExpirySweeper {
	return &ExpirySweeper{hitl: h, interval: interval}
}

// Run sweeps until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("hitl expiry sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("hitl expiry sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ExpirySweeper) sweep(ctx context.Context) {
	n, err := s.hitl.ExpireDue(ctx, s.hitl.now())
	if err != nil {
		slog.Warn("hitl expiry sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("hitl requests expired", "count", n)
	}
}
