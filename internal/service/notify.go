package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/phasegate/internal/port/broadcast"
	"github.com/Strob0t/phasegate/internal/port/messagequeue"
)

// Notifier fans governance events out to connected clients and the message
// queue. Either sink may be nil. Failures are logged and never returned.
type Notifier struct {
	hub   broadcast.Broadcaster
	queue messagequeue.Queue
}

// NewNotifier creates a Notifier.
func NewNotifier(hub broadcast.Broadcaster, queue messagequeue.Queue) *Notifier {
	return &Notifier{hub: hub, queue: queue}
}

// Broadcast pushes payload to WebSocket clients.
func (n *Notifier) Broadcast(ctx context.Context, eventType string, payload any) {
	if n == nil || n.hub == nil {
		return
	}
	n.hub.BroadcastEvent(ctx, eventType, payload)
}

// Publish sends payload to subject.
func (n *Notifier) Publish(ctx context.Context, subject string, payload any) {
	if n == nil || n.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.WarnContext(ctx, "notify marshal failed", "subject", subject, "error", err)
		return
	}
	if err := n.queue.Publish(ctx, subject, data); err != nil {
		slog.WarnContext(ctx, "notify publish failed", "subject", subject, "error", err)
	}
}
