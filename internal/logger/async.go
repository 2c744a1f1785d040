package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Output is the handle returned by New. In async mode it owns the write
// buffer; in sync mode every method is a no-op.
type Output struct {
	buf *buffer
}

// Close flushes buffered records and stops the writers.
func (o *Output) Close() {
	if o == nil || o.buf == nil {
		return
	}
	o.buf.close()
}

// Dropped reports how many records were discarded because the buffer was
// full.
func (o *Output) Dropped() int64 {
	if o == nil || o.buf == nil {
		return 0
	}
	return o.buf.dropped.Load()
}

// buffer is shared by a bufferedHandler and every handler derived from it
// through WithAttrs or WithGroup.
type buffer struct {
	ch      chan entry
	wg      sync.WaitGroup
	dropped atomic.Int64
	once    sync.Once
}

type entry struct {
	h   slog.Handler
	rec slog.Record
}

func newBuffer(size, writers int) *buffer {
	b := &buffer{ch: make(chan entry, size)}
	for range writers {
		b.wg.Add(1)
		go b.drain()
	}
	return b
}

func (b *buffer) drain() {
	defer b.wg.Done()
	for e := range b.ch {
		_ = e.h.Handle(context.Background(), e.rec)
	}
}

func (b *buffer) close() {
	b.once.Do(func() {
		close(b.ch)
		b.wg.Wait()
	})
}

// bufferedHandler hands records to background writers. When the buffer is
// full, records below Error are dropped and counted; Error records are
// written inline so failures are never lost.
type bufferedHandler struct {
	inner slog.Handler
	buf   *buffer
}

func (h *bufferedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *bufferedHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.buf.ch <- entry{h: h.inner, rec: rec.Clone()}:
		return nil
	default:
	}
	if rec.Level >= slog.LevelError {
		return h.inner.Handle(ctx, rec)
	}
	h.buf.dropped.Add(1)
	return nil
}

func (h *bufferedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &bufferedHandler{inner: h.inner.WithAttrs(attrs), buf: h.buf}
}

func (h *bufferedHandler) WithGroup(name string) slog.Handler {
	return &bufferedHandler{inner: h.inner.WithGroup(name), buf: h.buf}
}
