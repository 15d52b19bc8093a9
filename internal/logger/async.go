package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// AsyncHandler decouples record emission from serialization. Handle enqueues
// the record onto a bounded queue and returns immediately; worker goroutines
// deliver queued records to the wrapped handler. A full queue drops the
// record and bumps a counter instead of blocking the caller.
type AsyncHandler struct {
	next    slog.Handler
	queue   chan slog.Record
	workers *sync.WaitGroup
	dropped *atomic.Int64
}

// NewAsyncHandler wraps next with a queue of the given capacity serviced by
// the given number of worker goroutines.
func NewAsyncHandler(next slog.Handler, capacity, workers int) *AsyncHandler {
	h := &AsyncHandler{
		next:    next,
		queue:   make(chan slog.Record, capacity),
		workers: &sync.WaitGroup{},
		dropped: &atomic.Int64{},
	}
	for range workers {
		h.workers.Add(1)
		go h.run()
	}
	return h
}

func (h *AsyncHandler) run() {
	defer h.workers.Done()
	for rec := range h.queue {
		_ = h.next.Handle(context.Background(), rec)
	}
}

// Enabled delegates to the wrapped handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle enqueues the record, dropping it when the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.queue <- rec:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// derive produces a sibling handler over the same queue. Attribute and group
// state lives in the wrapped handler, so siblings share workers and the drop
// counter.
func (h *AsyncHandler) derive(next slog.Handler) *AsyncHandler {
	return &AsyncHandler{
		next:    next,
		queue:   h.queue,
		workers: h.workers,
		dropped: h.dropped,
	}
}

// WithAttrs implements slog.Handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(h.next.WithAttrs(attrs))
}

// WithGroup implements slog.Handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return h.derive(h.next.WithGroup(name))
}

// DroppedCount reports how many records were discarded because the queue
// was full.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.dropped.Load()
}

// Close stops accepting records and blocks until the workers have delivered
// everything still queued.
func (h *AsyncHandler) Close() {
	close(h.queue)
	h.workers.Wait()
}
