package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// captureHandler keeps every delivered record so tests can count deliveries.
type captureHandler struct {
	mu    sync.Mutex
	got   []slog.Record
	stall time.Duration
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.stall > 0 {
		time.Sleep(h.stall)
	}
	h.mu.Lock()
	h.got = append(h.got, rec)
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) delivered() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.got)
}

func record(msg string) slog.Record {
	return slog.NewRecord(time.Now(), slog.LevelInfo, msg, 0)
}

func TestAsyncHandlerDeliversToWrapped(t *testing.T) {
	sink := &captureHandler{}
	ah := NewAsyncHandler(sink, 64, 1)

	if err := ah.Handle(context.Background(), record("plan created")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	ah.Close()

	if got := sink.delivered(); got != 1 {
		t.Fatalf("delivered = %d, want 1", got)
	}
}

func TestAsyncHandlerParallelProducers(t *testing.T) {
	const producers = 50
	const perProducer = 40
	want := producers * perProducer

	sink := &captureHandler{}
	ah := NewAsyncHandler(sink, want, 4)

	var wg sync.WaitGroup
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perProducer {
				_ = ah.Handle(context.Background(), record("entity written"))
			}
		}()
	}
	wg.Wait()
	ah.Close()

	if got := sink.delivered(); got != want {
		t.Fatalf("delivered = %d, want %d", got, want)
	}
}

func TestAsyncHandlerDropsWhenSaturated(t *testing.T) {
	// A stalled sink behind a one-slot queue forces the overflow path.
	sink := &captureHandler{stall: 10 * time.Millisecond}
	ah := NewAsyncHandler(sink, 1, 1)

	for range 40 {
		_ = ah.Handle(context.Background(), record("burst"))
	}
	ah.Close()

	if ah.DroppedCount() == 0 {
		t.Fatal("expected drops from a saturated queue, got none")
	}
	if ah.DroppedCount()+int64(sink.delivered()) != 40 {
		t.Fatalf("dropped %d + delivered %d != 40", ah.DroppedCount(), sink.delivered())
	}
}

func TestAsyncHandlerCloseDrainsQueue(t *testing.T) {
	sink := &captureHandler{}
	ah := NewAsyncHandler(sink, 256, 2)

	const want = 150
	for range want {
		_ = ah.Handle(context.Background(), record("pending"))
	}
	ah.Close()

	if got := sink.delivered(); got != want {
		t.Fatalf("delivered = %d after Close, want %d", got, want)
	}
}

func TestAsyncHandlerSiblingsShareQueue(t *testing.T) {
	sink := &captureHandler{}
	ah := NewAsyncHandler(sink, 64, 1)

	child := ah.WithAttrs([]slog.Attr{slog.String("tenant", "acme")})
	_ = ah.Handle(context.Background(), record("parent"))
	_ = child.Handle(context.Background(), record("child"))
	ah.Close()

	if got := sink.delivered(); got != 2 {
		t.Fatalf("delivered = %d, want 2", got)
	}
}
