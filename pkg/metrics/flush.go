package metrics

import (
	"context"
	"log/slog"
	"time"
)

const flushInterval = 30 * time.Second

// Sink persists a batch of pending writes, summing on conflict.
type Sink func(events []WriteEvent) error

// RunFlushLoop drains the pending-write buffer into sink every 30 s,
// or immediately whenever QueueWrite reports needsFlush on
// flushSignal. It returns when ctx is cancelled, performing one final
// drain first.
func (c *Cache) RunFlushLoop(ctx context.Context, sink Sink, flushSignal <-chan struct{}, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		events := c.TakePendingWrites()
		if len(events) == 0 {
			return
		}
		if err := sink(events); err != nil {
			logger.Error("metrics: flush failed", "error", err, "count", len(events))
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-ticker.C:
			flush()
		case <-flushSignal:
			flush()
		}
	}
}
