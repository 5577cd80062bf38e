package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"algodesk/internal/domain"
)

// TickRecorder buffers live ticks in memory and flushes them to a TickStore
// periodically, keeping file I/O off the ingest path.
type TickRecorder struct {
	store    TickStore
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	pending domain.TickBatch
}

// NewTickRecorder creates a recorder that flushes every interval.
func NewTickRecorder(s TickStore, interval time.Duration, log *slog.Logger) *TickRecorder {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &TickRecorder{store: s, interval: interval, log: log}
}

// Record queues a batch for the next flush.
func (r *TickRecorder) Record(batch domain.TickBatch) {
	r.mu.Lock()
	r.pending = append(r.pending, batch...)
	r.mu.Unlock()
}

// Flush writes every queued tick.
func (r *TickRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := r.store.WriteTicks(ctx, batch); err != nil {
		return err
	}
	r.log.Debug("ticks recorded", "count", len(batch))
	return nil
}

// Run flushes on every interval until ctx is done, then flushes once more.
func (r *TickRecorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := r.Flush(context.Background()); err != nil {
				r.log.Error("final tick flush failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.log.Error("tick flush failed", "error", err)
			}
		}
	}
}
