// Package gather defines market-data feeds and the batching that turns a
// stream of individual ticks into the batches the session ingests.
package gather

import (
	"context"
	"time"

	"algodesk/internal/domain"
)

// Sink receives tick batches from a feed. Calls are sequential.
type Sink func(domain.TickBatch)

// Feed is a source of live quote updates.
type Feed interface {
	// Name returns the feed identifier.
	Name() string
	// Run streams batches into sink. It returns nil once ctx is cancelled
	// and an error when the connection is lost.
	Run(ctx context.Context, sink Sink) error
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies within [Start, End]. A zero bound is open.
func (r DateRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// Batch reads ticks from in and hands them to sink in batches. A batch is
// flushed when it reaches maxSize ticks or when window has passed since its
// first tick. Remaining ticks are flushed when in is closed or ctx is done.
func Batch(ctx context.Context, in <-chan domain.Tick, window time.Duration, maxSize int, sink Sink) {
	if maxSize <= 0 {
		maxSize = 512
	}
	var (
		pending domain.TickBatch
		timer   *time.Timer
		timerC  <-chan time.Time
	)
	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		sink(pending)
		pending = nil
	}
	defer flush()

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-in:
			if !ok {
				return
			}
			pending = append(pending, t)
			if len(pending) >= maxSize || window <= 0 {
				flush()
				continue
			}
			if timer == nil {
				timer = time.NewTimer(window)
				timerC = timer.C
			}
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}
