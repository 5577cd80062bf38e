package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"algodesk/internal/domain"
)

// Dispatch errors. Both are also recorded as the FAILED order's error.
var (
	ErrDispatchQueueFull = errors.New("order dispatch queue full")
	ErrDispatcherStopped = errors.New("order dispatcher stopped")
)

// Placer routes one intent synchronously, or records it as failed without
// routing.
type Placer interface {
	Place(ctx context.Context, intent domain.OrderIntent, mode domain.Mode) domain.OrderRecord
	Reject(intent domain.OrderIntent, mode domain.Mode, cause error) domain.OrderRecord
}

type dispatchJob struct {
	intent domain.OrderIntent
	mode   domain.Mode
	done   func(domain.OrderRecord)
}

// Dispatcher places orders on a bounded queue served by a fixed set of
// workers, so callers on the tick path never wait on broker I/O.
type Dispatcher struct {
	placer  Placer
	workers int
	queue   chan dispatchJob
	log     *slog.Logger

	running atomic.Bool

	// mu orders Submit against the final drain in Run.
	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher creates a Dispatcher with the given worker count and queue
// capacity.
func NewDispatcher(placer Placer, workers, capacity int, log *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		placer:  placer,
		workers: workers,
		queue:   make(chan dispatchJob, capacity),
		log:     log.With("component", "dispatcher"),
	}
}

// Submit queues intent. done, if not nil, receives the resulting record on
// a worker goroutine. When the queue is full or the dispatcher has stopped
// the intent is not queued and the error says why; the caller owns
// recording it.
func (d *Dispatcher) Submit(intent domain.OrderIntent, mode domain.Mode, done func(domain.OrderRecord)) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	select {
	case d.queue <- dispatchJob{intent: intent, mode: mode, done: done}:
		return nil
	default:
		return ErrDispatchQueueFull
	}
}

// Pending returns the number of queued jobs.
func (d *Dispatcher) Pending() int { return len(d.queue) }

// Run starts the workers and blocks until ctx is done and every worker has
// finished its current job. Jobs still queued at that point are recorded as
// FAILED and later Submits are refused until Run is called again. A second
// concurrent Run returns at once.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.running.Swap(true) {
		return
	}
	defer d.running.Store(false)

	d.mu.Lock()
	d.stopped = false
	d.mu.Unlock()

	var wg sync.WaitGroup
	for range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx)
		}()
	}
	wg.Wait()

	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	if n := d.drain(); n > 0 {
		d.log.Warn("dispatcher stopped with queued orders", "failed", n)
	}
}

// drain records every queued job as FAILED.
func (d *Dispatcher) drain() int {
	n := 0
	for {
		select {
		case job := <-d.queue:
			rec := d.placer.Reject(job.intent, job.mode, ErrDispatcherStopped)
			if job.done != nil {
				job.done(rec)
			}
			n++
		default:
			return n
		}
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case job := <-d.queue:
			rec := d.placer.Place(ctx, job.intent, job.mode)
			if job.done != nil {
				job.done(rec)
			}
		case <-ctx.Done():
			return
		}
	}
}
