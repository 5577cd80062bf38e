package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"algodesk/internal/broker"
	"algodesk/internal/domain"
	"algodesk/internal/store"
	"algodesk/internal/util"
)

// Tracker polls the live broker for PENDING live orders and applies their
// terminal status.
type Tracker struct {
	router   *Router
	interval time.Duration
	limiter  *util.RateLimiter
	log      *slog.Logger

	mu       sync.RWMutex
	onUpdate func(domain.OrderRecord)
}

// trackerBurst lets one poll cycle check a few pending orders back to back.
const trackerBurst = 5

// NewTracker creates a Tracker polling every interval with at most
// perMinute broker calls.
func NewTracker(router *Router, interval time.Duration, perMinute int, log *slog.Logger) *Tracker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		router:   router,
		interval: interval,
		limiter:  util.NewBurstLimiter(perMinute, trackerBurst),
		log:      log.With("component", "tracker"),
	}
}

// OnUpdate sets the callback that receives every transitioned record.
func (t *Tracker) OnUpdate(fn func(domain.OrderRecord)) {
	t.mu.Lock()
	t.onUpdate = fn
	t.mu.Unlock()
}

// Run polls until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Poll(ctx)
		}
	}
}

// Poll checks every pending live order once and returns how many reached a
// terminal status.
func (t *Tracker) Poll(ctx context.Context) int {
	b := t.router.LiveBroker()
	if !broker.Configured(b) {
		return 0
	}
	pending := t.router.Orders().List(store.OrderFilter{Mode: domain.ModeLive, Status: domain.OrderStatusPending})

	done := 0
	for _, rec := range pending {
		if err := t.limiter.Wait(ctx); err != nil {
			return done
		}
		callCtx, cancel := context.WithTimeout(ctx, t.router.timeout)
		st, err := b.GetOrder(callCtx, rec.OrderID)
		cancel()
		if err != nil {
			t.log.Warn("order status poll failed", "order_id", rec.OrderID, "error", err)
			continue
		}
		if st.Status == domain.OrderStatusPending {
			continue
		}

		var reason string
		if st.Status == domain.OrderStatusFailed {
			reason = "broker status " + st.BrokerStatus
		}
		updated, err := t.router.Transition(rec.OrderID, st.Status, st.FilledAvgPrice, reason)
		if err != nil {
			t.log.Debug("transition skipped", "order_id", rec.OrderID, "error", err)
			continue
		}
		done++

		t.mu.RLock()
		fn := t.onUpdate
		t.mu.RUnlock()
		if fn != nil {
			fn(updated)
		}
	}
	return done
}
