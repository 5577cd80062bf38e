// Package engine routes orders to brokers and drives the trading session:
// the order router, the live order dispatcher and status tracker, and the
// session controller that ties feed, strategy and router together.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"algodesk/internal/broker"
	"algodesk/internal/dashboard"
	"algodesk/internal/domain"
	"algodesk/internal/live"
	"algodesk/internal/store"
)

// ErrNotPending is returned by Transition for an unknown or completed order.
var ErrNotPending = errors.New("order is not pending")

// DefaultBrokerTimeout bounds a live broker call when none is configured.
const DefaultBrokerTimeout = 10 * time.Second

// RouterConfig wires a Router.
type RouterConfig struct {
	// Quotes prices simulated fills and values live positions.
	Quotes broker.QuoteSource
	// Journal persists every record. Nil disables persistence.
	Journal       store.OrderStore
	Risk          *RiskManager
	Publisher     live.Publisher
	Notifier      *live.Notifier
	Logger        *slog.Logger
	BrokerTimeout time.Duration
}

// Router sends order intents to the broker for their mode and keeps the
// order log. PAPER and BACKTEST orders fill in separate simulators; LIVE
// orders go to the configured live broker.
type Router struct {
	sims    map[domain.Mode]*broker.SimulatorBroker
	quotes  broker.QuoteSource
	journal store.OrderStore
	risk    *RiskManager
	orders  *OrderLog
	pub     live.Publisher
	notify  *live.Notifier
	log     *slog.Logger
	timeout time.Duration
	now     func() time.Time

	liveMu sync.RWMutex
	live   broker.Broker
}

// NewRouter creates a Router whose live broker is unconfigured.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Publisher == nil {
		cfg.Publisher = live.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = live.NewNotifier(cfg.Publisher, cfg.Logger)
	}
	if cfg.BrokerTimeout <= 0 {
		cfg.BrokerTimeout = DefaultBrokerTimeout
	}
	return &Router{
		sims: map[domain.Mode]*broker.SimulatorBroker{
			domain.ModePaper:    broker.NewNamedSimulator("paper", cfg.Quotes),
			domain.ModeBacktest: broker.NewNamedSimulator("backtest", cfg.Quotes),
		},
		quotes:  cfg.Quotes,
		journal: cfg.Journal,
		risk:    cfg.Risk,
		orders:  NewOrderLog(),
		pub:     cfg.Publisher,
		notify:  cfg.Notifier,
		log:     cfg.Logger.With("component", "router"),
		timeout: cfg.BrokerTimeout,
		now:     time.Now,
		live:    broker.UnavailableBroker{},
	}
}

// SetLiveBroker replaces the live broker. Orders already in flight finish
// on the broker they started with.
func (r *Router) SetLiveBroker(b broker.Broker) {
	if b == nil {
		b = broker.UnavailableBroker{}
	}
	r.liveMu.Lock()
	r.live = b
	r.liveMu.Unlock()
}

// LiveBroker returns the current live broker.
func (r *Router) LiveBroker() broker.Broker {
	r.liveMu.RLock()
	defer r.liveMu.RUnlock()
	return r.live
}

// Simulator returns the simulator for PAPER or BACKTEST, or nil.
func (r *Router) Simulator(mode domain.Mode) *broker.SimulatorBroker {
	return r.sims[mode]
}

// Orders returns the order log.
func (r *Router) Orders() *OrderLog { return r.orders }

// Place routes intent in mode and returns the resulting record. It never
// fails: rejections and broker errors are reported in the record. A live
// call is detached from ctx cancellation and bounded by the broker timeout.
func (r *Router) Place(ctx context.Context, intent domain.OrderIntent, mode domain.Mode) domain.OrderRecord {
	rec := domain.OrderRecord{OrderIntent: intent, Mode: mode, PlacedAt: r.now()}

	if err := r.risk.CheckOrder(intent); err != nil {
		rec.Status = domain.OrderStatusRejected
		rec.Error = err.Error()
		return r.record(rec)
	}

	switch mode {
	case domain.ModeLive:
		b := r.LiveBroker()
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		ack, err := b.SubmitOrder(callCtx, intent)
		cancel()
		if err != nil {
			rec.Status = domain.OrderStatusFailed
			rec.Error = (&domain.BrokerCallError{Broker: b.Name(), Op: "submit order", Err: err}).Error()
			break
		}
		r.applyAck(&rec, ack, domain.OrderStatusPending)

	case domain.ModePaper, domain.ModeBacktest:
		ack, err := r.sims[mode].SubmitOrder(context.WithoutCancel(ctx), intent)
		if err != nil {
			rec.Status = domain.OrderStatusFailed
			rec.Error = err.Error()
			break
		}
		r.applyAck(&rec, ack, domain.OrderStatusExecuted)

	default:
		rec.Status = domain.OrderStatusRejected
		rec.Error = fmt.Sprintf("unknown mode %q", mode)
	}
	return r.record(rec)
}

// Reject records intent as FAILED without contacting any broker. It is used
// for orders that never reached a placement attempt.
func (r *Router) Reject(intent domain.OrderIntent, mode domain.Mode, cause error) domain.OrderRecord {
	return r.record(domain.OrderRecord{
		OrderIntent: intent,
		Mode:        mode,
		Status:      domain.OrderStatusFailed,
		Error:       cause.Error(),
		PlacedAt:    r.now(),
	})
}

func (r *Router) applyAck(rec *domain.OrderRecord, ack broker.Ack, fallback domain.OrderStatus) {
	rec.OrderID = ack.OrderID
	rec.Status = ack.Status
	if rec.Status == "" {
		rec.Status = fallback
	}
	rec.ExecutedPrice = ack.FillPrice
}

// record appends rec to the log, persists it and announces it.
func (r *Router) record(rec domain.OrderRecord) domain.OrderRecord {
	rec.UpdatedAt = r.now()
	r.orders.Append(rec)
	r.persist(func(ctx context.Context) error { return r.journal.SaveOrder(ctx, rec) }, rec)
	r.pub.Publish(live.NewEvent(live.EventOrderUpdate, rec))

	switch rec.Status {
	case domain.OrderStatusRejected:
		r.notify.Warn("Order rejected: "+rec.Error, "intent", rec.OrderIntent.String(), "mode", rec.Mode)
	case domain.OrderStatusFailed:
		r.notify.Error("Order failed: "+rec.Error, "intent", rec.OrderIntent.String(), "mode", rec.Mode)
	case domain.OrderStatusPending:
		r.notify.Success("Live order placed: "+rec.OrderID, "intent", rec.OrderIntent.String())
	default:
		label := "Paper"
		if rec.Mode == domain.ModeBacktest {
			label = "Backtest"
		}
		r.notify.Info(fmt.Sprintf("%s order: %s", label, rec.OrderIntent), "order_id", rec.OrderID, "price", rec.ExecutedPrice)
	}
	return rec
}

// Transition applies the only allowed record mutation, PENDING to EXECUTED
// or FAILED.
func (r *Router) Transition(orderID string, status domain.OrderStatus, price *decimal.Decimal, reason string) (domain.OrderRecord, error) {
	if status != domain.OrderStatusExecuted && status != domain.OrderStatusFailed {
		return domain.OrderRecord{}, fmt.Errorf("cannot transition order %s to %s", orderID, status)
	}
	rec, ok := r.orders.Transition(orderID, func(rec *domain.OrderRecord) {
		rec.Status = status
		rec.ExecutedPrice = price
		rec.Error = reason
		rec.UpdatedAt = r.now()
	})
	if !ok {
		return domain.OrderRecord{}, fmt.Errorf("%w: %s", ErrNotPending, orderID)
	}
	r.persist(func(ctx context.Context) error { return r.journal.UpdateOrder(ctx, rec) }, rec)
	r.pub.Publish(live.NewEvent(live.EventOrderUpdate, rec))
	if status == domain.OrderStatusExecuted {
		r.notify.Success(fmt.Sprintf("Live order %s executed", orderID), "price", price)
	} else {
		r.notify.Error(fmt.Sprintf("Live order %s failed: %s", orderID, reason))
	}
	return rec, nil
}

func (r *Router) persist(fn func(context.Context) error, rec domain.OrderRecord) {
	if r.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		r.log.Error("journal write failed", "order_id", rec.OrderID, "status", rec.Status, "error", err)
	}
}

// History reads records from the journal, or from the in-memory log when
// no journal is configured.
func (r *Router) History(ctx context.Context, f store.OrderFilter) ([]domain.OrderRecord, error) {
	if r.journal == nil {
		return r.orders.List(f), nil
	}
	return r.journal.ListOrders(ctx, f)
}

// Positions returns the positions for mode. LIVE asks the live broker.
func (r *Router) Positions(ctx context.Context, mode domain.Mode) ([]domain.Position, error) {
	if mode == domain.ModeLive {
		b := r.LiveBroker()
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		positions, err := b.GetPositions(callCtx)
		if err != nil {
			return nil, &domain.BrokerCallError{Broker: b.Name(), Op: "get positions", Err: err}
		}
		return positions, nil
	}
	sim, ok := r.sims[mode]
	if !ok {
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
	return sim.GetPositions(ctx)
}

// Portfolio returns positions and PnL derived from executed orders in mode.
// Live figures come from the order log, not from the broker.
func (r *Router) Portfolio(mode domain.Mode) dashboard.Portfolio {
	if sim, ok := r.sims[mode]; ok {
		return sim.Portfolio()
	}
	var quotes dashboard.QuoteSource
	if r.quotes != nil {
		quotes = r.quotes
	}
	fills := dashboard.FillsFromRecords(r.orders.List(store.OrderFilter{Mode: mode}), mode)
	return dashboard.Aggregate(fills, quotes)
}
