package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"algodesk/internal/broker"
	"algodesk/internal/domain"
	"algodesk/internal/gather"
	"algodesk/internal/live"
	"algodesk/internal/marketdata"
	"algodesk/internal/store"
	"algodesk/internal/strategy"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// events collects published events.
type events struct {
	mu  sync.Mutex
	all []live.Event
}

func (e *events) Publish(evt live.Event) {
	e.mu.Lock()
	e.all = append(e.all, evt)
	e.mu.Unlock()
}

func (e *events) count(typ string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, evt := range e.all {
		if evt.Type == typ {
			n++
		}
	}
	return n
}

func (e *events) logs(level string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, evt := range e.all {
		if entry, ok := evt.Data.(live.LogEntry); ok && entry.Type == level {
			out = append(out, entry.Message)
		}
	}
	return out
}

// memJournal is an in-memory OrderStore.
type memJournal struct {
	mu      sync.Mutex
	saved   []domain.OrderRecord
	updated []domain.OrderRecord
	fail    bool
}

func (j *memJournal) SaveOrder(_ context.Context, rec domain.OrderRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail {
		return errors.New("disk full")
	}
	j.saved = append(j.saved, rec)
	return nil
}

func (j *memJournal) UpdateOrder(_ context.Context, rec domain.OrderRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.updated = append(j.updated, rec)
	return nil
}

func (j *memJournal) GetOrder(context.Context, string) (domain.OrderRecord, error) {
	return domain.OrderRecord{}, store.ErrOrderNotFound
}

func (j *memJournal) ListOrders(context.Context, store.OrderFilter) ([]domain.OrderRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.OrderRecord(nil), j.saved...), nil
}

// fakeLive is a live broker that acknowledges orders as PENDING and reports
// whatever state the test sets.
type fakeLive struct {
	mu        sync.Mutex
	submitted []domain.OrderIntent
	ctxErr    error
	submitErr error
	states    map[string]broker.OrderState
	seq       int
}

func newFakeLive() *fakeLive {
	return &fakeLive{states: make(map[string]broker.OrderState)}
}

func (f *fakeLive) Name() string { return "fake" }

func (f *fakeLive) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (broker.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErr = ctx.Err()
	f.submitted = append(f.submitted, intent)
	if f.submitErr != nil {
		return broker.Ack{}, f.submitErr
	}
	f.seq++
	id := fmt.Sprintf("live-%d", f.seq)
	f.states[id] = broker.OrderState{OrderID: id, Status: domain.OrderStatusPending, BrokerStatus: "new"}
	return broker.Ack{OrderID: id, Status: domain.OrderStatusPending}, nil
}

func (f *fakeLive) GetOrder(_ context.Context, id string) (broker.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[id]
	if !ok {
		return broker.OrderState{}, errors.New("not found")
	}
	return st, nil
}

func (f *fakeLive) GetPositions(context.Context) ([]domain.Position, error) {
	return []domain.Position{{Symbol: "AAPL", Quantity: 5}}, nil
}

func (f *fakeLive) set(id string, st broker.OrderState) {
	f.mu.Lock()
	f.states[id] = st
	f.mu.Unlock()
}

func (f *fakeLive) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

// scriptedFeed fails a fixed number of times and then blocks until
// cancelled.
type scriptedFeed struct {
	mu       sync.Mutex
	runs     int
	failures int
	batch    domain.TickBatch
}

func (f *scriptedFeed) Name() string { return "scripted" }

func (f *scriptedFeed) Run(ctx context.Context, sink gather.Sink) error {
	f.mu.Lock()
	f.runs++
	fail := f.runs <= f.failures
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	if len(f.batch) > 0 {
		sink(f.batch)
	}
	<-ctx.Done()
	return nil
}

func (f *scriptedFeed) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type fixture struct {
	events  *events
	quotes  *marketdata.Store
	journal *memJournal
	router  *Router
	notify  *live.Notifier
}

func newFixture(maxQty int64) *fixture {
	ev := &events{}
	quotes := marketdata.NewStore()
	journal := &memJournal{}
	notify := live.NewNotifier(ev, discardLogger())
	return &fixture{
		events:  ev,
		quotes:  quotes,
		journal: journal,
		notify:  notify,
		router: NewRouter(RouterConfig{
			Quotes:        quotes,
			Journal:       journal,
			Risk:          NewRiskManager(maxQty),
			Publisher:     ev,
			Notifier:      notify,
			Logger:        discardLogger(),
			BrokerTimeout: time.Second,
		}),
	}
}

func (f *fixture) session(t *testing.T, cfg SessionConfig) *Session {
	t.Helper()
	cfg.Router = f.router
	cfg.Quotes = f.quotes
	cfg.Publisher = f.events
	cfg.Notifier = f.notify
	cfg.Logger = discardLogger()
	if cfg.Host == nil {
		cfg.Host = strategy.NewHost(f.notify)
	}
	s := NewSession(cfg)
	t.Cleanup(s.Stop)
	return s
}

func intent(symbol string, qty int64, side domain.Side) domain.OrderIntent {
	return domain.OrderIntent{Symbol: symbol, Quantity: qty, Side: side, OrderType: domain.OrderTypeMarket}
}

func price(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
