package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"algodesk/internal/dashboard"
	"algodesk/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// PaperIDPrefix starts every simulated order id.
const PaperIDPrefix = "PAPER_"

// QuoteSource supplies the prices simulated orders fill at.
type QuoteSource interface {
	Get(symbol string) (domain.Quote, bool)
}

// SimulatorBroker fills every order immediately in memory. The fill price
// is the latest quote, else the limit price, else zero. Each instance keeps
// its own book, so paper trading and backtests use separate simulators.
type SimulatorBroker struct {
	name   string
	quotes QuoteSource

	mu     sync.Mutex
	orders map[string]OrderState
	fills  []dashboard.Fill
}

// NewSimulatorBroker creates a simulator that prices fills from quotes.
func NewSimulatorBroker(quotes QuoteSource) *SimulatorBroker {
	return NewNamedSimulator("simulator", quotes)
}

// NewNamedSimulator is NewSimulatorBroker with a custom name.
func NewNamedSimulator(name string, quotes QuoteSource) *SimulatorBroker {
	return &SimulatorBroker{
		name:   name,
		quotes: quotes,
		orders: make(map[string]OrderState),
	}
}

// Name returns the simulator name ("simulator" by default).
func (b *SimulatorBroker) Name() string {
	return b.name
}

// FillPrice returns the price an order for intent would fill at now.
func (b *SimulatorBroker) FillPrice(intent domain.OrderIntent) decimal.Decimal {
	if b.quotes != nil {
		if q, ok := b.quotes.Get(intent.Symbol); ok {
			return q.LastPrice
		}
	}
	if intent.LimitPrice != nil {
		return *intent.LimitPrice
	}
	return decimal.Zero
}

// SubmitOrder fills the order at once and records it in the book.
func (b *SimulatorBroker) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	price := b.FillPrice(intent)
	id := newOrderID(PaperIDPrefix)

	b.mu.Lock()
	b.orders[id] = OrderState{OrderID: id, Status: domain.OrderStatusExecuted, FilledAvgPrice: &price, BrokerStatus: "filled"}
	b.fills = append(b.fills, dashboard.Fill{Symbol: intent.Symbol, Side: intent.Side, Quantity: intent.Quantity, Price: price})
	b.mu.Unlock()

	return Ack{OrderID: id, Status: domain.OrderStatusExecuted, FillPrice: &price}, nil
}

// GetOrder returns a previously simulated order.
func (b *SimulatorBroker) GetOrder(_ context.Context, orderID string) (OrderState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.orders[orderID]
	if !ok {
		return OrderState{}, fmt.Errorf("order %s not found", orderID)
	}
	return st, nil
}

// GetPositions returns the simulated positions valued at the latest quotes.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	return b.Portfolio().Positions, nil
}

// Portfolio returns positions and PnL of every simulated fill.
func (b *SimulatorBroker) Portfolio() dashboard.Portfolio {
	b.mu.Lock()
	fills := make([]dashboard.Fill, len(b.fills))
	copy(fills, b.fills)
	b.mu.Unlock()

	var quotes dashboard.QuoteSource
	if b.quotes != nil {
		quotes = b.quotes
	}
	return dashboard.Aggregate(fills, quotes)
}

// Reset clears the book.
func (b *SimulatorBroker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = make(map[string]OrderState)
	b.fills = nil
}
