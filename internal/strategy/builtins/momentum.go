package builtins

import (
	"strings"

	"algodesk/internal/domain"
	"algodesk/internal/strategy"
)

// Compile-time interface checks.
var (
	_ strategy.Initializer = (*Momentum)(nil)
	_ strategy.TickHandler = (*Momentum)(nil)
)

// Momentum buys a fixed quantity of one symbol on every tick batch for which
// a quote of that symbol is known. It is the demo strategy shipped with the
// desk. The "quantity" parameter overrides the constructor quantity.
type Momentum struct {
	symbol   string
	quantity int64
}

// NewMomentum creates a Momentum strategy trading symbol.
func NewMomentum(symbol string, quantity int64) *Momentum {
	if quantity <= 0 {
		quantity = 1
	}
	return &Momentum{symbol: strings.ToUpper(symbol), quantity: quantity}
}

// Name returns "momentum".
func (m *Momentum) Name() string {
	return "momentum"
}

// Initialize logs the watched symbol.
func (m *Momentum) Initialize(tc *strategy.Context) error {
	tc.Log("momentum watching " + m.symbol)
	return nil
}

// OnTick places a market buy when the symbol has a last price.
func (m *Momentum) OnTick(tc *strategy.Context, _ domain.TickBatch) error {
	q, ok := tc.GetMarketData(m.symbol)
	if !ok || !q.LastPrice.IsPositive() {
		return nil
	}
	_, err := tc.PlaceOrder(m.symbol, quantity(tc, m.quantity), domain.SideBuy, domain.OrderTypeMarket, nil)
	return err
}
