// Package builtins provides built-in strategy implementations that ship with
// the algodesk server.
package builtins

import (
	"github.com/shopspring/decimal"

	"algodesk/internal/domain"
	"algodesk/internal/strategy"
)

// Compile-time interface checks.
var (
	_ strategy.TickHandler        = (*SMACross)(nil)
	_ strategy.OrderUpdateHandler = (*SMACross)(nil)
)

// SMACross implements a simple moving average crossover strategy on tick
// prices. It buys when the short-period SMA crosses above the long-period
// SMA and sells when it crosses below, one symbol at a time.
type SMACross struct {
	shortPeriod int
	longPeriod  int
	quantity    int64

	prices map[string][]decimal.Decimal
	above  map[string]bool // last observed short > long, per symbol
	primed map[string]bool
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods.
func NewSMACross(short, long int, quantity int64) *SMACross {
	if short < 1 {
		short = 1
	}
	if long <= short {
		long = short + 1
	}
	if quantity <= 0 {
		quantity = 1
	}
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
		quantity:    quantity,
		prices:      make(map[string][]decimal.Decimal),
		above:       make(map[string]bool),
		primed:      make(map[string]bool),
	}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// OnTick appends each tick price to its symbol's history and trades on a
// crossover.
func (s *SMACross) OnTick(tc *strategy.Context, batch domain.TickBatch) error {
	for _, t := range batch {
		if !t.LastPrice.IsPositive() {
			continue
		}
		hist := append(s.prices[t.Symbol], t.LastPrice)
		if len(hist) > s.longPeriod {
			hist = hist[len(hist)-s.longPeriod:]
		}
		s.prices[t.Symbol] = hist
		if len(hist) < s.longPeriod {
			continue
		}

		above := sma(hist[len(hist)-s.shortPeriod:]).GreaterThan(sma(hist))
		wasPrimed, wasAbove := s.primed[t.Symbol], s.above[t.Symbol]
		s.primed[t.Symbol], s.above[t.Symbol] = true, above
		if !wasPrimed || above == wasAbove {
			continue
		}

		side := domain.SideSell
		if above {
			side = domain.SideBuy
		}
		if _, err := tc.PlaceOrder(t.Symbol, quantity(tc, s.quantity), side, domain.OrderTypeMarket, nil); err != nil {
			return err
		}
	}
	return nil
}

// OnOrderUpdate logs failed orders.
func (s *SMACross) OnOrderUpdate(tc *strategy.Context, rec domain.OrderRecord) error {
	if rec.Status == domain.OrderStatusFailed || rec.Status == domain.OrderStatusRejected {
		tc.Log("sma-cross order " + rec.OrderID + " " + string(rec.Status) + ": " + rec.Error)
	}
	return nil
}

func sma(prices []decimal.Decimal) decimal.Decimal {
	if len(prices) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(prices[0], prices[1:]...).Div(decimal.NewFromInt(int64(len(prices))))
}
