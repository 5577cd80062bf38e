package strategy

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"algodesk/internal/domain"
	"algodesk/internal/live"
)

// ErrOrdersUnavailable is returned by PlaceOrder on a context without an
// order placer.
var ErrOrdersUnavailable = errors.New("order placement unavailable")

// OrderPlacer routes an intent in the session's current mode. A nil record
// with a nil error means the order was queued and its outcome will arrive
// through onOrderUpdate.
type OrderPlacer interface {
	PlaceOrder(intent domain.OrderIntent) (*domain.OrderRecord, error)
}

// MarketData looks up the latest quote for a symbol.
type MarketData interface {
	Get(symbol string) (domain.Quote, bool)
}

// PositionSource returns the current positions without blocking on I/O.
type PositionSource interface {
	Positions() []domain.Position
}

// ParamSource looks up a tunable parameter of a strategy.
type ParamSource interface {
	Param(strategy, key string) (float64, bool)
}

// ContextDeps are the services a Context exposes to strategy code.
type ContextDeps struct {
	// Strategy is the running strategy's name; it scopes Param lookups.
	Strategy  string
	Orders    OrderPlacer
	Quotes    MarketData
	Positions PositionSource
	Params    ParamSource
	Notify    *live.Notifier
}

// Context is the trading context handed to every callback. It is built per
// invocation from the session's current mode.
type Context struct {
	mode domain.Mode
	deps ContextDeps
}

// NewContext creates a Context for mode.
func NewContext(mode domain.Mode, deps ContextDeps) *Context {
	return &Context{mode: mode, deps: deps}
}

// Mode returns the session mode the callback runs in.
func (c *Context) Mode() domain.Mode { return c.mode }

// PlaceOrder builds an intent and routes it. orderType may be empty for
// MARKET; price is only used for LIMIT orders.
func (c *Context) PlaceOrder(symbol string, quantity int64, side domain.Side, orderType domain.OrderType, price *decimal.Decimal) (*domain.OrderRecord, error) {
	if orderType == "" {
		orderType = domain.OrderTypeMarket
	}
	return c.Submit(domain.OrderIntent{
		Symbol:     strings.ToUpper(strings.TrimSpace(symbol)),
		Quantity:   quantity,
		Side:       side,
		OrderType:  orderType,
		LimitPrice: price,
	})
}

// Submit routes a prepared intent.
func (c *Context) Submit(intent domain.OrderIntent) (*domain.OrderRecord, error) {
	if c.deps.Orders == nil {
		return nil, ErrOrdersUnavailable
	}
	return c.deps.Orders.PlaceOrder(intent)
}

// GetPositions returns the current positions.
func (c *Context) GetPositions() []domain.Position {
	if c.deps.Positions == nil {
		return nil
	}
	return c.deps.Positions.Positions()
}

// GetMarketData returns the latest quote for symbol.
func (c *Context) GetMarketData(symbol string) (domain.Quote, bool) {
	if c.deps.Quotes == nil {
		return domain.Quote{}, false
	}
	return c.deps.Quotes.Get(strings.ToUpper(strings.TrimSpace(symbol)))
}

// Param returns the strategy's parameter key, or def when it is not set.
func (c *Context) Param(key string, def float64) float64 {
	if c.deps.Params == nil {
		return def
	}
	if v, ok := c.deps.Params.Param(c.deps.Strategy, key); ok {
		return v
	}
	return def
}

// Log emits msg as an info log event.
func (c *Context) Log(msg string) {
	if c.deps.Notify != nil {
		c.deps.Notify.Info(msg)
	}
}
