// Package domain holds the value types shared by every algodesk component.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType selects how an order is priced.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Mode selects where orders go and whether the live feed runs.
type Mode string

const (
	ModePaper    Mode = "PAPER"
	ModeLive     Mode = "LIVE"
	ModeBacktest Mode = "BACKTEST"
)

// OrderStatus is the lifecycle state of an order record.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusExecuted OrderStatus = "EXECUTED"
	OrderStatusFailed   OrderStatus = "FAILED"
	OrderStatusRejected OrderStatus = "REJECTED"
)

// ParseSide parses a side case-insensitively.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// ParseOrderType parses an order type case-insensitively. An empty string
// means MARKET.
func ParseOrderType(s string) (OrderType, error) {
	switch OrderType(strings.ToUpper(strings.TrimSpace(s))) {
	case "", OrderTypeMarket:
		return OrderTypeMarket, nil
	case OrderTypeLimit:
		return OrderTypeLimit, nil
	}
	return "", fmt.Errorf("unknown order type %q", s)
}

// ParseMode parses a trading mode case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModePaper:
		return ModePaper, nil
	case ModeLive:
		return ModeLive, nil
	case ModeBacktest:
		return ModeBacktest, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool {
	return s != OrderStatusPending
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Quote is the latest known price for one symbol. Quotes are immutable once
// stored; updates replace the whole value.
type Quote struct {
	Symbol     string          `json:"symbol"`
	LastPrice  decimal.Decimal `json:"lastPrice"`
	Volume     int64           `json:"volume"`
	ObservedAt time.Time       `json:"observedAt"`
}

// Tick is one quote update delivered by a feed.
type Tick struct {
	Symbol    string          `json:"symbol"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// Quote converts the tick into the stored quote form.
func (t Tick) Quote() Quote {
	return Quote{Symbol: t.Symbol, LastPrice: t.LastPrice, Volume: t.Volume, ObservedAt: t.Timestamp}
}

// TickBatch is a set of quote updates that arrived together.
type TickBatch []Tick

// Symbols returns the distinct symbols of the batch in arrival order.
func (b TickBatch) Symbols() []string {
	seen := make(map[string]struct{}, len(b))
	out := make([]string, 0, len(b))
	for _, t := range b {
		if _, ok := seen[t.Symbol]; ok {
			continue
		}
		seen[t.Symbol] = struct{}{}
		out = append(out, t.Symbol)
	}
	return out
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderIntent is a request to trade, before any routing decision.
type OrderIntent struct {
	Symbol     string           `json:"symbol"`
	Quantity   int64            `json:"quantity"`
	Side       Side             `json:"side"`
	OrderType  OrderType        `json:"orderType"`
	LimitPrice *decimal.Decimal `json:"limitPrice,omitempty"`
}

// Validate reports why the intent cannot be routed, or nil.
func (i OrderIntent) Validate() error {
	if strings.TrimSpace(i.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidIntent)
	}
	if i.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidIntent, i.Quantity)
	}
	if i.Side != SideBuy && i.Side != SideSell {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidIntent, i.Side)
	}
	switch i.OrderType {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if i.LimitPrice == nil {
			return fmt.Errorf("%w: LIMIT order requires a price", ErrInvalidIntent)
		}
		if !i.LimitPrice.IsPositive() {
			return fmt.Errorf("%w: limit price must be positive", ErrInvalidIntent)
		}
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidIntent, i.OrderType)
	}
	return nil
}

// String renders the intent the way it is shown in log messages.
func (i OrderIntent) String() string {
	s := fmt.Sprintf("%s %d %s", i.Side, i.Quantity, i.Symbol)
	if i.OrderType == OrderTypeLimit && i.LimitPrice != nil {
		s += " @ " + i.LimitPrice.String()
	}
	return s
}

// OrderRecord is the outcome of one routed intent. Records are only appended
// to the order log; the sole later change is PENDING to EXECUTED or FAILED.
type OrderRecord struct {
	OrderIntent
	Mode          Mode             `json:"mode"`
	OrderID       string           `json:"orderId,omitempty"`
	Status        OrderStatus      `json:"status"`
	ExecutedPrice *decimal.Decimal `json:"executedPrice,omitempty"`
	Error         string           `json:"error,omitempty"`
	PlacedAt      time.Time        `json:"placedAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

// Position is the net holding in one symbol. Quantity is negative for shorts.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	LastPrice     decimal.Decimal `json:"lastPrice"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
}

// PnL summarises profit and loss across all symbols.
type PnL struct {
	Realized   decimal.Decimal `json:"realized"`
	Unrealized decimal.Decimal `json:"unrealized"`
	Total      decimal.Decimal `json:"total"`
}

// SessionState is the observable state of the trading session.
type SessionState struct {
	Mode     Mode   `json:"mode"`
	Running  bool   `json:"running"`
	Strategy string `json:"strategy,omitempty"`
}
