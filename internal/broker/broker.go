// Package broker defines the Broker interface and its implementations: the
// Alpaca brokerage for live trading, an in-memory simulator for paper trading
// and backtests, and a placeholder used until credentials are configured.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"algodesk/internal/domain"
)

// Ack is the broker's immediate answer to a submitted order.
type Ack struct {
	OrderID   string
	Status    domain.OrderStatus
	FillPrice *decimal.Decimal
}

// OrderState is the broker-side view of a previously submitted order.
type OrderState struct {
	OrderID        string
	Status         domain.OrderStatus
	FilledAvgPrice *decimal.Decimal
	// BrokerStatus is the raw status string reported by the brokerage.
	BrokerStatus string
}

// Broker abstracts brokerage operations for order execution.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// SubmitOrder sends an order to the brokerage for execution.
	SubmitOrder(ctx context.Context, intent domain.OrderIntent) (Ack, error)

	// GetOrder returns the current state of a submitted order.
	GetOrder(ctx context.Context, orderID string) (OrderState, error)

	// GetPositions returns all current positions held at the brokerage.
	GetPositions(ctx context.Context) ([]domain.Position, error)
}

// Verifier is implemented by brokers that can check their credentials.
type Verifier interface {
	Verify(ctx context.Context) error
}
