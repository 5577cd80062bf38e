// Package store persists order records and historical ticks.
package store

import (
	"context"
	"time"

	"algodesk/internal/domain"
)

// OrderFilter narrows ListOrders. Zero fields match everything.
type OrderFilter struct {
	Mode   domain.Mode
	Status domain.OrderStatus
	Limit  int
}

// OrderStore is an append-mostly journal of order records.
type OrderStore interface {
	// SaveOrder appends a record.
	SaveOrder(ctx context.Context, rec domain.OrderRecord) error
	// UpdateOrder applies a PENDING to terminal transition by order id.
	UpdateOrder(ctx context.Context, rec domain.OrderRecord) error
	// GetOrder returns the record with the given broker order id.
	GetOrder(ctx context.Context, orderID string) (domain.OrderRecord, error)
	// ListOrders returns records in the order they were saved.
	ListOrders(ctx context.Context, f OrderFilter) ([]domain.OrderRecord, error)
}

// TickStore reads and writes historical ticks.
type TickStore interface {
	WriteTicks(ctx context.Context, ticks domain.TickBatch) error
	ReadTicks(ctx context.Context, symbol string, start, end time.Time) (domain.TickBatch, error)
	ListSymbols(ctx context.Context) ([]string, error)
}
