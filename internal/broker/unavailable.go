package broker

import (
	"context"

	"algodesk/internal/domain"
)

// Compile-time interface check.
var _ Broker = UnavailableBroker{}

// UnavailableBroker stands in for the live broker until credentials are
// configured. Every call fails with domain.ErrBrokerUnavailable.
type UnavailableBroker struct{}

// Name returns "unconfigured".
func (UnavailableBroker) Name() string { return "unconfigured" }

func (UnavailableBroker) SubmitOrder(context.Context, domain.OrderIntent) (Ack, error) {
	return Ack{}, domain.ErrBrokerUnavailable
}

func (UnavailableBroker) GetOrder(context.Context, string) (OrderState, error) {
	return OrderState{}, domain.ErrBrokerUnavailable
}

func (UnavailableBroker) GetPositions(context.Context) ([]domain.Position, error) {
	return nil, domain.ErrBrokerUnavailable
}

// Configured reports whether b is a real broker.
func Configured(b Broker) bool {
	if b == nil {
		return false
	}
	_, unavailable := b.(UnavailableBroker)
	return !unavailable
}
