package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"algodesk/internal/domain"
)

// Compile-time interface checks.
var (
	_ Broker   = (*AlpacaBroker)(nil)
	_ Verifier = (*AlpacaBroker)(nil)
)

// AlpacaBroker implements the Broker interface using the Alpaca brokerage API.
type AlpacaBroker struct {
	client *alpaca.Client
}

// NewAlpacaBroker creates a new AlpacaBroker configured with the given
// credentials and API endpoint.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string) *AlpacaBroker {
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// Verify checks the credentials by fetching the account.
func (b *AlpacaBroker) Verify(ctx context.Context) error {
	if _, err := call(ctx, b.client.GetAccount); err != nil {
		return fmt.Errorf("fetching account: %w", err)
	}
	return nil
}

// SubmitOrder places a day order. The order is accepted asynchronously by
// the brokerage, so a successful call is reported as PENDING.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (Ack, error) {
	qty := decimal.NewFromInt(intent.Quantity)
	req := alpaca.PlaceOrderRequest{
		Symbol:      intent.Symbol,
		Qty:         &qty,
		Side:        alpaca.Buy,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	}
	if intent.Side == domain.SideSell {
		req.Side = alpaca.Sell
	}
	if intent.OrderType == domain.OrderTypeLimit {
		req.Type = alpaca.Limit
		req.LimitPrice = intent.LimitPrice
	}

	order, err := call(ctx, func() (*alpaca.Order, error) { return b.client.PlaceOrder(req) })
	if err != nil {
		return Ack{}, err
	}
	return Ack{OrderID: order.ID, Status: domain.OrderStatusPending}, nil
}

// GetOrder fetches the order and maps its status.
func (b *AlpacaBroker) GetOrder(ctx context.Context, orderID string) (OrderState, error) {
	order, err := call(ctx, func() (*alpaca.Order, error) { return b.client.GetOrder(orderID) })
	if err != nil {
		return OrderState{}, err
	}
	return OrderState{
		OrderID:        order.ID,
		Status:         mapAlpacaStatus(order.Status),
		FilledAvgPrice: order.FilledAvgPrice,
		BrokerStatus:   order.Status,
	}, nil
}

// GetPositions returns all open positions of the account.
func (b *AlpacaBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	positions, err := call(ctx, b.client.GetPositions)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionFromAlpaca(p))
	}
	return out, nil
}

// mapAlpacaStatus folds Alpaca's order states into the three outcomes the
// order log knows about.
func mapAlpacaStatus(s string) domain.OrderStatus {
	switch strings.ToLower(s) {
	case "filled":
		return domain.OrderStatusExecuted
	case "canceled", "expired", "rejected", "suspended", "stopped":
		return domain.OrderStatusFailed
	default:
		return domain.OrderStatusPending
	}
}

func positionFromAlpaca(p alpaca.Position) domain.Position {
	pos := domain.Position{
		Symbol:   p.Symbol,
		Quantity: p.Qty.IntPart(),
		AvgPrice: p.AvgEntryPrice,
	}
	// Price and PnL fields are optional in the response; read them through
	// the JSON form so absent values stay zero.
	var opt struct {
		CurrentPrice *decimal.Decimal `json:"current_price"`
		UnrealizedPL *decimal.Decimal `json:"unrealized_pl"`
	}
	if raw, err := json.Marshal(p); err == nil && json.Unmarshal(raw, &opt) == nil {
		if opt.CurrentPrice != nil {
			pos.LastPrice = *opt.CurrentPrice
		}
		if opt.UnrealizedPL != nil {
			pos.UnrealizedPnL = *opt.UnrealizedPL
		}
	}
	return pos
}

// call runs a blocking SDK call and gives up when ctx is done. The SDK has
// no context support; an abandoned call finishes in the background.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}
