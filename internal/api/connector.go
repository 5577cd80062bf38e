package api

import (
	"context"
	"time"

	"algodesk/internal/broker"
	"algodesk/internal/config"
	"algodesk/internal/domain"
	"algodesk/internal/gather"
	"algodesk/internal/gather/us"
)

// AlpacaConnector verifies Alpaca credentials and builds the live broker
// and the quote stream for the configured symbols.
type AlpacaConnector struct {
	BatchWindow time.Duration
}

// Connect implements httpapi.Connector.
func (c AlpacaConnector) Connect(ctx context.Context, creds config.Alpaca) (broker.Broker, gather.Feed, error) {
	if err := creds.Validate(); err != nil {
		return nil, nil, err
	}
	b := broker.NewAlpacaBroker(creds.APIKey, creds.APISecret, creds.BaseURL)
	if err := b.Verify(ctx); err != nil {
		return nil, nil, &domain.BrokerCallError{Broker: b.Name(), Op: "verify", Err: err}
	}
	feed := us.NewAlpacaFeed(creds.APIKey, creds.APISecret, creds.StreamURL, creds.Feed, creds.Symbols, c.BatchWindow)
	return b, feed, nil
}
