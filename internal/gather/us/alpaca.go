// Package us holds market-data feeds for US equities.
package us

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"
	"github.com/shopspring/decimal"

	"algodesk/internal/domain"
	"algodesk/internal/gather"
)

// Compile-time interface check.
var _ gather.Feed = (*AlpacaFeed)(nil)

// tickBuffer bounds how many trades may wait for the batcher.
const tickBuffer = 4096

// AlpacaFeed streams trades for a fixed symbol list from the Alpaca
// real-time WebSocket feed. Each trade becomes one tick whose price is the
// trade price.
type AlpacaFeed struct {
	apiKey    string
	apiSecret string
	streamURL string
	feed      string
	symbols   []string
	window    time.Duration
	dropped   atomic.Int64
	log       *slog.Logger
}

// NewAlpacaFeed creates an AlpacaFeed. streamURL may be empty for the SDK
// default; feed is "iex" or "sip". Ticks are batched over window.
func NewAlpacaFeed(apiKey, apiSecret, streamURL, feed string, symbols []string, window time.Duration) *AlpacaFeed {
	if feed == "" {
		feed = "iex"
	}
	syms := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			syms = append(syms, s)
		}
	}
	return &AlpacaFeed{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		streamURL: streamURL,
		feed:      strings.ToLower(feed),
		symbols:   syms,
		window:    window,
		log:       slog.Default().With("feed", "alpaca-"+strings.ToLower(feed)),
	}
}

// Name returns the feed identifier.
func (f *AlpacaFeed) Name() string { return "alpaca-" + f.feed }

// Symbols returns the subscribed symbols.
func (f *AlpacaFeed) Symbols() []string { return f.symbols }

// Dropped returns the number of trades discarded because the batcher fell
// behind.
func (f *AlpacaFeed) Dropped() int64 { return f.dropped.Load() }

// Run connects, subscribes to trades and streams batches into sink until ctx
// is cancelled or the stream terminates.
func (f *AlpacaFeed) Run(ctx context.Context, sink gather.Sink) error {
	if len(f.symbols) == 0 {
		return errors.New("alpaca feed: no symbols configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ticks := make(chan domain.Tick, tickBuffer)
	opts := []stream.StockOption{
		stream.WithCredentials(f.apiKey, f.apiSecret),
		stream.WithTrades(func(t stream.Trade) { f.enqueue(ticks, tradeToTick(t)) }, f.symbols...),
	}
	if f.streamURL != "" {
		opts = append(opts, stream.WithBaseURL(f.streamURL))
	}
	client := stream.NewStocksClient(marketdata.Feed(f.feed), opts...)

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to alpaca stream: %w", err)
	}
	f.log.Info("stream connected", "symbols", len(f.symbols))

	done := make(chan struct{})
	go func() {
		defer close(done)
		gather.Batch(ctx, ticks, f.window, tickBuffer, sink)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-client.Terminated():
		if err == nil {
			err = errors.New("stream terminated")
		}
	}
	cancel()
	<-done

	if err != nil {
		f.log.Warn("stream lost", "error", err)
		return fmt.Errorf("alpaca stream: %w", err)
	}
	return nil
}

func (f *AlpacaFeed) enqueue(ch chan<- domain.Tick, t domain.Tick) {
	select {
	case ch <- t:
	default:
		if n := f.dropped.Add(1); n%1000 == 1 {
			f.log.Warn("tick buffer full, dropping trades", "dropped", n)
		}
	}
}

func tradeToTick(t stream.Trade) domain.Tick {
	return domain.Tick{
		Symbol:    t.Symbol,
		LastPrice: decimal.NewFromFloat(t.Price),
		Volume:    int64(t.Size),
		Timestamp: t.Timestamp,
	}
}
