package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseEnums(t *testing.T) {
	if m, err := ParseMode(" paper "); err != nil || m != ModePaper {
		t.Errorf("ParseMode(paper) = %q, %v, want %q", m, err, ModePaper)
	}
	if m, err := ParseMode("Backtest"); err != nil || m != ModeBacktest {
		t.Errorf("ParseMode(Backtest) = %q, %v, want %q", m, err, ModeBacktest)
	}
	if _, err := ParseMode("margin"); err == nil {
		t.Error("ParseMode(margin) should fail")
	}
	if s, err := ParseSide("sell"); err != nil || s != SideSell {
		t.Errorf("ParseSide(sell) = %q, %v", s, err)
	}
	if _, err := ParseSide("hold"); err == nil {
		t.Error("ParseSide(hold) should fail")
	}
	if ot, err := ParseOrderType(""); err != nil || ot != OrderTypeMarket {
		t.Errorf("ParseOrderType(\"\") = %q, %v, want MARKET", ot, err)
	}
	if ot, err := ParseOrderType("limit"); err != nil || ot != OrderTypeLimit {
		t.Errorf("ParseOrderType(limit) = %q, %v", ot, err)
	}
}

func TestOrderIntentValidate(t *testing.T) {
	price := decimal.NewFromInt(250)
	zero := decimal.Zero

	tests := []struct {
		name    string
		intent  OrderIntent
		wantErr string
	}{
		{"market ok", OrderIntent{Symbol: "AAPL", Quantity: 1, Side: SideBuy, OrderType: OrderTypeMarket}, ""},
		{"limit ok", OrderIntent{Symbol: "AAPL", Quantity: 5, Side: SideSell, OrderType: OrderTypeLimit, LimitPrice: &price}, ""},
		{"empty symbol", OrderIntent{Quantity: 1, Side: SideBuy, OrderType: OrderTypeMarket}, "symbol"},
		{"zero quantity", OrderIntent{Symbol: "AAPL", Side: SideBuy, OrderType: OrderTypeMarket}, "quantity"},
		{"negative quantity", OrderIntent{Symbol: "AAPL", Quantity: -3, Side: SideBuy, OrderType: OrderTypeMarket}, "quantity"},
		{"bad side", OrderIntent{Symbol: "AAPL", Quantity: 1, Side: "HOLD", OrderType: OrderTypeMarket}, "side"},
		{"bad type", OrderIntent{Symbol: "AAPL", Quantity: 1, Side: SideBuy, OrderType: "STOP"}, "order type"},
		{"limit without price", OrderIntent{Symbol: "AAPL", Quantity: 1, Side: SideBuy, OrderType: OrderTypeLimit}, "price"},
		{"limit zero price", OrderIntent{Symbol: "AAPL", Quantity: 1, Side: SideBuy, OrderType: OrderTypeLimit, LimitPrice: &zero}, "price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.intent.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error mentioning %q", tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidIntent) {
				t.Errorf("Validate() error %v does not wrap ErrInvalidIntent", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	if OrderStatusPending.Terminal() {
		t.Error("PENDING should not be terminal")
	}
	for _, s := range []OrderStatus{OrderStatusExecuted, OrderStatusFailed, OrderStatusRejected} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestTickBatchSymbols(t *testing.T) {
	now := time.Now()
	b := TickBatch{
		{Symbol: "MSFT", LastPrice: decimal.NewFromInt(1), Timestamp: now},
		{Symbol: "AAPL", LastPrice: decimal.NewFromInt(2), Timestamp: now},
		{Symbol: "MSFT", LastPrice: decimal.NewFromInt(3), Timestamp: now},
	}
	got := b.Symbols()
	if len(got) != 2 || got[0] != "MSFT" || got[1] != "AAPL" {
		t.Errorf("Symbols() = %v, want [MSFT AAPL]", got)
	}

	q := b[2].Quote()
	if q.Symbol != "MSFT" || !q.LastPrice.Equal(decimal.NewFromInt(3)) || !q.ObservedAt.Equal(now) {
		t.Errorf("Quote() = %+v", q)
	}
}

func TestErrorTaxonomyUnwrap(t *testing.T) {
	inner := errors.New("boom")

	var err error = &BrokerCallError{Broker: "alpaca", Op: "submit order", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("BrokerCallError should unwrap to its cause")
	}
	if got, want := err.Error(), "alpaca submit order: boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	err = &StrategyCallbackError{Strategy: "momentum", Callback: "onTick", Err: inner}
	var cbErr *StrategyCallbackError
	if !errors.As(err, &cbErr) || cbErr.Callback != "onTick" {
		t.Errorf("errors.As StrategyCallbackError failed: %v", err)
	}

	err = &StrategyLoadError{Name: "x.py", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("StrategyLoadError should unwrap to its cause")
	}

	cfg := &ConfigurationError{Field: "api_key", Reason: "required"}
	if got, want := cfg.Error(), "configuration: api_key: required"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
