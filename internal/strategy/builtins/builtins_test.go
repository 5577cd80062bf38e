package builtins

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"algodesk/internal/domain"
	"algodesk/internal/strategy"
)

type orders struct{ intents []domain.OrderIntent }

func (o *orders) PlaceOrder(intent domain.OrderIntent) (*domain.OrderRecord, error) {
	o.intents = append(o.intents, intent)
	return &domain.OrderRecord{OrderIntent: intent, Status: domain.OrderStatusExecuted}, nil
}

type quotes map[string]decimal.Decimal

func (q quotes) Get(symbol string) (domain.Quote, bool) {
	p, ok := q[symbol]
	return domain.Quote{Symbol: symbol, LastPrice: p}, ok
}

func TestRegister(t *testing.T) {
	reg := strategy.NewRegistry()
	Register(reg, "AAPL")

	names := reg.List()
	if len(names) != 2 || names[0] != "momentum" || names[1] != "sma-cross" {
		t.Fatalf("List() = %v, want [momentum sma-cross]", names)
	}
	u, ok := reg.New("momentum")
	if !ok {
		t.Fatal("New(momentum) not found")
	}
	if caps := u.Capabilities(); !caps.Initialize || !caps.OnTick || caps.OnOrderUpdate {
		t.Errorf("momentum capabilities = %+v", caps)
	}
}

func TestMomentumBuysWhenQuoted(t *testing.T) {
	o := &orders{}
	m := NewMomentum("reliance", 0)

	tc := strategy.NewContext(domain.ModePaper, strategy.ContextDeps{Orders: o, Quotes: quotes{}})
	if err := m.OnTick(tc, nil); err != nil {
		t.Fatalf("OnTick() = %v", err)
	}
	if len(o.intents) != 0 {
		t.Fatalf("placed %d orders without a quote", len(o.intents))
	}

	tc = strategy.NewContext(domain.ModePaper, strategy.ContextDeps{
		Orders: o,
		Quotes: quotes{"RELIANCE": decimal.NewFromInt(250)},
	})
	if err := m.OnTick(tc, domain.TickBatch{{Symbol: "RELIANCE"}}); err != nil {
		t.Fatalf("OnTick() = %v", err)
	}
	if len(o.intents) != 1 {
		t.Fatalf("placed %d orders, want 1", len(o.intents))
	}
	got := o.intents[0]
	if got.Symbol != "RELIANCE" || got.Quantity != 1 || got.Side != domain.SideBuy || got.OrderType != domain.OrderTypeMarket {
		t.Errorf("intent = %+v", got)
	}
}

func TestSMACrossSignals(t *testing.T) {
	o := &orders{}
	s := NewSMACross(2, 4, 3)
	tc := strategy.NewContext(domain.ModePaper, strategy.ContextDeps{Orders: o})

	feed := func(prices ...int64) {
		for _, p := range prices {
			tick := domain.Tick{Symbol: "AAPL", LastPrice: decimal.NewFromInt(p), Timestamp: time.Now()}
			if err := s.OnTick(tc, domain.TickBatch{tick}); err != nil {
				t.Fatalf("OnTick() = %v", err)
			}
		}
	}

	// Falling prices prime the strategy below the long average.
	feed(10, 9, 8, 7)
	if len(o.intents) != 0 {
		t.Fatalf("placed %d orders while priming", len(o.intents))
	}
	// A sharp rise crosses above.
	feed(20)
	if len(o.intents) != 1 || o.intents[0].Side != domain.SideBuy || o.intents[0].Quantity != 3 {
		t.Fatalf("after rise: intents = %+v, want one BUY of 3", o.intents)
	}
	// A sharp drop crosses back below.
	feed(1, 1)
	if len(o.intents) != 2 || o.intents[1].Side != domain.SideSell {
		t.Fatalf("after drop: intents = %+v, want a SELL", o.intents)
	}
}

type params map[string]float64

func (p params) Param(_, key string) (float64, bool) {
	v, ok := p[key]
	return v, ok
}

func TestQuantityParam(t *testing.T) {
	o := &orders{}
	m := NewMomentum("AAPL", 1)
	tc := strategy.NewContext(domain.ModePaper, strategy.ContextDeps{
		Strategy: "momentum",
		Orders:   o,
		Quotes:   quotes{"AAPL": decimal.NewFromInt(190)},
		Params:   params{"quantity": 3},
	})
	if err := m.OnTick(tc, nil); err != nil {
		t.Fatalf("OnTick() = %v", err)
	}
	if len(o.intents) != 1 || o.intents[0].Quantity != 3 {
		t.Fatalf("intents = %+v, want one order of 3", o.intents)
	}

	tc = strategy.NewContext(domain.ModePaper, strategy.ContextDeps{Params: params{"quantity": -2}})
	if got := quantity(tc, 4); got != 4 {
		t.Errorf("quantity with negative param = %d, want default 4", got)
	}
}
