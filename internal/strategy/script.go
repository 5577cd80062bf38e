package strategy

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/shopspring/decimal"

	"algodesk/internal/domain"
)

// ScriptExt is the file extension of strategy scripts.
const ScriptExt = ".js"

// ErrCallbackTimeout is reported when script code runs past its deadline.
var ErrCallbackTimeout = errors.New("script timed out")

// script is one JavaScript runtime. goja runtimes are not safe for
// concurrent use; the Host serialises every entry.
type script struct {
	vm      *goja.Runtime
	timeout time.Duration
	ctxObj  *goja.Object
	tc      *Context // set for the duration of a callback
}

// LoadScript evaluates JavaScript strategy source and resolves the global
// functions initialize, onTick and onOrderUpdate (snake_case names are
// accepted too). Each callback receives the trading context as its first
// argument. timeout bounds top-level evaluation and every callback; zero
// disables it.
func LoadScript(filename string, src []byte, timeout time.Duration) (*Unit, error) {
	ext := filepath.Ext(filename)
	name := strings.TrimSuffix(filepath.Base(filename), ext)
	if !strings.EqualFold(ext, ScriptExt) {
		return nil, &domain.StrategyLoadError{Name: filename, Err: fmt.Errorf("unsupported file type %q, want %s", ext, ScriptExt)}
	}

	prog, err := goja.Compile(filename, string(src), false)
	if err != nil {
		return nil, &domain.StrategyLoadError{Name: filename, Err: err}
	}

	s := &script{vm: goja.New(), timeout: timeout}
	s.installConsole()
	s.ctxObj = s.newContextObject()

	if err := s.guard(func() error { _, err := s.vm.RunProgram(prog); return err }); err != nil {
		return nil, &domain.StrategyLoadError{Name: filename, Err: err}
	}

	u := &Unit{name: name, kind: "script"}
	if fn, ok := s.function("initialize"); ok {
		u.initialize = func(tc *Context) error { return s.call(fn, tc) }
	}
	if fn, ok := s.function("onTick", "on_tick"); ok {
		u.onTick = func(tc *Context, batch domain.TickBatch) error {
			return s.call(fn, tc, s.vm.ToValue(ticksToJS(batch)))
		}
	}
	if fn, ok := s.function("onOrderUpdate", "on_order_update"); ok {
		u.onOrderUpdate = func(tc *Context, rec domain.OrderRecord) error {
			return s.call(fn, tc, s.vm.ToValue(recordToJS(rec)))
		}
	}
	if u.Capabilities() == (Capabilities{}) {
		return nil, &domain.StrategyLoadError{Name: filename, Err: errors.New("script defines none of initialize, onTick, onOrderUpdate")}
	}
	return u, nil
}

func (s *script) function(names ...string) (goja.Callable, bool) {
	for _, n := range names {
		v := s.vm.Get(n)
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			continue
		}
		if fn, ok := goja.AssertFunction(v); ok {
			return fn, true
		}
	}
	return nil, false
}

func (s *script) call(fn goja.Callable, tc *Context, args ...goja.Value) error {
	s.tc = tc
	defer func() { s.tc = nil }()
	return s.guard(func() error {
		_, err := fn(goja.Undefined(), append([]goja.Value{s.ctxObj}, args...)...)
		return err
	})
}

// guard runs fn and interrupts the runtime if it exceeds the timeout.
func (s *script) guard(fn func() error) error {
	if s.timeout <= 0 {
		return fn()
	}
	var (
		mu     sync.Mutex
		active = true
	)
	timer := time.AfterFunc(s.timeout, func() {
		mu.Lock()
		defer mu.Unlock()
		if active {
			s.vm.Interrupt(ErrCallbackTimeout)
		}
	})
	defer func() {
		mu.Lock()
		active = false
		mu.Unlock()
		timer.Stop()
		s.vm.ClearInterrupt()
	}()

	err := fn()
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		return fmt.Errorf("%w after %s", ErrCallbackTimeout, s.timeout)
	}
	return err
}

// ---------------------------------------------------------------------------
// Host functions exposed to scripts
// ---------------------------------------------------------------------------

func (s *script) installConsole() {
	console := s.vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		if s.tc != nil {
			s.tc.Log(strings.Join(parts, " "))
		}
		return goja.Undefined()
	}
	_ = console.Set("log", logFn)
	_ = s.vm.Set("console", console)
}

func (s *script) newContextObject() *goja.Object {
	obj := s.vm.NewObject()
	_ = obj.Set("placeOrder", s.jsPlaceOrder)
	_ = obj.Set("getPositions", func(goja.FunctionCall) goja.Value {
		tc := s.current()
		positions := tc.GetPositions()
		out := make([]any, len(positions))
		for i, p := range positions {
			out[i] = positionToJS(p)
		}
		return s.vm.ToValue(out)
	})
	_ = obj.Set("getMarketData", func(call goja.FunctionCall) goja.Value {
		tc := s.current()
		q, ok := tc.GetMarketData(call.Argument(0).String())
		if !ok {
			return goja.Null()
		}
		return s.vm.ToValue(quoteToJS(q))
	})
	_ = obj.Set("mode", func(goja.FunctionCall) goja.Value {
		return s.vm.ToValue(string(s.current().Mode()))
	})
	_ = obj.Set("param", func(call goja.FunctionCall) goja.Value {
		def := goja.Null()
		if defined(call.Argument(1)) {
			def = call.Argument(1)
		}
		tc := s.current()
		v := tc.Param(call.Argument(0).String(), math.NaN())
		if math.IsNaN(v) {
			return def
		}
		return s.vm.ToValue(v)
	})
	_ = obj.Set("log", func(call goja.FunctionCall) goja.Value {
		s.current().Log(call.Argument(0).String())
		return goja.Undefined()
	})
	return obj
}

// current returns the active context or throws into the script.
func (s *script) current() *Context {
	if s.tc == nil {
		panic(s.vm.NewGoError(errors.New("trading context used outside a callback")))
	}
	return s.tc
}

// jsPlaceOrder accepts placeOrder(symbol, quantity, side, orderType?, price?)
// or placeOrder({symbol, quantity, side, orderType, price}). Semantic checks
// are left to the order router, which records invalid intents as REJECTED.
func (s *script) jsPlaceOrder(call goja.FunctionCall) goja.Value {
	tc := s.current()

	var symbol, quantity, side, orderType, price goja.Value
	if obj, ok := call.Argument(0).(*goja.Object); ok {
		symbol = obj.Get("symbol")
		quantity = obj.Get("quantity")
		side = obj.Get("side")
		orderType = firstDefined(obj.Get("orderType"), obj.Get("order_type"))
		price = firstDefined(obj.Get("price"), obj.Get("limitPrice"))
	} else {
		symbol, quantity, side = call.Argument(0), call.Argument(1), call.Argument(2)
		orderType, price = call.Argument(3), call.Argument(4)
	}

	intent := domain.OrderIntent{
		Symbol:    strings.ToUpper(strings.TrimSpace(valueString(symbol))),
		Side:      domain.Side(strings.ToUpper(valueString(side))),
		OrderType: domain.OrderTypeMarket,
	}
	if defined(quantity) {
		intent.Quantity = quantity.ToInteger()
	}
	if defined(orderType) {
		intent.OrderType = domain.OrderType(strings.ToUpper(orderType.String()))
	}
	if defined(price) {
		p := decimal.NewFromFloat(price.ToFloat())
		intent.LimitPrice = &p
	}

	rec, err := tc.Submit(intent)
	if err != nil {
		panic(s.vm.NewGoError(err))
	}
	if rec == nil {
		return goja.Null()
	}
	return s.vm.ToValue(recordToJS(*rec))
}

func defined(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}

func firstDefined(vs ...goja.Value) goja.Value {
	for _, v := range vs {
		if defined(v) {
			return v
		}
	}
	return nil
}

func valueString(v goja.Value) string {
	if !defined(v) {
		return ""
	}
	return v.String()
}

// ---------------------------------------------------------------------------
// Go to JavaScript conversions
// ---------------------------------------------------------------------------

func quoteToJS(q domain.Quote) map[string]any {
	price := q.LastPrice.InexactFloat64()
	return map[string]any{
		"symbol":    q.Symbol,
		"lastPrice": price,
		"ltp":       price,
		"volume":    q.Volume,
		"timestamp": q.ObservedAt.UnixMilli(),
	}
}

func ticksToJS(batch domain.TickBatch) []any {
	out := make([]any, len(batch))
	for i, t := range batch {
		out[i] = quoteToJS(t.Quote())
	}
	return out
}

func recordToJS(r domain.OrderRecord) map[string]any {
	m := map[string]any{
		"symbol":        r.Symbol,
		"quantity":      r.Quantity,
		"side":          string(r.Side),
		"orderType":     string(r.OrderType),
		"mode":          string(r.Mode),
		"orderId":       r.OrderID,
		"status":        string(r.Status),
		"error":         r.Error,
		"placedAt":      r.PlacedAt.UnixMilli(),
		"limitPrice":    nil,
		"executedPrice": nil,
	}
	if r.LimitPrice != nil {
		m["limitPrice"] = r.LimitPrice.InexactFloat64()
	}
	if r.ExecutedPrice != nil {
		m["executedPrice"] = r.ExecutedPrice.InexactFloat64()
	}
	return m
}

func positionToJS(p domain.Position) map[string]any {
	return map[string]any{
		"symbol":        p.Symbol,
		"quantity":      p.Quantity,
		"avgPrice":      p.AvgPrice.InexactFloat64(),
		"lastPrice":     p.LastPrice.InexactFloat64(),
		"unrealizedPnl": p.UnrealizedPnL.InexactFloat64(),
		"realizedPnl":   p.RealizedPnL.InexactFloat64(),
	}
}
