package builtins

import "algodesk/internal/strategy"

// Default SMA crossover parameters.
const (
	DefaultShortPeriod = 5
	DefaultLongPeriod  = 20
)

// Register adds every built-in strategy to reg. symbol is the instrument
// traded by single-symbol strategies.
func Register(reg *strategy.Registry, symbol string) {
	reg.Register("momentum", func() strategy.Strategy { return NewMomentum(symbol, 1) })
	reg.Register("sma-cross", func() strategy.Strategy {
		return NewSMACross(DefaultShortPeriod, DefaultLongPeriod, 1)
	})
}

// quantity returns the "quantity" parameter when it is a positive whole
// number, else def.
func quantity(tc *strategy.Context, def int64) int64 {
	if q := int64(tc.Param("quantity", float64(def))); q > 0 {
		return q
	}
	return def
}
