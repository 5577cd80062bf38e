package dashboard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int64) string {
	if n < 0 {
		return "-" + FormatInt(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPrice formats a price with two decimals and comma separators, or
// "-" for zero.
func FormatPrice(p decimal.Decimal) string {
	if p.IsZero() {
		return "-"
	}
	return formatMoney(p)
}

// FormatPnL formats a profit or loss with an explicit sign.
func FormatPnL(v decimal.Decimal) string {
	switch v.Sign() {
	case 1:
		return "+" + formatMoney(v)
	case -1:
		return "-" + formatMoney(v.Neg())
	default:
		return "0.00"
	}
}

func formatMoney(v decimal.Decimal) string {
	neg := v.IsNegative()
	if neg {
		v = v.Neg()
	}
	s := v.StringFixed(2)
	whole, frac, _ := strings.Cut(s, ".")
	n, _ := strconv.ParseInt(whole, 10, 64)
	out := FormatInt(n) + "." + frac
	if neg {
		out = "-" + out
	}
	return out
}
