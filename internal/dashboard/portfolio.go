// Package dashboard derives positions and profit/loss from executed orders
// and formats them for the console and CLI clients.
package dashboard

import (
	"sort"

	"github.com/shopspring/decimal"

	"algodesk/internal/domain"
)

// Fill is one executed trade fed into position accounting.
type Fill struct {
	Symbol   string
	Side     domain.Side
	Quantity int64
	Price    decimal.Decimal
}

// QuoteSource supplies latest prices for unrealized PnL.
type QuoteSource interface {
	Get(symbol string) (domain.Quote, bool)
}

// Portfolio is the result of aggregating fills.
type Portfolio struct {
	Positions []domain.Position `json:"positions"`
	PnL       domain.PnL        `json:"pnl"`
}

// book tracks one symbol while fills are replayed.
type book struct {
	qty      int64
	avg      decimal.Decimal
	realized decimal.Decimal
}

func (b *book) apply(f Fill) {
	q := f.Quantity
	if f.Side == domain.SideSell {
		q = -q
	}

	switch {
	case b.qty == 0 || sameSign(b.qty, q):
		// Opening or adding: weighted average entry.
		held := decimal.NewFromInt(abs(b.qty))
		added := decimal.NewFromInt(abs(q))
		b.avg = b.avg.Mul(held).Add(f.Price.Mul(added)).Div(held.Add(added))
		b.qty += q
	default:
		// Reducing, closing or flipping.
		closing := min(abs(q), abs(b.qty))
		pnlPerUnit := f.Price.Sub(b.avg)
		if b.qty < 0 {
			pnlPerUnit = pnlPerUnit.Neg()
		}
		b.realized = b.realized.Add(pnlPerUnit.Mul(decimal.NewFromInt(closing)))

		prev := b.qty
		b.qty += q
		switch {
		case b.qty == 0:
			b.avg = decimal.Zero
		case !sameSign(prev, b.qty):
			b.avg = f.Price
		}
	}
}

// Aggregate replays fills in order and values open positions at the latest
// quote. A symbol without a quote is valued at its average price. Positions
// are sorted by symbol; fully closed symbols only contribute realized PnL.
func Aggregate(fills []Fill, quotes QuoteSource) Portfolio {
	books := make(map[string]*book)
	for _, f := range fills {
		if f.Quantity <= 0 {
			continue
		}
		b, ok := books[f.Symbol]
		if !ok {
			b = &book{}
			books[f.Symbol] = b
		}
		b.apply(f)
	}

	var p Portfolio
	p.Positions = make([]domain.Position, 0, len(books))
	for sym, b := range books {
		p.PnL.Realized = p.PnL.Realized.Add(b.realized)
		if b.qty == 0 {
			continue
		}
		last := b.avg
		if quotes != nil {
			if q, ok := quotes.Get(sym); ok {
				last = q.LastPrice
			}
		}
		unrealized := last.Sub(b.avg).Mul(decimal.NewFromInt(b.qty))
		p.PnL.Unrealized = p.PnL.Unrealized.Add(unrealized)
		p.Positions = append(p.Positions, domain.Position{
			Symbol:        sym,
			Quantity:      b.qty,
			AvgPrice:      b.avg.Round(4),
			LastPrice:     last,
			UnrealizedPnL: unrealized.Round(4),
			RealizedPnL:   b.realized,
		})
	}
	sort.Slice(p.Positions, func(i, j int) bool { return p.Positions[i].Symbol < p.Positions[j].Symbol })
	p.PnL.Unrealized = p.PnL.Unrealized.Round(4)
	p.PnL.Total = p.PnL.Realized.Add(p.PnL.Unrealized)
	return p
}

// FillsFromRecords extracts the executed orders of one mode, in log order.
func FillsFromRecords(records []domain.OrderRecord, mode domain.Mode) []Fill {
	var fills []Fill
	for _, r := range records {
		if r.Mode != mode || r.Status != domain.OrderStatusExecuted || r.ExecutedPrice == nil {
			continue
		}
		fills = append(fills, Fill{Symbol: r.Symbol, Side: r.Side, Quantity: r.Quantity, Price: *r.ExecutedPrice})
	}
	return fills
}

func sameSign(a, b int64) bool { return (a > 0) == (b > 0) }

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
