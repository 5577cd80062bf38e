// Package marketdata keeps the latest quote per symbol.
package marketdata

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"algodesk/internal/domain"
)

// Store maps symbols to their latest quote. Each symbol is replaced
// atomically, so readers see either the previous or the new quote and never
// a mix. Symbols are keyed upper case, matching order intents. The store is
// safe for concurrent use without a global lock.
type Store struct {
	quotes sync.Map // string -> domain.Quote
	count  atomic.Int64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Update overwrites the quote for symbol. Prices are stored as delivered.
func (s *Store) Update(symbol string, lastPrice decimal.Decimal, volume int64, ts time.Time) {
	s.put(domain.Quote{Symbol: symbol, LastPrice: lastPrice, Volume: volume, ObservedAt: ts})
}

// Apply stores every tick of the batch in order; the last tick for a symbol
// wins.
func (s *Store) Apply(batch domain.TickBatch) {
	for _, t := range batch {
		s.put(t.Quote())
	}
}

func (s *Store) put(q domain.Quote) {
	q.Symbol = Symbol(q.Symbol)
	if _, loaded := s.quotes.Swap(q.Symbol, q); !loaded {
		s.count.Add(1)
	}
}

// Get returns the latest quote for symbol.
func (s *Store) Get(symbol string) (domain.Quote, bool) {
	v, ok := s.quotes.Load(Symbol(symbol))
	if !ok {
		return domain.Quote{}, false
	}
	return v.(domain.Quote), true
}

// Snapshot returns a copy of every stored quote keyed by symbol.
func (s *Store) Snapshot() map[string]domain.Quote {
	out := make(map[string]domain.Quote, s.count.Load())
	s.quotes.Range(func(k, v any) bool {
		out[k.(string)] = v.(domain.Quote)
		return true
	})
	return out
}

// Symbol returns the canonical form of a ticker symbol.
func Symbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Len returns the number of symbols with a quote.
func (s *Store) Len() int {
	return int(s.count.Load())
}
