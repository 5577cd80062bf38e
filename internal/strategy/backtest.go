package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"algodesk/internal/domain"
	"algodesk/internal/gather"
	"algodesk/internal/store"
)

// ReplayRequest selects the recorded ticks to replay.
type ReplayRequest struct {
	// Symbols to replay. Empty means every recorded symbol.
	Symbols []string
	Range   gather.DateRange
	// Speed scales the recorded gaps between batches: 1 replays in real
	// time, 10 ten times faster. Zero replays without pacing.
	Speed float64
}

// ReplayResult summarises a finished replay.
type ReplayResult struct {
	Symbols []string `json:"symbols"`
	Batches int      `json:"batches"`
	Ticks   int      `json:"ticks"`
}

// Backtester replays recorded ticks into a sink, batching ticks that share
// a timestamp the way a live feed would deliver them.
type Backtester struct {
	store store.TickStore
}

// NewBacktester creates a Backtester that reads ticks from the given store.
func NewBacktester(ticks store.TickStore) *Backtester {
	return &Backtester{store: ticks}
}

// Run replays the requested ticks in timestamp order. It stops early when
// ctx is cancelled and returns what was replayed so far with ctx's error.
func (bt *Backtester) Run(ctx context.Context, req ReplayRequest, sink gather.Sink) (ReplayResult, error) {
	if req.Speed < 0 {
		return ReplayResult{}, fmt.Errorf("replay speed must not be negative, got %v", req.Speed)
	}
	if req.Range.Start.IsZero() || req.Range.End.IsZero() {
		return ReplayResult{}, errors.New("replay range needs both start and end")
	}
	if req.Range.End.Before(req.Range.Start) {
		return ReplayResult{}, errors.New("replay range ends before it starts")
	}

	symbols := normalizeSymbols(req.Symbols)
	if len(symbols) == 0 {
		all, err := bt.store.ListSymbols(ctx)
		if err != nil {
			return ReplayResult{}, fmt.Errorf("listing recorded symbols: %w", err)
		}
		symbols = all
	}

	var ticks domain.TickBatch
	for _, sym := range symbols {
		got, err := bt.store.ReadTicks(ctx, sym, req.Range.Start, req.Range.End)
		if err != nil {
			return ReplayResult{}, fmt.Errorf("reading %s ticks: %w", sym, err)
		}
		ticks = append(ticks, got...)
	}
	sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].Timestamp.Before(ticks[j].Timestamp) })

	res := ReplayResult{Symbols: symbols}
	var prev time.Time
	for _, batch := range splitByTimestamp(ticks) {
		if req.Speed > 0 && !prev.IsZero() {
			gap := time.Duration(float64(batch[0].Timestamp.Sub(prev)) / req.Speed)
			if err := sleep(ctx, gap); err != nil {
				return res, err
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sink(batch)
		prev = batch[0].Timestamp
		res.Batches++
		res.Ticks += len(batch)
	}
	return res, nil
}

// splitByTimestamp groups consecutive ticks with equal timestamps. ticks
// must be sorted.
func splitByTimestamp(ticks domain.TickBatch) []domain.TickBatch {
	var out []domain.TickBatch
	for start := 0; start < len(ticks); {
		end := start + 1
		for end < len(ticks) && ticks[end].Timestamp.Equal(ticks[start].Timestamp) {
			end++
		}
		out = append(out, ticks[start:end:end])
		start = end
	}
	return out
}

func normalizeSymbols(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
