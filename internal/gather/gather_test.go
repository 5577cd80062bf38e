package gather

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"algodesk/internal/domain"
)

type collector struct {
	mu      sync.Mutex
	batches []domain.TickBatch
}

func (c *collector) sink(b domain.TickBatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
}

func (c *collector) snapshot() []domain.TickBatch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.TickBatch(nil), c.batches...)
}

func tick(sym string, p int64) domain.Tick {
	return domain.Tick{Symbol: sym, LastPrice: decimal.NewFromInt(p), Timestamp: time.Now()}
}

func TestBatchFlushesAtMaxSize(t *testing.T) {
	in := make(chan domain.Tick, 10)
	for i := int64(0); i < 5; i++ {
		in <- tick("A", i)
	}
	close(in)

	var c collector
	Batch(context.Background(), in, time.Hour, 2, c.sink)

	got := c.snapshot()
	if len(got) != 3 {
		t.Fatalf("batches = %d, want 3", len(got))
	}
	for i, want := range []int{2, 2, 1} {
		if len(got[i]) != want {
			t.Errorf("len(batch %d) = %d, want %d", i, len(got[i]), want)
		}
	}
}

func TestBatchFlushesAfterWindow(t *testing.T) {
	in := make(chan domain.Tick)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var c collector
	done := make(chan struct{})
	go func() {
		Batch(ctx, in, 20*time.Millisecond, 100, c.sink)
		close(done)
	}()

	in <- tick("A", 1)
	in <- tick("B", 2)
	deadline := time.Now().Add(time.Second)
	for len(c.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	got := c.snapshot()
	if len(got) != 1 {
		t.Fatalf("batches = %d, want 1 after the window", len(got))
	}
	if len(got[0]) != 2 {
		t.Errorf("len(batch) = %d, want 2", len(got[0]))
	}

	cancel()
	<-done
}

func TestBatchZeroWindowIsPerTick(t *testing.T) {
	in := make(chan domain.Tick, 3)
	in <- tick("A", 1)
	in <- tick("A", 2)
	close(in)

	var c collector
	Batch(context.Background(), in, 0, 100, c.sink)
	if n := len(c.snapshot()); n != 2 {
		t.Errorf("batches = %d, want 2", n)
	}
}

func TestDateRangeContains(t *testing.T) {
	day := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	r := DateRange{Start: day, End: day.Add(24 * time.Hour)}

	tests := []struct {
		name string
		r    DateRange
		ts   time.Time
		want bool
	}{
		{"inside", r, day.Add(time.Hour), true},
		{"before start", r, day.Add(-time.Second), false},
		{"after end", r, day.Add(25 * time.Hour), false},
		{"unbounded", DateRange{}, day, true},
	}
	for _, tt := range tests {
		if got := tt.r.Contains(tt.ts); got != tt.want {
			t.Errorf("%s: Contains = %v, want %v", tt.name, got, tt.want)
		}
	}
}
