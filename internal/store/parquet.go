package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"algodesk/internal/domain"
)

// Compile-time interface check.
var _ TickStore = (*ParquetStore)(nil)

// ParquetStore implements TickStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// TickRecord is the Parquet schema for quote ticks.
type TickRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Price     float64 `parquet:"price"`
	Volume    int64   `parquet:"volume"`
}

func tickToRecord(t domain.Tick) TickRecord {
	return TickRecord{
		Symbol:    strings.ToUpper(t.Symbol),
		Timestamp: t.Timestamp.UnixMilli(),
		Price:     t.LastPrice.InexactFloat64(),
		Volume:    t.Volume,
	}
}

func recordToTick(r TickRecord) domain.Tick {
	return domain.Tick{
		Symbol:    r.Symbol,
		LastPrice: decimal.NewFromFloat(r.Price),
		Volume:    r.Volume,
		Timestamp: time.UnixMilli(r.Timestamp).UTC(),
	}
}

// ---------------------------------------------------------------------------
// TickStore implementation
// ---------------------------------------------------------------------------

// WriteTicks appends ticks to Parquet files organized by symbol and UTC date.
func (s *ParquetStore) WriteTicks(_ context.Context, ticks domain.TickBatch) error {
	if len(ticks) == 0 {
		return nil
	}

	type key struct {
		symbol string
		date   string // YYYY-MM-DD
	}
	groups := make(map[key][]TickRecord)
	for _, t := range ticks {
		r := tickToRecord(t)
		k := key{symbol: r.Symbol, date: t.Timestamp.UTC().Format("2006-01-02")}
		groups[k] = append(groups[k], r)
	}

	for k, records := range groups {
		t, _ := time.Parse("2006-01-02", k.date)
		path := s.tickPath(k.symbol, t)

		existing, err := readParquetFile[TickRecord](path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading ticks for %s/%s: %w", k.symbol, k.date, err)
		}
		merged := mergeTickRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing ticks for %s/%s: %w", k.symbol, k.date, err)
		}
	}
	return nil
}

// ReadTicks reads ticks for symbol with start <= timestamp <= end, ordered by
// timestamp.
func (s *ParquetStore) ReadTicks(_ context.Context, symbol string, start, end time.Time) (domain.TickBatch, error) {
	var ticks domain.TickBatch
	first := start.UTC().Truncate(24 * time.Hour)
	for d := first; !d.After(end.UTC()); d = d.AddDate(0, 0, 1) {
		path := s.tickPath(symbol, d)
		records, err := readParquetFile[TickRecord](path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp)
			if ts.Before(start) || ts.After(end) {
				continue
			}
			ticks = append(ticks, recordToTick(r))
		}
	}
	return ticks, nil
}

// ListSymbols returns every symbol that has tick files, sorted.
func (s *ParquetStore) ListSymbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "ticks"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// tickPath returns the filesystem path for a tick Parquet file.
// Layout: <dataDir>/ticks/<SYMBOL>/<YYYY-MM-DD>.parquet
func (s *ParquetStore) tickPath(symbol string, t time.Time) string {
	date := t.UTC().Format("2006-01-02")
	return filepath.Join(s.DataDir, "ticks", strings.ToUpper(symbol), date+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeTickRecords appends incoming to existing and orders by timestamp.
// Ticks with equal timestamps keep their arrival order.
func mergeTickRecords(existing, incoming []TickRecord) []TickRecord {
	merged := make([]TickRecord, 0, len(existing)+len(incoming))
	merged = append(merged, existing...)
	merged = append(merged, incoming...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
