package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"algodesk/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ OrderStore = (*SQLiteStore)(nil)

// ErrOrderNotFound is returned when no journal row matches an order id.
var ErrOrderNotFound = errors.New("order not found")

// Schema creates the order journal.
const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id       TEXT    NOT NULL DEFAULT '',
	symbol         TEXT    NOT NULL,
	quantity       INTEGER NOT NULL,
	side           TEXT    NOT NULL,
	order_type     TEXT    NOT NULL,
	limit_price    TEXT,
	mode           TEXT    NOT NULL,
	status         TEXT    NOT NULL,
	executed_price TEXT,
	error          TEXT    NOT NULL DEFAULT '',
	placed_at      INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_order_id ON orders(order_id);
CREATE INDEX IF NOT EXISTS idx_orders_mode_status ON orders(mode, status);
`

// SQLiteStore implements OrderStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && !strings.HasPrefix(dbPath, ":memory:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serialises anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

// SaveOrder inserts a new record.
func (s *SQLiteStore) SaveOrder(ctx context.Context, rec domain.OrderRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders
		(order_id, symbol, quantity, side, order_type, limit_price, mode, status, executed_price, error, placed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OrderID, rec.Symbol, rec.Quantity, string(rec.Side), string(rec.OrderType),
		decimalArg(rec.LimitPrice), string(rec.Mode), string(rec.Status),
		decimalArg(rec.ExecutedPrice), rec.Error,
		rec.PlacedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving order %s: %w", rec.OrderID, err)
	}
	return nil
}

// UpdateOrder moves a PENDING record to its terminal status. Records that
// are already terminal are left untouched.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, rec domain.OrderRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, executed_price = ?, error = ?, updated_at = ?
		WHERE order_id = ? AND status = ?`,
		string(rec.Status), decimalArg(rec.ExecutedPrice), rec.Error, rec.UpdatedAt.UnixNano(),
		rec.OrderID, string(domain.OrderStatusPending),
	)
	if err != nil {
		return fmt.Errorf("updating order %s: %w", rec.OrderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating order %s: %w", rec.OrderID, ErrOrderNotFound)
	}
	return nil
}

const selectOrders = `
	SELECT order_id, symbol, quantity, side, order_type, limit_price, mode, status,
	       executed_price, error, placed_at, updated_at
	FROM orders`

// GetOrder retrieves a single record by its broker order id.
func (s *SQLiteStore) GetOrder(ctx context.Context, orderID string) (domain.OrderRecord, error) {
	row := s.db.QueryRowContext(ctx, selectOrders+` WHERE order_id = ? ORDER BY seq DESC LIMIT 1`, orderID)
	rec, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OrderRecord{}, ErrOrderNotFound
	}
	return rec, err
}

// ListOrders returns records matching f in insertion order. With a Limit,
// the most recent records are returned.
func (s *SQLiteStore) ListOrders(ctx context.Context, f OrderFilter) ([]domain.OrderRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Mode != "" {
		where = append(where, "mode = ?")
		args = append(args, string(f.Mode))
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}

	q := selectOrders
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Limit > 0 {
		q += " ORDER BY seq DESC LIMIT ?"
		args = append(args, f.Limit)
	} else {
		q += " ORDER BY seq"
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var out []domain.OrderRecord
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if f.Limit > 0 {
		slices.Reverse(out)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Row helpers
// ---------------------------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(sc scanner) (domain.OrderRecord, error) {
	var (
		rec                   domain.OrderRecord
		side, typ, mode, stat string
		limit, executed       sql.NullString
		placed, updated       int64
	)
	err := sc.Scan(&rec.OrderID, &rec.Symbol, &rec.Quantity, &side, &typ, &limit, &mode, &stat,
		&executed, &rec.Error, &placed, &updated)
	if err != nil {
		return domain.OrderRecord{}, err
	}
	rec.Side = domain.Side(side)
	rec.OrderType = domain.OrderType(typ)
	rec.Mode = domain.Mode(mode)
	rec.Status = domain.OrderStatus(stat)
	rec.LimitPrice = decimalScan(limit)
	rec.ExecutedPrice = decimalScan(executed)
	rec.PlacedAt = time.Unix(0, placed)
	rec.UpdatedAt = time.Unix(0, updated)
	return rec, nil
}

func decimalArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func decimalScan(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid {
		return nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil
	}
	return &d
}
