package engine

import (
	"sync"

	"algodesk/internal/domain"
	"algodesk/internal/store"
)

// OrderLog is the in-memory, append-only list of order records for the
// lifetime of the process. Records are kept in completion order.
type OrderLog struct {
	mu      sync.RWMutex
	records []domain.OrderRecord
	byID    map[string]int
}

// NewOrderLog creates an empty log.
func NewOrderLog() *OrderLog {
	return &OrderLog{byID: make(map[string]int)}
}

// Append adds rec to the end of the log.
func (l *OrderLog) Append(rec domain.OrderRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.OrderID != "" {
		l.byID[rec.OrderID] = len(l.records)
	}
	l.records = append(l.records, rec)
}

// Transition moves a PENDING record to a terminal status. It returns the
// updated record, or false when the id is unknown or the record is no
// longer pending.
func (l *OrderLog) Transition(orderID string, apply func(*domain.OrderRecord)) (domain.OrderRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.byID[orderID]
	if !ok || l.records[i].Status != domain.OrderStatusPending {
		return domain.OrderRecord{}, false
	}
	apply(&l.records[i])
	return l.records[i], true
}

// Get returns the record with the given order id.
func (l *OrderLog) Get(orderID string) (domain.OrderRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.byID[orderID]
	if !ok {
		return domain.OrderRecord{}, false
	}
	return l.records[i], true
}

// List returns a copy of the records matching f, oldest first. A positive
// f.Limit keeps only the most recent matches.
func (l *OrderLog) List(f store.OrderFilter) []domain.OrderRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.OrderRecord, 0, len(l.records))
	for _, r := range l.records {
		if f.Mode != "" && r.Mode != f.Mode {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

// Len returns the number of records.
func (l *OrderLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
