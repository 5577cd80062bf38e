// Package tradeparams keeps per-strategy numeric parameters (order size,
// periods, thresholds) in memory with JSON persistence. Strategies read them
// through the trading context; the API edits them while the desk runs.
package tradeparams

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"algodesk/internal/live"
)

// Event is published on every change.
type Event struct {
	Type     string  `json:"type"` // "set", "delete"
	Strategy string  `json:"strategy"`
	Key      string  `json:"key"`
	Value    float64 `json:"value,omitempty"` // set only
}

// Store holds parameters in memory with JSON persistence. An empty file path
// keeps them in memory only.
type Store struct {
	mu       sync.RWMutex
	params   map[string]map[string]float64 // strategy -> key -> value
	filePath string
	pub      live.Publisher
	log      *slog.Logger
}

// NewStore creates a Store, loading persisted state from filePath.
func NewStore(filePath string, pub live.Publisher, log *slog.Logger) *Store {
	if pub == nil {
		pub = live.Discard
	}
	s := &Store{
		params:   make(map[string]map[string]float64),
		filePath: filePath,
		pub:      pub,
		log:      log,
	}
	s.load()
	return s
}

// Param returns one value.
func (s *Store) Param(strategy, key string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.params[strategy][key]
	return v, ok
}

// Get returns the parameters of one strategy (nil-safe).
func (s *Store) Get(strategy string) map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.params[strategy]
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Snapshot returns a deep copy of all parameters.
func (s *Store) Snapshot() map[string]map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]float64, len(s.params))
	for name, m := range s.params {
		inner := make(map[string]float64, len(m))
		for k, v := range m {
			inner[k] = v
		}
		out[name] = inner
	}
	return out
}

// Set stores a value, persists it and publishes the change. The value is
// kept in memory even when persisting fails.
func (s *Store) Set(strategy, key string, value float64) error {
	strategy, key = strings.TrimSpace(strategy), strings.TrimSpace(key)
	if strategy == "" || key == "" {
		return errors.New("strategy and key are required")
	}
	s.mu.Lock()
	if s.params[strategy] == nil {
		s.params[strategy] = make(map[string]float64)
	}
	s.params[strategy][key] = value
	err := s.flush()
	s.mu.Unlock()

	s.pub.Publish(live.NewEvent(live.EventParams, Event{Type: "set", Strategy: strategy, Key: key, Value: value}))
	return err
}

// Delete removes a value, persists and publishes the change. It reports
// whether the value existed.
func (s *Store) Delete(strategy, key string) (bool, error) {
	s.mu.Lock()
	m, ok := s.params[strategy]
	if ok {
		_, ok = m[key]
		delete(m, key)
		if len(m) == 0 {
			delete(s.params, strategy)
		}
	}
	var err error
	if ok {
		err = s.flush()
	}
	s.mu.Unlock()

	if ok {
		s.pub.Publish(live.NewEvent(live.EventParams, Event{Type: "delete", Strategy: strategy, Key: key}))
	}
	return ok, err
}

// load reads the JSON file into memory.
func (s *Store) load() {
	if s.filePath == "" {
		return
	}
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return // File doesn't exist yet; start empty.
	}
	var loaded map[string]map[string]float64
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.log.Warn("loading strategy parameters", "file", s.filePath, "error", err)
		return
	}
	if loaded != nil {
		s.params = loaded
	}
	s.log.Info("loaded strategy parameters", "strategies", len(s.params))
}

// flush writes the in-memory state to disk. Must be called with mu held.
func (s *Store) flush() error {
	if s.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.params, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling parameters: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return err
	}
	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.filePath)
}
