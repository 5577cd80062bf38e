package tradeparams

import (
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"algodesk/internal/live"
)

type recorder struct {
	mu     sync.Mutex
	events []live.Event
}

func (r *recorder) Publish(e live.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSetGetPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "params.json")
	pub := &recorder{}
	s := NewStore(path, pub, discard())

	if err := s.Set("momentum", "quantity", 5); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("sma-cross", "short", 3); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok := s.Param("momentum", "quantity"); !ok || v != 5 {
		t.Errorf("Param = %v, %v, want 5, true", v, ok)
	}
	if _, ok := s.Param("momentum", "missing"); ok {
		t.Error("Param(missing) should not be found")
	}

	reloaded := NewStore(path, nil, discard())
	if got := reloaded.Get("sma-cross"); got["short"] != 3 {
		t.Errorf("reloaded sma-cross = %v, want short=3", got)
	}
	if n := len(reloaded.Snapshot()); n != 2 {
		t.Errorf("reloaded strategies = %d, want 2", n)
	}

	if len(pub.events) != 2 || pub.events[0].Type != live.EventParams {
		t.Fatalf("events = %+v, want 2 params events", pub.events)
	}
	if e := pub.events[0].Data.(Event); e.Type != "set" || e.Key != "quantity" || e.Value != 5 {
		t.Errorf("first event = %+v", e)
	}
}

func TestDelete(t *testing.T) {
	s := NewStore("", nil, discard())
	s.Set("momentum", "quantity", 2)

	ok, err := s.Delete("momentum", "quantity")
	if !ok || err != nil {
		t.Errorf("Delete = %v, %v, want true, nil", ok, err)
	}
	if ok, _ := s.Delete("momentum", "quantity"); ok {
		t.Error("second Delete should report missing")
	}
	if n := len(s.Snapshot()); n != 0 {
		t.Errorf("empty strategy should be dropped, have %d", n)
	}
}

func TestSetRequiresNames(t *testing.T) {
	s := NewStore("", nil, discard())
	if err := s.Set(" ", "quantity", 1); err == nil {
		t.Error("Set with empty strategy should fail")
	}
	if got := s.Get("none"); got == nil || len(got) != 0 {
		t.Errorf("Get(none) = %v, want empty map", got)
	}
}
