package strategy

import (
	"fmt"
	"runtime/debug"
	"sync"

	"algodesk/internal/domain"
	"algodesk/internal/live"
)

// Callback names as reported in errors and log events.
const (
	CallbackInitialize    = "initialize"
	CallbackOnTick        = "onTick"
	CallbackOnOrderUpdate = "onOrderUpdate"
)

// Host owns the loaded strategy and serialises every callback into it. A
// failing callback is reported and swallowed; it never stops the caller.
type Host struct {
	mu     sync.Mutex
	unit   *Unit
	notify *live.Notifier
}

// NewHost creates an empty host.
func NewHost(notify *live.Notifier) *Host {
	if notify == nil {
		notify = live.NewNotifier(nil, nil)
	}
	return &Host{notify: notify}
}

// Load replaces the loaded strategy. It waits for a running callback to
// finish.
func (h *Host) Load(u *Unit) {
	h.mu.Lock()
	h.unit = u
	h.mu.Unlock()

	caps := u.Capabilities()
	h.notify.Success(fmt.Sprintf("Strategy loaded: %s", u.Name()),
		"kind", u.Kind(), "initialize", caps.Initialize, "onTick", caps.OnTick, "onOrderUpdate", caps.OnOrderUpdate)
}

// Loaded reports whether a strategy is loaded.
func (h *Host) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unit != nil
}

// Name returns the loaded strategy's name, or "".
func (h *Host) Name() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unit == nil {
		return ""
	}
	return h.unit.Name()
}

// Capabilities returns the loaded strategy's capabilities.
func (h *Host) Capabilities() (Capabilities, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unit == nil {
		return Capabilities{}, false
	}
	return h.unit.Capabilities(), true
}

// Initialize runs the strategy's initialize callback, if any.
func (h *Host) Initialize(tc *Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unit == nil || h.unit.initialize == nil {
		return nil
	}
	return h.invoke(CallbackInitialize, func() error { return h.unit.initialize(tc) })
}

// OnTick delivers a tick batch to the strategy, if it handles ticks.
func (h *Host) OnTick(tc *Context, batch domain.TickBatch) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unit == nil || h.unit.onTick == nil {
		return nil
	}
	return h.invoke(CallbackOnTick, func() error { return h.unit.onTick(tc, batch) })
}

// OnOrderUpdate delivers an order record to the strategy, if it handles
// order updates.
func (h *Host) OnOrderUpdate(tc *Context, rec domain.OrderRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.unit == nil || h.unit.onOrderUpdate == nil {
		return nil
	}
	return h.invoke(CallbackOnOrderUpdate, func() error { return h.unit.onOrderUpdate(tc, rec) })
}

// invoke runs fn with panic recovery. Must be called with h.mu held.
func (h *Host) invoke(callback string, fn func() error) (err error) {
	name := h.unit.Name()
	defer func() {
		if r := recover(); r != nil {
			err = &domain.StrategyCallbackError{Strategy: name, Callback: callback, Err: fmt.Errorf("panic: %v", r)}
			h.notify.Error(fmt.Sprintf("Strategy %s error: %v", callback, r), "strategy", name, "stack", string(debug.Stack()))
		}
	}()

	if cbErr := fn(); cbErr != nil {
		err = &domain.StrategyCallbackError{Strategy: name, Callback: callback, Err: cbErr}
		h.notify.Error(fmt.Sprintf("Strategy %s error: %v", callback, cbErr), "strategy", name)
	}
	return err
}
