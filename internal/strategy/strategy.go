// Package strategy hosts user trading strategies. A strategy is loaded into
// a Unit whose optional callbacks (initialize, onTick, onOrderUpdate) are
// resolved once at load time and then invoked one at a time by the Host.
package strategy

import (
	"sort"
	"sync"

	"algodesk/internal/domain"
)

// Strategy is the interface that all built-in strategies implement. Each
// callback is optional: a strategy opts in by also implementing
// Initializer, TickHandler or OrderUpdateHandler.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string
}

// Initializer is called once when a session starts.
type Initializer interface {
	Initialize(tc *Context) error
}

// TickHandler is called with every ingested tick batch while the session
// runs.
type TickHandler interface {
	OnTick(tc *Context, batch domain.TickBatch) error
}

// OrderUpdateHandler is called when an order placed by the strategy
// completes asynchronously or changes status after placement.
type OrderUpdateHandler interface {
	OnOrderUpdate(tc *Context, rec domain.OrderRecord) error
}

// Capabilities lists which callbacks a loaded strategy provides.
type Capabilities struct {
	Initialize    bool `json:"initialize"`
	OnTick        bool `json:"onTick"`
	OnOrderUpdate bool `json:"onOrderUpdate"`
}

// Unit is a loaded strategy.
type Unit struct {
	name          string
	kind          string
	initialize    func(*Context) error
	onTick        func(*Context, domain.TickBatch) error
	onOrderUpdate func(*Context, domain.OrderRecord) error
}

// NewUnit resolves the callbacks s implements.
func NewUnit(s Strategy) *Unit {
	u := &Unit{name: s.Name(), kind: "builtin"}
	if v, ok := s.(Initializer); ok {
		u.initialize = v.Initialize
	}
	if v, ok := s.(TickHandler); ok {
		u.onTick = v.OnTick
	}
	if v, ok := s.(OrderUpdateHandler); ok {
		u.onOrderUpdate = v.OnOrderUpdate
	}
	return u
}

// Name returns the strategy name.
func (u *Unit) Name() string { return u.name }

// Kind is "builtin" or "script".
func (u *Unit) Kind() string { return u.kind }

// Capabilities reports the callbacks the unit provides.
func (u *Unit) Capabilities() Capabilities {
	return Capabilities{
		Initialize:    u.initialize != nil,
		OnTick:        u.onTick != nil,
		OnOrderUpdate: u.onOrderUpdate != nil,
	}
}

// Factory builds a fresh strategy instance, so every load starts with clean
// state.
type Factory func() Strategy

// Registry holds the named built-in strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Factory),
	}
}

// Register adds a strategy factory under name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = f
}

// Get retrieves a factory by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.strategies[name]
	return f, ok
}

// New builds a Unit from the named factory.
func (r *Registry) New(name string) (*Unit, bool) {
	f, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	return NewUnit(f()), true
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
