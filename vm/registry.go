package vm

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/tolelom/tolmarket/core"
)

// Handler is the function signature every call handler must implement.
type Handler func(ctx *Context, payload json.RawMessage) error

// Implementation is one version of the marketplace logic. It owns no data:
// every handler borrows the State carried by its Context.
type Implementation struct {
	Name string
	// Schema is the storage layout version this logic reads and writes.
	Schema   uint64
	Handlers map[core.CallType]Handler
	// Migrate runs once when the executor switches to this implementation.
	// It may only append keys or trailing record fields.
	Migrate func(state core.State) error
}

// Registry maps implementation names to Implementations. Thread-safe for
// concurrent registration.
type Registry struct {
	mu    sync.RWMutex
	impls map[string]*Implementation
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{impls: make(map[string]*Implementation)}
}

// Register adds impl. Panics on duplicate registration.
func (r *Registry) Register(impl *Implementation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if impl == nil || impl.Name == "" {
		panic("vm: implementation must be named")
	}
	if _, exists := r.impls[impl.Name]; exists {
		panic(fmt.Sprintf("vm: implementation %q already registered", impl.Name))
	}
	r.impls[impl.Name] = impl
}

// Lookup returns the implementation registered under name.
func (r *Registry) Lookup(name string) (*Implementation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.impls[name]
	return impl, ok
}

// Names returns every registered implementation name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.impls))
	for n := range r.impls {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// globalRegistry is the package-level singleton that modules register into.
var globalRegistry = NewRegistry()

// Register adds an implementation to the global registry.
// Module init() functions call this to self-register.
func Register(impl *Implementation) {
	globalRegistry.Register(impl)
}

// Lookup finds an implementation in the global registry.
func Lookup(name string) (*Implementation, bool) {
	return globalRegistry.Lookup(name)
}

// Implementations lists the global registry.
func Implementations() []string {
	return globalRegistry.Names()
}
