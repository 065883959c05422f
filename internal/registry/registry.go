package registry

import (
	"context"
	"fmt"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/vk/modkit/internal/config"
	"github.com/vk/modkit/internal/ctxlog"
	"github.com/vk/modkit/module"
)

// Registry holds the lifecycle entries for every discovered module of a
// single runtime instance.
type Registry struct {
	entries cmap.ConcurrentMap[string, *Entry]
	loading cmap.ConcurrentMap[string, struct{}]

	// mu guards order, a registration-order snapshot of names that keeps
	// resolver input deterministic (the concurrent map iterates randomly).
	mu    sync.Mutex
	order []string
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		entries: cmap.New[*Entry](),
		loading: cmap.New[struct{}](),
	}
}

// Register creates the entry for a newly discovered module in state
// "registered". Duplicate names are rejected or skipped with a warning,
// depending on the policy.
func (r *Registry) Register(ctx context.Context, name string, factory module.Factory, loc module.Location, policy config.DuplicatePolicy) error {
	logger := ctxlog.FromContext(ctx)
	name = config.NormalizeName(name)
	if name == "" {
		return fmt.Errorf("cannot register module with empty name")
	}

	entry := &Entry{
		name:     name,
		factory:  factory,
		location: loc,
		state:    StateRegistered,
	}
	if !r.entries.SetIfAbsent(name, entry) {
		if policy == config.DuplicateReject {
			return fmt.Errorf("module %q already registered", name)
		}
		logger.Warn("Duplicate module registration skipped.", "module", name)
		return nil
	}

	r.mu.Lock()
	r.order = append(r.order, name)
	r.mu.Unlock()

	logger.Debug("Registered module.", "module", name, "location", loc.String())
	return nil
}

// Get returns the entry for a module, if one exists.
func (r *Registry) Get(name string) (*Entry, bool) {
	return r.entries.Get(config.NormalizeName(name))
}

// Names returns the registered module names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	return r.entries.Count()
}

// BeginLoad atomically sets the in-flight load marker for a module. It
// returns false when a load is already in flight, which means the caller is
// inside a runtime-reentrant dependency cycle.
func (r *Registry) BeginLoad(name string) bool {
	return r.loading.SetIfAbsent(config.NormalizeName(name), struct{}{})
}

// EndLoad clears the in-flight load marker. It must run on every completion
// path, success or failure, so a later load is never blocked by a stale
// marker.
func (r *Registry) EndLoad(name string) {
	r.loading.Remove(config.NormalizeName(name))
}

// Invalidate wipes every entry, marker, and the registration order. Entries
// otherwise persist for the lifetime of the run.
func (r *Registry) Invalidate() {
	r.entries.Clear()
	r.loading.Clear()
	r.mu.Lock()
	r.order = nil
	r.mu.Unlock()
}
