package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/modkit/internal/ctxlog"
)

// ErrCycle signals that the declared dependencies contain a cycle and no
// total order exists.
var ErrCycle = errors.New("dependency cycle detected")

// Resolve orders the given module names so that every dependency appears
// before its dependents, using Kahn's algorithm with a FIFO ready queue.
//
// A dependency that names a module outside the working set is treated as
// external: ignored with a warning, or a hard failure under strict mode.
// If a cycle exists, Resolve returns ErrCycle (wrapped with context under
// strict mode). The algorithm runs in O(V+E).
func Resolve(ctx context.Context, names []string, depsOf func(string) []string, strict bool) ([]string, error) {
	logger := ctxlog.FromContext(ctx)

	known := make(map[string]bool, len(names))
	for _, name := range names {
		known[name] = true
	}

	indegree := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))
	for _, name := range names {
		for _, dep := range depsOf(name) {
			if dep == name {
				return nil, fmt.Errorf("module %q depends on itself: %w", name, ErrCycle)
			}
			if !known[dep] {
				if strict {
					return nil, fmt.Errorf("module %q depends on unknown module %q", name, dep)
				}
				logger.Warn("Ignoring dependency on module outside the working set.", "module", name, "dependency", dep)
				continue
			}
			dependents[dep] = append(dependents[dep], name)
			indegree[name]++
		}
	}

	// Seed the ready queue in discovery order for a deterministic tie-break.
	ready := make([]string, 0, len(names))
	for _, name := range names {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(names))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) < len(names) {
		if strict {
			return nil, fmt.Errorf("cannot order %d of %d modules: %w", len(names)-len(order), len(names), ErrCycle)
		}
		return nil, ErrCycle
	}
	return order, nil
}
