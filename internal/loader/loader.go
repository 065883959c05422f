// Package loader implements the module cache: each module's factory runs at
// most once per process lifetime, the result is memoized on the registry
// entry, and a per-module in-flight marker guards against runtime-reentrant
// loads during nested dependency chains.
//
// The loader assumes dependency ordering has already been satisfied by the
// caller; it does not resolve the graph itself.
package loader

import (
	"context"
	"fmt"

	"github.com/vk/modkit/internal/config"
	"github.com/vk/modkit/internal/ctxlog"
	"github.com/vk/modkit/internal/events"
	"github.com/vk/modkit/internal/registry"
	"github.com/vk/modkit/internal/retry"
	"github.com/vk/modkit/module"
)

// Loader memoizes module instantiation against the shared registry.
type Loader struct {
	reg      *registry.Registry
	model    *config.Model
	engine   *retry.Engine
	bus      *events.Bus
	location module.Location
}

// New wires a Loader for one runtime side.
func New(reg *registry.Registry, model *config.Model, engine *retry.Engine, bus *events.Bus, location module.Location) *Loader {
	return &Loader{reg: reg, model: model, engine: engine, bus: bus, location: location}
}

// Load returns the module's instance, or absent. It never returns an error:
// a terminal instantiation failure leaves the entry in the error state and
// resolves absent, so dependents can decide for themselves whether to cope.
// Criticality affects only the phase chain (see LoadAll), not this contract.
func (l *Loader) Load(ctx context.Context, name string) (any, bool) {
	v, ok, _ := l.load(ctx, name)
	return v, ok
}

// LoadAll drives the load phase across a resolved order. It aborts only
// when a critical module's instantiation fails terminally; every other
// failure leaves its module absent and the chain moving.
func (l *Loader) LoadAll(ctx context.Context, order []string) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("▶️ Load phase starting.", "modules", len(order))
	for _, name := range order {
		if _, _, err := l.load(ctx, name); err != nil {
			logger.Error("Load phase aborted by critical module failure.", "module", name, "error", err)
			return err
		}
	}
	logger.Info("Load phase finished.")
	return nil
}

func (l *Loader) load(ctx context.Context, name string) (any, bool, error) {
	logger := ctxlog.FromContext(ctx)

	entry, ok := l.reg.Get(name)
	if !ok {
		logger.Warn("Load requested for unknown module.", "module", name)
		return nil, false, nil
	}
	if inst, loaded := entry.Instance(); loaded {
		return inst, true, nil
	}
	if entry.Factory() == nil {
		logger.Debug("Module has no factory, nothing to load.", "module", name)
		return nil, false, nil
	}
	if loc := entry.Location(); loc != module.LocationShared && loc != l.location {
		logger.Debug("Skipping module outside this runtime's location.",
			"module", name, "module_location", loc.String(), "runtime_location", l.location.String())
		return nil, false, nil
	}

	if !l.reg.BeginLoad(name) {
		err := fmt.Errorf("circular dependency detected: load of module %q re-entered while already in flight", name)
		entry.SetError(err.Error())
		logger.Error("Runtime-reentrant module load.", "module", name, "error", err)
		l.bus.Publish(ctx, events.Event{
			Topic:  events.TopicRuntimeError,
			Module: name,
			Phase:  module.PhaseLoad,
			Err:    err,
		})
		return nil, false, nil
	}
	defer l.reg.EndLoad(name)

	lctx := ctx
	if desc := l.model.Descriptor(name); desc != nil && len(desc.Options) > 0 {
		lctx = module.WithOptions(ctx, desc.Options)
	}

	var built any
	op := func(c context.Context) error {
		v, err := entry.Factory()(c)
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("module factory returned a nil instance")
		}
		built = v
		return nil
	}
	onSuccess := func(c context.Context) {
		entry.StoreInstance(built)
		entry.SetState(registry.StateLoaded)
		entry.ClearError()
		ctxlog.FromContext(c).Info("✅ Module loaded.", "module", name)
		l.bus.Publish(c, events.Event{Topic: events.TopicModuleLoaded, Module: name, Phase: module.PhaseLoad})
	}

	outcome, err := l.engine.Execute(lctx, op, onSuccess, name, module.PhaseLoad)
	if outcome == retry.OutcomeDone {
		return built, true, nil
	}
	// Queued, deferred, or failed: the value is absent either way. err is
	// non-nil only for a critical terminal failure, which LoadAll turns
	// into a chain abort.
	return nil, false, err
}
