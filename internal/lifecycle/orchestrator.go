// Package lifecycle drives initialized modules through their Init, Start,
// and Stop phases in dependency order.
//
// Phases run strictly sequentially over the resolved order; the same order
// is reused for Init and Start so Init always precedes Start across any
// dependency edge. A module is skipped — never errored — when it has no
// entry, no instance, an unsatisfied state precondition, or no capability
// for the phase. Only an explicit critical-module rejection aborts a phase
// chain; any other fault surfacing at the chain level is caught, logged,
// and treated as "continue".
package lifecycle

import (
	"context"
	"fmt"

	"github.com/vk/modkit/internal/ctxlog"
	"github.com/vk/modkit/internal/registry"
	"github.com/vk/modkit/internal/retry"
	"github.com/vk/modkit/module"
)

// phaseSpec binds one lifecycle phase to its state machine edge.
type phaseSpec struct {
	precondition registry.State
	success      registry.State
}

var phases = map[module.Phase]phaseSpec{
	module.PhaseInit:  {precondition: registry.StateLoaded, success: registry.StateInitialized},
	module.PhaseStart: {precondition: registry.StateInitialized, success: registry.StateStarted},
	module.PhaseStop:  {precondition: registry.StateStarted, success: registry.StateStopped},
}

// Orchestrator sequences phase chains over the shared registry.
type Orchestrator struct {
	reg    *registry.Registry
	engine *retry.Engine
}

// New wires an Orchestrator against the registry and retry engine.
func New(reg *registry.Registry, engine *retry.Engine) *Orchestrator {
	return &Orchestrator{reg: reg, engine: engine}
}

// RunPhase drives one lifecycle phase across the given module order. The
// returned error is non-nil only when a critical module failed terminally,
// in which case the remaining modules of this chain were not visited.
func (o *Orchestrator) RunPhase(ctx context.Context, phase module.Phase, order []string) error {
	spec, ok := phases[phase]
	if !ok {
		return fmt.Errorf("unknown lifecycle phase %q", phase)
	}
	logger := ctxlog.FromContext(ctx)
	logger.Info("▶️ Phase starting.", "phase", phase, "modules", len(order))

	for _, name := range order {
		if err := o.runModule(ctx, phase, spec, name); err != nil {
			logger.Error("Phase chain aborted by critical module failure.", "phase", phase, "module", name, "error", err)
			return err
		}
	}

	logger.Info("Phase finished.", "phase", phase)
	return nil
}

// runModule executes one module's slot in the chain. It returns an error
// only for a critical terminal failure; unexpected chain-level faults are
// contained here so the chain keeps moving.
func (o *Orchestrator) runModule(ctx context.Context, phase module.Phase, spec phaseSpec, name string) (criticalErr error) {
	logger := ctxlog.FromContext(ctx).With("module", name, "phase", phase)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Unexpected fault in phase chain, continuing with next module.", "panic", r)
			criticalErr = nil
		}
	}()

	entry, ok := o.reg.Get(name)
	if !ok {
		logger.Debug("Skipping: no registry entry.")
		return nil
	}
	inst, ok := entry.Instance()
	if !ok {
		logger.Debug("Skipping: module has no instance.")
		return nil
	}
	if state := entry.State(); state != spec.precondition {
		logger.Debug("Skipping: state precondition not met.", "state", state, "want", spec.precondition)
		return nil
	}
	if !entry.Capabilities().Has(phase) {
		logger.Debug("Skipping: module does not implement this phase.")
		return nil
	}

	op, err := phaseOperation(inst, phase)
	if err != nil {
		logger.Debug("Skipping: no operation for phase.", "error", err)
		return nil
	}
	onSuccess := func(c context.Context) {
		entry.SetState(spec.success)
		entry.ClearError()
		ctxlog.FromContext(c).Info("✅ Module phase complete.", "module", name, "phase", phase)
	}

	_, err = o.engine.Execute(ctx, op, onSuccess, name, phase)
	return err
}

// phaseOperation adapts the instance's capability method into a retryable
// operation.
func phaseOperation(inst any, phase module.Phase) (retry.Operation, error) {
	switch phase {
	case module.PhaseInit:
		v, ok := inst.(module.Initializer)
		if !ok {
			return nil, fmt.Errorf("instance is not an Initializer")
		}
		return v.Init, nil
	case module.PhaseStart:
		v, ok := inst.(module.Starter)
		if !ok {
			return nil, fmt.Errorf("instance is not a Starter")
		}
		return v.Start, nil
	case module.PhaseStop:
		v, ok := inst.(module.Stopper)
		if !ok {
			return nil, fmt.Errorf("instance is not a Stopper")
		}
		return v.Stop, nil
	default:
		return nil, fmt.Errorf("phase %q has no capability method", phase)
	}
}
