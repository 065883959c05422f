package modkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/vk/modkit/internal/config"
	"github.com/vk/modkit/internal/ctxlog"
	"github.com/vk/modkit/internal/events"
	"github.com/vk/modkit/internal/health"
	"github.com/vk/modkit/internal/lifecycle"
	"github.com/vk/modkit/internal/loader"
	"github.com/vk/modkit/internal/metrics"
	"github.com/vk/modkit/internal/recovery"
	"github.com/vk/modkit/internal/registry"
	"github.com/vk/modkit/internal/resolver"
	"github.com/vk/modkit/internal/retry"
	"github.com/vk/modkit/internal/source"
	"github.com/vk/modkit/module"
)

// Runtime owns the full lifecycle machinery for one process side. Exactly
// one Runtime should exist per process; it is constructed explicitly and
// passed by reference, never looked up globally.
type Runtime struct {
	cfg    Config
	logger *slog.Logger
	root   *module.Node

	model  *config.Model
	reg    *registry.Registry
	bus    *events.Bus
	pool   *ants.Pool
	queue  *recovery.Queue
	engine *retry.Engine
	loader *loader.Loader
	orch   *lifecycle.Orchestrator
	health *health.Server

	order   []string
	started atomic.Bool
	stopped atomic.Bool
	unsubs  []func()
}

// New constructs a fully wired Runtime with its own isolated logger. The
// discovery tree is walked later, during Start.
func New(outW io.Writer, cfg Config, root *module.Node) (*Runtime, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model := config.NewModel()
	if cfg.ConfigPath != "" {
		loaded, err := config.Load(ctx, cfg.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		model = loaded
	}

	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 4
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create background retry pool: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics != nil {
		m = metrics.New(cfg.Metrics)
	}

	bus := events.NewBus()
	reg := registry.New()
	queue := recovery.New(bus, m)
	engine := retry.New(reg, model, queue, bus, pool, m)

	rt := &Runtime{
		cfg:    cfg,
		logger: logger,
		root:   root,
		model:  model,
		reg:    reg,
		bus:    bus,
		pool:   pool,
		queue:  queue,
		engine: engine,
		loader: loader.New(reg, model, engine, bus, cfg.Location),
		orch:   lifecycle.New(reg, engine),
	}

	if cfg.OnError != nil {
		rt.unsubs = append(rt.unsubs, bus.Subscribe(events.TopicRuntimeError, func(_ context.Context, ev events.Event) {
			cfg.OnError(ev.Module, ev.Phase, ev.Err)
		}))
	}
	if cfg.OnModuleLoaded != nil {
		rt.unsubs = append(rt.unsubs, bus.Subscribe(events.TopicModuleLoaded, func(_ context.Context, ev events.Event) {
			cfg.OnModuleLoaded(ev.Module)
		}))
	}
	if cfg.HealthcheckPort > 0 {
		rt.health = health.New(cfg.HealthcheckPort)
	}

	logger.Debug("Runtime wired.", "location", cfg.Location.String(), "workers", workers)
	return rt, nil
}

// Start runs the bootstrap sequence: discover the tree, resolve the
// dependency order, then drive Load, Init, and Start across it and drain
// the recovery queue once. It returns an error when a critical module
// fails terminally; the remaining phase chain is not run, but the process
// is otherwise untouched.
func (r *Runtime) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("runtime already started")
	}
	ctx = ctxlog.WithLogger(ctx, r.logger)
	r.logger.Info("🚀 Module runtime starting.", "location", r.cfg.Location.String())

	if r.health != nil {
		r.health.Start(ctx)
	}

	if err := source.Discover(ctx, r.root, r.cfg.Location, r.model, r.reg); err != nil {
		return fmt.Errorf("module discovery failed: %w", err)
	}

	names := r.reg.Names()
	order, err := resolver.Resolve(ctx, names, r.model.DependenciesOf, r.model.Settings.Strict)
	if err != nil {
		if errors.Is(err, resolver.ErrCycle) && !r.model.Settings.Strict {
			r.logger.Error("Dependency cycle detected, no modules will be run.", "error", err)
			order = nil
		} else {
			return fmt.Errorf("failed to resolve module order: %w", err)
		}
	}
	r.order = order
	r.logger.Debug("Module order resolved.", "order", order)

	if err := r.loader.LoadAll(ctx, order); err != nil {
		return err
	}
	if err := r.orch.RunPhase(ctx, module.PhaseInit, order); err != nil {
		return err
	}
	if err := r.orch.RunPhase(ctx, module.PhaseStart, order); err != nil {
		return err
	}
	r.queue.Drain(ctx)

	if r.health != nil {
		r.health.SetReady(true)
	}
	r.logger.Info("🏁 Module runtime started.", "modules", len(order))
	return nil
}

// Stop drives the Stop phase across loaded modules in reverse dependency
// order, then releases the runtime's subscriptions, health server, and
// worker pool. Calling Stop before Start, or twice, is a no-op.
func (r *Runtime) Stop(ctx context.Context) error {
	if !r.started.Load() || !r.stopped.CompareAndSwap(false, true) {
		return nil
	}
	ctx = ctxlog.WithLogger(ctx, r.logger)
	r.logger.Info("🛑 Module runtime stopping.")

	reversed := make([]string, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		reversed = append(reversed, r.order[i])
	}
	err := r.orch.RunPhase(ctx, module.PhaseStop, reversed)

	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
	if r.health != nil {
		if closeErr := r.health.Close(ctx); err == nil {
			err = closeErr
		}
	}
	r.pool.Release()

	r.logger.Info("Module runtime stopped.")
	return err
}

// Load returns the named module's instance, loading it on first use. The
// value is absent when the module is unknown, excluded for this side, mid
// recovery, or failed to instantiate.
func (r *Runtime) Load(ctx context.Context, name string) (any, bool) {
	return r.loader.Load(ctxlog.WithLogger(ctx, r.logger), name)
}

// ModuleState reports the named module's lifecycle state.
func (r *Runtime) ModuleState(name string) (string, bool) {
	entry, ok := r.reg.Get(name)
	if !ok {
		return "", false
	}
	return string(entry.State()), true
}

// ModuleError reports the named module's last failure message, if any.
func (r *Runtime) ModuleError(name string) (string, bool) {
	entry, ok := r.reg.Get(name)
	if !ok {
		return "", false
	}
	return entry.LastError(), true
}

// Order returns the resolved module order of the last Start.
func (r *Runtime) Order() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
