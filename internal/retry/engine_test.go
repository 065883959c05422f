package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/modkit/internal/config"
	"github.com/vk/modkit/internal/ctxlog"
	"github.com/vk/modkit/internal/events"
	"github.com/vk/modkit/internal/recovery"
	"github.com/vk/modkit/internal/registry"
	"github.com/vk/modkit/module"
)

// engineHarness bundles an Engine with its collaborators, configured with
// millisecond-scale waits so retry loops resolve quickly.
type engineHarness struct {
	ctx    context.Context
	reg    *registry.Registry
	model  *config.Model
	queue  *recovery.Queue
	bus    *events.Bus
	engine *Engine
}

func newEngineHarness(t *testing.T, mutate func(*config.Model)) *engineHarness {
	t.Helper()

	model := config.NewModel()
	wait := time.Millisecond
	warn := false
	model.Settings.Buckets[config.BucketGeneral] = &config.RetryOverride{Wait: &wait, Warn: &warn}
	if mutate != nil {
		mutate(model)
	}

	pool, err := ants.NewPool(2)
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	bus := events.NewBus()
	reg := registry.New()
	queue := recovery.New(bus, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &engineHarness{
		ctx:    ctxlog.WithLogger(context.Background(), logger),
		reg:    reg,
		model:  model,
		queue:  queue,
		bus:    bus,
		engine: New(reg, model, queue, bus, pool, nil),
	}
}

func (h *engineHarness) register(t *testing.T, name string, instance any) *registry.Entry {
	t.Helper()
	require.NoError(t, h.reg.Register(h.ctx, name, func(context.Context) (any, error) { return instance, nil }, module.LocationShared, config.DuplicateSkip))
	entry, _ := h.reg.Get(name)
	if instance != nil {
		entry.StoreInstance(instance)
	}
	return entry
}

func markCritical(model *config.Model, name string) {
	model.Modules[name] = &config.ModuleDescriptor{Name: name, Critical: true}
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	h := newEngineHarness(t, nil)

	completed := false
	outcome, err := h.engine.Execute(h.ctx, func(context.Context) error { return nil },
		func(context.Context) { completed = true }, "m", module.PhaseInit)

	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, outcome)
	assert.True(t, completed, "onSuccess must run on the success path")
}

func TestExecuteRetriesCriticalUntilSuccess(t *testing.T) {
	h := newEngineHarness(t, func(m *config.Model) {
		markCritical(m, "m")
	})

	calls := 0
	var observed []int
	h.engine.Observer = func(_ string, _ module.Phase, attempt int, _ error) {
		observed = append(observed, attempt)
	}

	outcome, err := h.engine.Execute(h.ctx, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}, nil, "m", module.PhaseInit)

	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, outcome)
	assert.Equal(t, 3, calls, "critical modules block the chain through every retry")
	assert.Equal(t, []int{1, 2}, observed)
}

func TestExecuteNonCriticalTerminalFailure(t *testing.T) {
	// Without the recovery queue or background pool in play (single
	// attempt), exhaustion is terminal on the calling chain.
	h := newEngineHarness(t, func(m *config.Model) {
		one := 1
		m.Settings.Buckets[config.BucketGeneral].MaxAttempts = &one
	})

	hook := &failureRecorder{}
	entry := h.register(t, "m", hook)

	var sunk []events.Event
	h.bus.Subscribe(events.TopicRuntimeError, func(_ context.Context, ev events.Event) {
		sunk = append(sunk, ev)
	})

	boom := errors.New("boom")
	outcome, err := h.engine.Execute(h.ctx, func(context.Context) error { return boom }, nil, "m", module.PhaseInit)

	require.NoError(t, err, "non-critical failures never reject the chain")
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, registry.StateError, entry.State())
	assert.Equal(t, "boom", entry.LastError())

	require.Len(t, sunk, 1)
	var perr *PhaseError
	require.ErrorAs(t, sunk[0].Err, &perr)
	assert.Equal(t, "m", perr.Module)
	assert.Equal(t, 1, perr.Attempts)
	assert.ErrorIs(t, sunk[0].Err, boom)

	require.Len(t, hook.calls(), 1)
	assert.Equal(t, module.PhaseInit, hook.calls()[0])
}

func TestExecuteCriticalTerminalFailure(t *testing.T) {
	h := newEngineHarness(t, func(m *config.Model) {
		markCritical(m, "m")
		two := 2
		m.Settings.Buckets[config.BucketGeneral].MaxAttempts = &two
		// Escalation paths must stay closed for critical modules even when
		// both are enabled globally.
		m.Settings.RecoveryQueue = true
		m.Settings.RetryCriticalInBackground = true
	})

	boom := errors.New("boom")
	outcome, err := h.engine.Execute(h.ctx, func(context.Context) error { return boom }, nil, "m", module.PhaseInit)

	assert.Equal(t, OutcomeFailed, outcome)
	var perr *PhaseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, h.queue.Len(), "critical modules never land in the recovery queue")
}

func TestExecuteIsolatesPanics(t *testing.T) {
	h := newEngineHarness(t, func(m *config.Model) {
		markCritical(m, "m")
		one := 1
		m.Settings.Buckets[config.BucketGeneral].MaxAttempts = &one
	})

	outcome, err := h.engine.Execute(h.ctx, func(context.Context) error { panic("module bug") }, nil, "m", module.PhaseInit)

	assert.Equal(t, OutcomeFailed, outcome)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in module operation")
}

func TestExecuteQueuesNonCriticalRetries(t *testing.T) {
	h := newEngineHarness(t, func(m *config.Model) {
		m.Settings.RecoveryQueue = true
	})
	entry := h.register(t, "m", struct{}{})

	calls := 0
	completed := false
	outcome, err := h.engine.Execute(h.ctx, func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	}, func(context.Context) { completed = true }, "m", module.PhaseInit)

	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)
	assert.Equal(t, 1, calls, "the chain moves on after the first failure")
	require.Equal(t, 1, h.queue.Len())

	h.queue.Drain(h.ctx)

	assert.Equal(t, 2, calls)
	assert.True(t, completed, "a successful drain attempt completes the operation")
	assert.Equal(t, registry.StateRecovered, entry.State())
	assert.Empty(t, entry.LastError())
}

func TestExecuteQueuedFailureIsTerminal(t *testing.T) {
	h := newEngineHarness(t, func(m *config.Model) {
		m.Settings.RecoveryQueue = true
	})
	entry := h.register(t, "m", struct{}{})

	outcome, err := h.engine.Execute(h.ctx, func(context.Context) error {
		return errors.New("still broken")
	}, nil, "m", module.PhaseStart)

	require.NoError(t, err)
	assert.Equal(t, OutcomeQueued, outcome)

	h.queue.Drain(h.ctx)

	assert.Equal(t, registry.StateError, entry.State())
	assert.Equal(t, "still broken", entry.LastError())
}

func TestExecuteDefersToBackgroundPool(t *testing.T) {
	h := newEngineHarness(t, nil)
	entry := h.register(t, "m", struct{}{})

	var mu sync.Mutex
	calls := 0
	outcome, err := h.engine.Execute(h.ctx, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, func(context.Context) { entry.SetState(registry.StateInitialized) }, "m", module.PhaseInit)

	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, outcome)

	require.Eventually(t, func() bool {
		return entry.State() == registry.StateInitialized
	}, 3*time.Second, 10*time.Millisecond, "background pool must finish the remaining attempts")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
}

// failureRecorder is a module instance that records its failure hook calls.
type failureRecorder struct {
	mu     sync.Mutex
	phases []module.Phase
}

func (f *failureRecorder) OnFailure(_ context.Context, phase module.Phase, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phases = append(f.phases, phase)
}

func (f *failureRecorder) calls() []module.Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]module.Phase(nil), f.phases...)
}
