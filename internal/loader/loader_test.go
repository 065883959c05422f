package loader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/modkit/internal/config"
	"github.com/vk/modkit/internal/ctxlog"
	"github.com/vk/modkit/internal/events"
	"github.com/vk/modkit/internal/recovery"
	"github.com/vk/modkit/internal/registry"
	"github.com/vk/modkit/internal/retry"
	"github.com/vk/modkit/module"
)

type loaderHarness struct {
	ctx    context.Context
	reg    *registry.Registry
	model  *config.Model
	bus    *events.Bus
	loader *Loader
}

func newLoaderHarness(t *testing.T, mutate func(*config.Model)) *loaderHarness {
	t.Helper()

	model := config.NewModel()
	wait := time.Millisecond
	warn := false
	one := 1
	model.Settings.Buckets[config.BucketGeneral] = &config.RetryOverride{Wait: &wait, Warn: &warn, MaxAttempts: &one}
	if mutate != nil {
		mutate(model)
	}

	pool, err := ants.NewPool(2)
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	bus := events.NewBus()
	reg := registry.New()
	queue := recovery.New(bus, nil)
	engine := retry.New(reg, model, queue, bus, pool, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &loaderHarness{
		ctx:    ctxlog.WithLogger(context.Background(), logger),
		reg:    reg,
		model:  model,
		bus:    bus,
		loader: New(reg, model, engine, bus, module.LocationServer),
	}
}

func TestLoadMemoizesFactory(t *testing.T) {
	h := newLoaderHarness(t, nil)

	calls := 0
	require.NoError(t, h.reg.Register(h.ctx, "m", func(context.Context) (any, error) {
		calls++
		return "instance", nil
	}, module.LocationShared, config.DuplicateSkip))

	v1, ok := h.loader.Load(h.ctx, "m")
	require.True(t, ok)
	v2, ok := h.loader.Load(h.ctx, "m")
	require.True(t, ok)

	assert.Equal(t, "instance", v1)
	assert.Equal(t, "instance", v2)
	assert.Equal(t, 1, calls, "factory must run at most once per process lifetime")

	entry, _ := h.reg.Get("m")
	assert.Equal(t, registry.StateLoaded, entry.State())
}

func TestLoadUnknownModule(t *testing.T) {
	h := newLoaderHarness(t, nil)
	v, ok := h.loader.Load(h.ctx, "nobody")
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestLoadSkipsOtherLocation(t *testing.T) {
	h := newLoaderHarness(t, nil)

	calls := 0
	require.NoError(t, h.reg.Register(h.ctx, "ui", func(context.Context) (any, error) {
		calls++
		return "ui", nil
	}, module.LocationClient, config.DuplicateSkip))

	_, ok := h.loader.Load(h.ctx, "ui")
	assert.False(t, ok, "client modules must not load in a server runtime")
	assert.Zero(t, calls)
}

func TestLoadFailureLeavesModuleAbsent(t *testing.T) {
	h := newLoaderHarness(t, nil)
	require.NoError(t, h.reg.Register(h.ctx, "m", func(context.Context) (any, error) {
		return nil, errors.New("boom")
	}, module.LocationShared, config.DuplicateSkip))

	v, ok := h.loader.Load(h.ctx, "m")
	assert.False(t, ok)
	assert.Nil(t, v)

	entry, _ := h.reg.Get("m")
	assert.Equal(t, registry.StateError, entry.State())
	assert.Equal(t, "boom", entry.LastError())
}

func TestLoadRejectsNilInstance(t *testing.T) {
	h := newLoaderHarness(t, nil)
	require.NoError(t, h.reg.Register(h.ctx, "m", func(context.Context) (any, error) {
		return nil, nil
	}, module.LocationShared, config.DuplicateSkip))

	_, ok := h.loader.Load(h.ctx, "m")
	assert.False(t, ok)

	entry, _ := h.reg.Get("m")
	assert.Contains(t, entry.LastError(), "nil instance")
}

func TestLoadDetectsReentrantLoad(t *testing.T) {
	h := newLoaderHarness(t, nil)

	var sunk []events.Event
	h.bus.Subscribe(events.TopicRuntimeError, func(_ context.Context, ev events.Event) {
		sunk = append(sunk, ev)
	})

	calls := 0
	require.NoError(t, h.reg.Register(h.ctx, "m", func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			// A dependency chain looping back to the module mid-load.
			if _, ok := h.loader.Load(ctx, "m"); ok {
				return nil, errors.New("reentrant load unexpectedly produced a value")
			}
			return nil, errors.New("dependency cycle at runtime")
		}
		return "recovered", nil
	}, module.LocationShared, config.DuplicateSkip))

	_, ok := h.loader.Load(h.ctx, "m")
	require.False(t, ok)

	// Two error events: the reentrant load itself, then the outer load's
	// terminal failure.
	require.Len(t, sunk, 2)
	assert.Equal(t, module.PhaseLoad, sunk[0].Phase)
	assert.Contains(t, sunk[0].Err.Error(), "circular dependency")
	var perr *retry.PhaseError
	require.ErrorAs(t, sunk[1].Err, &perr)

	// The in-flight marker is cleared on failure, so a later load succeeds.
	v, ok := h.loader.Load(h.ctx, "m")
	require.True(t, ok)
	assert.Equal(t, "recovered", v)
}

func TestLoadDeliversOptions(t *testing.T) {
	h := newLoaderHarness(t, func(m *config.Model) {
		m.Modules["m"] = &config.ModuleDescriptor{
			Name:    "m",
			Options: map[string]cty.Value{"dsn": cty.StringVal("postgres://localhost/app")},
		}
	})

	var seen map[string]cty.Value
	require.NoError(t, h.reg.Register(h.ctx, "m", func(ctx context.Context) (any, error) {
		seen = module.Options(ctx)
		return "m", nil
	}, module.LocationShared, config.DuplicateSkip))

	_, ok := h.loader.Load(h.ctx, "m")
	require.True(t, ok)
	require.NotNil(t, seen)
	assert.True(t, seen["dsn"].RawEquals(cty.StringVal("postgres://localhost/app")))
}

func TestLoadPublishesLoadedEvent(t *testing.T) {
	h := newLoaderHarness(t, nil)

	var loaded []string
	h.bus.Subscribe(events.TopicModuleLoaded, func(_ context.Context, ev events.Event) {
		loaded = append(loaded, ev.Module)
	})

	require.NoError(t, h.reg.Register(h.ctx, "m", func(context.Context) (any, error) { return "m", nil }, module.LocationShared, config.DuplicateSkip))
	_, ok := h.loader.Load(h.ctx, "m")
	require.True(t, ok)

	// Cache hits must not re-announce the module.
	h.loader.Load(h.ctx, "m")
	assert.Equal(t, []string{"m"}, loaded)
}

func TestLoadAll(t *testing.T) {
	t.Run("continues past non-critical failures", func(t *testing.T) {
		h := newLoaderHarness(t, nil)
		require.NoError(t, h.reg.Register(h.ctx, "bad", func(context.Context) (any, error) {
			return nil, errors.New("boom")
		}, module.LocationShared, config.DuplicateSkip))
		require.NoError(t, h.reg.Register(h.ctx, "good", func(context.Context) (any, error) {
			return "good", nil
		}, module.LocationShared, config.DuplicateSkip))

		require.NoError(t, h.loader.LoadAll(h.ctx, []string{"bad", "good"}))

		good, _ := h.reg.Get("good")
		assert.Equal(t, registry.StateLoaded, good.State())
	})

	t.Run("aborts on a critical failure", func(t *testing.T) {
		h := newLoaderHarness(t, func(m *config.Model) {
			m.Modules["bad"] = &config.ModuleDescriptor{Name: "bad", Critical: true}
		})
		require.NoError(t, h.reg.Register(h.ctx, "bad", func(context.Context) (any, error) {
			return nil, errors.New("boom")
		}, module.LocationShared, config.DuplicateSkip))
		called := false
		require.NoError(t, h.reg.Register(h.ctx, "after", func(context.Context) (any, error) {
			called = true
			return "after", nil
		}, module.LocationShared, config.DuplicateSkip))

		err := h.loader.LoadAll(h.ctx, []string{"bad", "after"})
		var perr *retry.PhaseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "bad", perr.Module)
		assert.False(t, called, "the chain must stop at the critical failure")
	})
}
