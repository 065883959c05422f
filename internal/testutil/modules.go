package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/modkit/module"
)

// Recorder is a module value that records its lifecycle invocations and can
// be told to fail individual phases. All methods are safe for concurrent
// use since background retries may drive a Recorder off the main chain.
type Recorder struct {
	Name      string
	FailInit  bool
	FailStart bool
	FailStop  bool

	mu       sync.Mutex
	calls    []string
	failures []module.Phase
}

// Init implements module.Initializer.
func (r *Recorder) Init(ctx context.Context) error {
	r.record("init")
	if r.FailInit {
		return fmt.Errorf("%s: init failed", r.Name)
	}
	return nil
}

// Start implements module.Starter.
func (r *Recorder) Start(ctx context.Context) error {
	r.record("start")
	if r.FailStart {
		return fmt.Errorf("%s: start failed", r.Name)
	}
	return nil
}

// Stop implements module.Stopper.
func (r *Recorder) Stop(ctx context.Context) error {
	r.record("stop")
	if r.FailStop {
		return fmt.Errorf("%s: stop failed", r.Name)
	}
	return nil
}

// OnFailure implements module.FailureHandler.
func (r *Recorder) OnFailure(ctx context.Context, phase module.Phase, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, phase)
}

func (r *Recorder) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

// Calls returns a snapshot of the lifecycle methods invoked so far.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns how many times the named lifecycle method ran.
func (r *Recorder) CallCount(call string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == call {
			n++
		}
	}
	return n
}

// Failures returns a snapshot of the phases OnFailure was invoked for.
func (r *Recorder) Failures() []module.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]module.Phase, len(r.failures))
	copy(out, r.failures)
	return out
}

// RecorderFactory returns a factory producing the given Recorder.
func RecorderFactory(r *Recorder) module.Factory {
	return func(ctx context.Context) (any, error) {
		return r, nil
	}
}

// FailingFactory returns a factory that always fails with the given error.
func FailingFactory(err error) module.Factory {
	return func(ctx context.Context) (any, error) {
		return nil, err
	}
}

// CountingFactory wraps a factory and counts its invocations.
type CountingFactory struct {
	mu    sync.Mutex
	count int
	inner module.Factory
}

// NewCountingFactory wraps the given factory.
func NewCountingFactory(inner module.Factory) *CountingFactory {
	return &CountingFactory{inner: inner}
}

// Factory returns the counting wrapper.
func (c *CountingFactory) Factory() module.Factory {
	return func(ctx context.Context) (any, error) {
		c.mu.Lock()
		c.count++
		c.mu.Unlock()
		return c.inner(ctx)
	}
}

// Count returns how many times the factory ran.
func (c *CountingFactory) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
