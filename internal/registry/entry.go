package registry

import (
	"sync"

	"github.com/vk/modkit/module"
)

// State is one point in a module's lifecycle machine. Transitions run
// registered→loaded→initialized→started→stopped, or sideways to error (a
// phase operation exhausted its retries) and recovered (a deferred attempt
// succeeded on the recovery pass).
type State string

const (
	StateRegistered  State = "registered"
	StateLoaded      State = "loaded"
	StateInitialized State = "initialized"
	StateStarted     State = "started"
	StateStopped     State = "stopped"
	StateError       State = "error"
	StateRecovered   State = "recovered"
)

// Entry is the registry's record for one module. All accessors are safe for
// concurrent use; background retries mutate entries off the main chain.
type Entry struct {
	name     string
	factory  module.Factory
	location module.Location

	mu          sync.Mutex
	instance    any
	hasInstance bool
	caps        module.Capabilities
	state       State
	lastErr     string
}

// Name returns the module's normalized dot-path name.
func (e *Entry) Name() string { return e.name }

// Factory returns the module's loadable handle.
func (e *Entry) Factory() module.Factory { return e.factory }

// Location returns the module's declared location affinity.
func (e *Entry) Location() module.Location { return e.location }

// Instance returns the loaded value, if the module has been loaded.
func (e *Entry) Instance() (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instance, e.hasInstance
}

// StoreInstance records the loaded value and probes its lifecycle
// capabilities exactly once.
func (e *Entry) StoreInstance(v any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.instance = v
	e.hasInstance = true
	e.caps = module.ProbeCapabilities(v)
}

// Capabilities returns the capability flags probed at store time.
func (e *Entry) Capabilities() module.Capabilities {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.caps
}

// State returns the entry's current lifecycle state.
func (e *Entry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetState moves the entry to the given state.
func (e *Entry) SetState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

// LastError returns the most recent failure message, or "" when clear.
func (e *Entry) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// SetError records a failure message.
func (e *Entry) SetError(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = msg
}

// ClearError wipes the recorded failure message.
func (e *Entry) ClearError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = ""
}
