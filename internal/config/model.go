package config

import (
	"errors"
	"strings"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/modkit/module"
)

// ErrInvalid marks a malformed descriptor or settings value. Under strict
// mode it is fatal; otherwise the offending block is logged and skipped.
var ErrInvalid = errors.New("invalid configuration")

// BackoffStrategy selects how the retry engine grows wait times.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffFixed       BackoffStrategy = "fixed"
)

// DuplicatePolicy controls what happens when the same module name is
// registered or configured twice.
type DuplicatePolicy string

const (
	DuplicateSkip   DuplicatePolicy = "skip"
	DuplicateReject DuplicatePolicy = "reject"
)

// Bucket names for global retry defaults. The general bucket applies to all
// foreground attempts, the background bucket once an operation escalates,
// and the phase buckets to foreground attempts of that phase only.
const (
	BucketGeneral    = "general"
	BucketBackground = "background"
)

// RetryOptions is a fully resolved retry policy for one attempt cycle.
type RetryOptions struct {
	Wait        time.Duration
	MaxAttempts int
	Warn        bool
	Jitter      bool
	Backoff     BackoffStrategy
}

// RetryOverride is one partial layer of retry policy. Nil fields leave the
// lower layer's value untouched.
type RetryOverride struct {
	Wait        *time.Duration
	MaxAttempts *int
	Warn        *bool
	Jitter      *bool
	Backoff     *BackoffStrategy
}

func (o RetryOptions) apply(ov *RetryOverride) RetryOptions {
	if ov == nil {
		return o
	}
	if ov.Wait != nil {
		o.Wait = *ov.Wait
	}
	if ov.MaxAttempts != nil {
		o.MaxAttempts = *ov.MaxAttempts
	}
	if ov.Warn != nil {
		o.Warn = *ov.Warn
	}
	if ov.Jitter != nil {
		o.Jitter = *ov.Jitter
	}
	if ov.Backoff != nil {
		o.Backoff = *ov.Backoff
	}
	return o
}

// DefaultRetryOptions is the built-in lowest layer of the policy merge.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		Wait:        time.Second,
		MaxAttempts: 3,
		Warn:        true,
		Jitter:      false,
		Backoff:     BackoffExponential,
	}
}

// ModuleDescriptor is the agnostic representation of one `module` block.
type ModuleDescriptor struct {
	Name      string
	DependsOn []string
	Critical  bool
	Location  module.Location
	Disabled  bool
	// Retry holds per-phase policy overrides, keyed by lifecycle phase.
	Retry map[module.Phase]*RetryOverride
	// Options carries the evaluated attributes of the module's free-form
	// `options` block, delivered to the factory via the load context.
	Options map[string]cty.Value
}

// Settings is the agnostic representation of the global `settings` block.
type Settings struct {
	Strict                    bool
	RecoveryQueue             bool
	RetryCriticalInBackground bool
	OnDuplicate               DuplicatePolicy
	// Buckets holds global retry defaults keyed by bucket name: "general",
	// "background", or a phase name.
	Buckets map[string]*RetryOverride
}

// Model is the unified, format-agnostic representation of the runtime
// configuration, keyed by normalized module name.
type Model struct {
	Modules  map[string]*ModuleDescriptor
	Settings Settings
}

// NewModel returns an empty model with default settings.
func NewModel() *Model {
	return &Model{
		Modules: make(map[string]*ModuleDescriptor),
		Settings: Settings{
			OnDuplicate: DuplicateSkip,
			Buckets:     make(map[string]*RetryOverride),
		},
	}
}

// NormalizeName canonicalizes a dot-path module name for map keys.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Descriptor returns the descriptor for a module, or nil when the module
// has no configuration (every field then takes its default).
func (m *Model) Descriptor(name string) *ModuleDescriptor {
	return m.Modules[NormalizeName(name)]
}

// Critical reports whether the named module is flagged critical.
func (m *Model) Critical(name string) bool {
	d := m.Descriptor(name)
	return d != nil && d.Critical
}

// DependenciesOf returns the declared dependency list for a module. Modules
// without a descriptor have no declared dependencies.
func (m *Model) DependenciesOf(name string) []string {
	d := m.Descriptor(name)
	if d == nil {
		return nil
	}
	return d.DependsOn
}

// ResolveRetry performs the layered policy merge for one attempt cycle:
// built-in default < general bucket < background-or-phase bucket <
// per-module phase-specific override.
func (m *Model) ResolveRetry(name string, phase module.Phase, background bool) RetryOptions {
	opts := DefaultRetryOptions()
	opts = opts.apply(m.Settings.Buckets[BucketGeneral])
	if background {
		opts = opts.apply(m.Settings.Buckets[BucketBackground])
	} else {
		opts = opts.apply(m.Settings.Buckets[string(phase)])
	}
	if d := m.Descriptor(name); d != nil {
		opts = opts.apply(d.Retry[phase])
	}
	return opts
}
