package config

import (
	"github.com/hashicorp/hcl/v2"
)

// --- HCL file structures ---

// OptionsBlock represents the content of the free-form 'options' block
// within a module block.
type OptionsBlock struct {
	Body hcl.Body `hcl:",remain"`
}

// RetryBlock represents a `retry` block inside a module block. The label is
// the lifecycle phase the override applies to.
type RetryBlock struct {
	Phase       string  `hcl:"phase,label"`
	MaxAttempts *int    `hcl:"max_attempts,optional"`
	WaitMS      *int64  `hcl:"wait_ms,optional"`
	Backoff     *string `hcl:"backoff,optional"`
	Jitter      *bool   `hcl:"jitter,optional"`
	Warn        *bool   `hcl:"warn,optional"`
}

// ModuleBlock represents a `module` block from a runtime configuration
// file. The label is the module's dot-path name.
type ModuleBlock struct {
	Name      string        `hcl:"name,label"`
	DependsOn []string      `hcl:"depends_on,optional"`
	Critical  bool          `hcl:"critical,optional"`
	Location  string        `hcl:"location,optional"`
	Disabled  bool          `hcl:"disabled,optional"`
	Retry     []*RetryBlock `hcl:"retry,block"`
	Options   *OptionsBlock `hcl:"options,block"`
}

// RetryDefaultsBlock represents a `retry_defaults` block inside the settings
// block. The label is the bucket name ("general", "background", or a phase).
type RetryDefaultsBlock struct {
	Bucket      string  `hcl:"bucket,label"`
	MaxAttempts *int    `hcl:"max_attempts,optional"`
	WaitMS      *int64  `hcl:"wait_ms,optional"`
	Backoff     *string `hcl:"backoff,optional"`
	Jitter      *bool   `hcl:"jitter,optional"`
	Warn        *bool   `hcl:"warn,optional"`
}

// SettingsBlock represents the global `settings` block.
type SettingsBlock struct {
	Strict                    *bool                 `hcl:"strict,optional"`
	RecoveryQueue             *bool                 `hcl:"recovery_queue,optional"`
	RetryCriticalInBackground *bool                 `hcl:"retry_critical_in_background,optional"`
	OnDuplicate               *string               `hcl:"on_duplicate,optional"`
	RetryDefaults             []*RetryDefaultsBlock `hcl:"retry_defaults,block"`
}

// File represents the top-level structure of one runtime configuration file.
type File struct {
	Modules  []*ModuleBlock `hcl:"module,block"`
	Settings *SettingsBlock `hcl:"settings,block"`
}
