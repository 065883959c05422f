// This file contains the logic for translating HCL schema structs (from
// schema.go) into the format-agnostic configuration model defined in
// model.go.

package config

import (
	"fmt"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/modkit/module"
)

var retryPhases = map[string]module.Phase{
	"load":  module.PhaseLoad,
	"init":  module.PhaseInit,
	"start": module.PhaseStart,
	"stop":  module.PhaseStop,
}

var bucketNames = map[string]bool{
	BucketGeneral:    true,
	BucketBackground: true,
	"load":           true,
	"init":           true,
	"start":          true,
	"stop":           true,
}

// translateOverride converts the shared retry fields of a retry or
// retry_defaults block into a partial policy layer.
func translateOverride(maxAttempts *int, waitMS *int64, backoffStr *string, jitter, warn *bool, owner string) (*RetryOverride, error) {
	ov := &RetryOverride{
		MaxAttempts: maxAttempts,
		Jitter:      jitter,
		Warn:        warn,
	}
	if maxAttempts != nil && *maxAttempts < 1 {
		return nil, fmt.Errorf("%w: %s: max_attempts must be at least 1, got %d", ErrInvalid, owner, *maxAttempts)
	}
	if waitMS != nil {
		if *waitMS < 0 {
			return nil, fmt.Errorf("%w: %s: wait_ms must not be negative, got %d", ErrInvalid, owner, *waitMS)
		}
		wait := time.Duration(*waitMS) * time.Millisecond
		ov.Wait = &wait
	}
	if backoffStr != nil {
		switch BackoffStrategy(*backoffStr) {
		case BackoffExponential, BackoffFixed:
			strategy := BackoffStrategy(*backoffStr)
			ov.Backoff = &strategy
		default:
			return nil, fmt.Errorf("%w: %s: unknown backoff strategy %q (want exponential or fixed)", ErrInvalid, owner, *backoffStr)
		}
	}
	return ov, nil
}

// translateModule converts a `module` block into a descriptor.
func translateModule(b *ModuleBlock) (*ModuleDescriptor, error) {
	loc, err := module.ParseLocation(b.Location)
	if err != nil {
		return nil, fmt.Errorf("%w: module %q: %v", ErrInvalid, b.Name, err)
	}

	deps := make([]string, 0, len(b.DependsOn))
	for _, dep := range b.DependsOn {
		deps = append(deps, NormalizeName(dep))
	}

	d := &ModuleDescriptor{
		Name:      NormalizeName(b.Name),
		DependsOn: deps,
		Critical:  b.Critical,
		Location:  loc,
		Disabled:  b.Disabled,
		Retry:     make(map[module.Phase]*RetryOverride),
	}
	if d.Name == "" {
		return nil, fmt.Errorf("%w: module block with empty name", ErrInvalid)
	}

	for _, rb := range b.Retry {
		phase, ok := retryPhases[rb.Phase]
		if !ok {
			return nil, fmt.Errorf("%w: module %q: unknown retry phase %q", ErrInvalid, b.Name, rb.Phase)
		}
		if _, dup := d.Retry[phase]; dup {
			return nil, fmt.Errorf("%w: module %q: duplicate retry block for phase %q", ErrInvalid, b.Name, rb.Phase)
		}
		owner := fmt.Sprintf("module %q retry %q", b.Name, rb.Phase)
		ov, err := translateOverride(rb.MaxAttempts, rb.WaitMS, rb.Backoff, rb.Jitter, rb.Warn, owner)
		if err != nil {
			return nil, err
		}
		d.Retry[phase] = ov
	}

	if b.Options != nil && b.Options.Body != nil {
		opts, err := evalOptionsBody(b)
		if err != nil {
			return nil, err
		}
		d.Options = opts
	}
	return d, nil
}

// evalOptionsBody evaluates the attributes of a module's options block into
// concrete cty values. Option expressions must be self-contained constants.
func evalOptionsBody(b *ModuleBlock) (map[string]cty.Value, error) {
	attrs, diags := b.Options.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: module %q: invalid options block: %v", ErrInvalid, b.Name, diags)
	}
	opts := make(map[string]cty.Value, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("%w: module %q: option %q: %v", ErrInvalid, b.Name, name, diags)
		}
		opts[name] = val
	}
	return opts, nil
}

// applySettings folds a `settings` block into the model's settings.
func applySettings(s *Settings, b *SettingsBlock) error {
	if b.Strict != nil {
		s.Strict = *b.Strict
	}
	if b.RecoveryQueue != nil {
		s.RecoveryQueue = *b.RecoveryQueue
	}
	if b.RetryCriticalInBackground != nil {
		s.RetryCriticalInBackground = *b.RetryCriticalInBackground
	}
	if b.OnDuplicate != nil {
		switch DuplicatePolicy(*b.OnDuplicate) {
		case DuplicateSkip, DuplicateReject:
			s.OnDuplicate = DuplicatePolicy(*b.OnDuplicate)
		default:
			return fmt.Errorf("%w: settings: unknown on_duplicate policy %q (want skip or reject)", ErrInvalid, *b.OnDuplicate)
		}
	}
	for _, rd := range b.RetryDefaults {
		if !bucketNames[rd.Bucket] {
			return fmt.Errorf("%w: settings: unknown retry_defaults bucket %q", ErrInvalid, rd.Bucket)
		}
		if _, dup := s.Buckets[rd.Bucket]; dup {
			return fmt.Errorf("%w: settings: duplicate retry_defaults bucket %q", ErrInvalid, rd.Bucket)
		}
		owner := fmt.Sprintf("retry_defaults %q", rd.Bucket)
		ov, err := translateOverride(rd.MaxAttempts, rd.WaitMS, rd.Backoff, rd.Jitter, rd.Warn, owner)
		if err != nil {
			return err
		}
		s.Buckets[rd.Bucket] = ov
	}
	return nil
}
