package module

import (
	"context"

	"github.com/zclconf/go-cty/cty"
)

// optionsKey is an unexported type to prevent collisions with context keys
// from other packages.
type optionsKey struct{}

// WithOptions returns a new context carrying the module's configured option
// values. The runtime attaches these before invoking a Factory.
func WithOptions(ctx context.Context, opts map[string]cty.Value) context.Context {
	return context.WithValue(ctx, optionsKey{}, opts)
}

// Options extracts the module's configured option values from the load
// context. It returns nil when the module has no options block.
func Options(ctx context.Context) map[string]cty.Value {
	opts, _ := ctx.Value(optionsKey{}).(map[string]cty.Value)
	return opts
}
