// Package module defines the public contract between the runtime and the
// components it manages: the lifecycle capability interfaces, the factory
// used to instantiate a module, and the discovery tree a host application
// assembles to tell the runtime what exists.
//
// A module's value may implement any subset of the lifecycle interfaces.
// The runtime probes for them exactly once, when the instance is stored,
// and skips lifecycle phases the value does not support.
package module

import (
	"context"
	"fmt"
	"strings"
)

// Phase names a stage of a module's lifecycle.
type Phase string

const (
	PhaseLoad    Phase = "load"
	PhaseInit    Phase = "init"
	PhaseStart   Phase = "start"
	PhaseStop    Phase = "stop"
	PhaseRuntime Phase = "runtime"
)

// Location declares which side of a deployment a module belongs to. Modules
// marked LocationClient are skipped entirely when the runtime runs
// server-side, and vice versa. LocationShared modules run everywhere.
type Location int

const (
	LocationShared Location = iota
	LocationServer
	LocationClient
)

// String returns the canonical lowercase name for the location.
func (l Location) String() string {
	switch l {
	case LocationServer:
		return "server"
	case LocationClient:
		return "client"
	default:
		return "shared"
	}
}

// ParseLocation converts a configuration string into a Location. The empty
// string is treated as "shared".
func ParseLocation(s string) (Location, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "shared":
		return LocationShared, nil
	case "server":
		return LocationServer, nil
	case "client":
		return LocationClient, nil
	default:
		return LocationShared, fmt.Errorf("unknown location %q (want server, client, or shared)", s)
	}
}

// Factory builds a module's instance. It is invoked at most once per process
// lifetime per module name; the runtime memoizes the returned value. A
// factory may return any value, including one that implements none of the
// lifecycle interfaces.
type Factory func(ctx context.Context) (any, error)

// Initializer is implemented by module values that need an Init phase.
type Initializer interface {
	Init(ctx context.Context) error
}

// Starter is implemented by module values that need a Start phase.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by module values that need a Stop phase.
type Stopper interface {
	Stop(ctx context.Context) error
}

// FailureHandler is an optional hook invoked after a module's phase
// operation has exhausted its retry policy. It is advisory: the runtime
// ignores panics raised by the hook.
type FailureHandler interface {
	OnFailure(ctx context.Context, phase Phase, err error)
}

// Capabilities records which lifecycle interfaces a loaded instance
// implements. It is computed once when the instance is stored, so later
// phase dispatch is a flag check rather than a repeated type probe.
type Capabilities struct {
	Init    bool
	Start   bool
	Stop    bool
	Failure bool
}

// ProbeCapabilities inspects an instance for the lifecycle interfaces.
func ProbeCapabilities(instance any) Capabilities {
	var c Capabilities
	_, c.Init = instance.(Initializer)
	_, c.Start = instance.(Starter)
	_, c.Stop = instance.(Stopper)
	_, c.Failure = instance.(FailureHandler)
	return c
}

// Has reports whether the instance supports the given phase. Load and
// Runtime are not dispatched through capabilities and always report false.
func (c Capabilities) Has(phase Phase) bool {
	switch phase {
	case PhaseInit:
		return c.Init
	case PhaseStart:
		return c.Start
	case PhaseStop:
		return c.Stop
	default:
		return false
	}
}
