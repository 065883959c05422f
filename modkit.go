// Package modkit is an embeddable module lifecycle runtime. It discovers a
// host-supplied tree of modules, resolves their declared dependency graph,
// and drives each module through its Load, Init, Start, and Stop phases
// with per-phase retry, backoff escalation, and a deferred recovery pass
// for non-critical failures.
//
// A host constructs one Runtime per process side, hands it a discovery
// tree, and calls Start and Stop:
//
//	rt, err := modkit.New(os.Stderr, modkit.Config{ConfigPath: "conf"}, tree)
//	if err != nil { ... }
//	if err := rt.Start(ctx); err != nil { ... }
//	defer rt.Stop(ctx)
//
// Module descriptors (dependencies, criticality, retry overrides) live in
// HCL files under ConfigPath; modules without a descriptor run with
// defaults.
package modkit

import (
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vk/modkit/module"
)

// Config holds everything a Runtime instance needs to run.
type Config struct {
	// ConfigPath is a directory tree of *.hcl descriptor files. Empty means
	// no configuration: every module runs with defaults.
	ConfigPath string

	// Location selects which side this runtime is; modules declared for the
	// other side are excluded at discovery time.
	Location module.Location

	LogLevel  string // debug, info, warn, error
	LogFormat string // text or json

	// HealthcheckPort serves /live and /ready when > 0.
	HealthcheckPort int

	// WorkerCount sizes the background retry pool. Defaults to 4.
	WorkerCount int

	// OnError, when set, receives every terminal module failure.
	OnError func(moduleName string, phase module.Phase, err error)

	// OnModuleLoaded, when set, is notified after each successful load.
	OnModuleLoaded func(moduleName string)

	// Metrics, when set, receives the runtime's prometheus collectors.
	Metrics prometheus.Registerer
}

// newLogger creates and configures a new slog.Logger instance. It does not
// set the global logger, allowing for isolated logger instances.
func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if formatStr == "json" {
		handler = slog.NewJSONHandler(outW, handlerOpts)
	} else {
		handler = slog.NewTextHandler(outW, handlerOpts)
	}
	return slog.New(handler)
}
