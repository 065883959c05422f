// Package config defines the format-agnostic configuration model for the
// runtime: per-module descriptors (dependencies, criticality, location,
// retry overrides, option values) and the global settings that tune the
// resolver, retry engine, and recovery queue.
//
// The `config.Model` is the single source of truth for the resolver,
// loader, retry, and lifecycle packages. The HCL loading pipeline lives in
// this package too (schema.go, loader.go): HCL schema structs are decoded
// with gohcl and then translated into the agnostic model.
package config
