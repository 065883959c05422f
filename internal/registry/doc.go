// Package registry provides the central shared state of the runtime: one
// Entry per discovered module, keyed by normalized dot-path name.
//
// Entries are created at discovery time and persist for the lifetime of the
// run; they are mutated by the loader, the lifecycle orchestrator, and the
// retry engine. Because escalated retries run on background workers, both
// the entry map and each entry's fields are safe for concurrent access.
//
// The registry also owns the per-module "currently loading" markers that
// guard against runtime-reentrant double loads during nested dependency
// chains.
package registry
