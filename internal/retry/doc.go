// Package retry executes module phase operations under an escalating
// backoff policy.
//
// Every attempt runs inside a fault-isolating call, so a panicking module
// is just another failed attempt. After the first failure a non-critical
// module's remaining attempts escalate out of the calling chain: they are
// either captured into the recovery queue (when queue mode is enabled) or
// scheduled onto the background worker pool after the computed wait. The
// calling chain blocks only for foreground waits and for critical modules,
// which never escalate — a critical terminal failure always surfaces
// synchronously in its own phase chain.
package retry
