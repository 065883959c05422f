package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/vk/modkit/internal/config"
	"github.com/vk/modkit/internal/ctxlog"
	"github.com/vk/modkit/internal/events"
	"github.com/vk/modkit/internal/metrics"
	"github.com/vk/modkit/internal/recovery"
	"github.com/vk/modkit/internal/registry"
	"github.com/vk/modkit/module"
)

// Operation is one module phase operation, retried as a unit.
type Operation func(ctx context.Context) error

// Outcome describes how Execute resolved.
type Outcome int

const (
	// OutcomeDone means the operation succeeded (possibly after retries).
	OutcomeDone Outcome = iota
	// OutcomeQueued means the next attempt was captured into the recovery
	// queue and the chain should proceed without this module.
	OutcomeQueued
	// OutcomeDeferred means remaining attempts were scheduled onto the
	// background pool and the chain should proceed without this module.
	OutcomeDeferred
	// OutcomeFailed means the operation exhausted its retry policy.
	OutcomeFailed
)

// PhaseError reports a module phase operation that exhausted its retries.
type PhaseError struct {
	Module   string
	Phase    module.Phase
	Attempts int
	Err      error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("module %q phase %q failed after %d attempt(s): %v", e.Module, e.Phase, e.Attempts, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Observer is an optional per-attempt callback, invoked after each failed
// attempt with its ordinal and error.
type Observer func(name string, phase module.Phase, attempt int, err error)

// Engine drives one operation through the retry policy resolved for its
// module and phase.
type Engine struct {
	reg     *registry.Registry
	model   *config.Model
	queue   *recovery.Queue
	bus     *events.Bus
	pool    *ants.Pool
	metrics *metrics.Metrics

	// Observer, when set, is notified after every failed attempt.
	Observer Observer
}

// New wires an Engine against the runtime's shared collaborators.
func New(reg *registry.Registry, model *config.Model, queue *recovery.Queue, bus *events.Bus, pool *ants.Pool, m *metrics.Metrics) *Engine {
	return &Engine{reg: reg, model: model, queue: queue, bus: bus, pool: pool, metrics: m}
}

// Execute runs op under the layered retry policy for (name, phase). On
// success it invokes onSuccess before returning. The returned error is
// non-nil only for a critical module's terminal failure; a non-critical
// terminal failure resolves as (OutcomeFailed, nil) so the chain continues.
func (e *Engine) Execute(ctx context.Context, op Operation, onSuccess func(context.Context), name string, phase module.Phase) (Outcome, error) {
	logger := ctxlog.FromContext(ctx).With("module", name, "phase", phase)
	critical := e.model.Critical(name)
	opts := e.model.ResolveRetry(name, phase, false)
	background := false
	attempt := 0

	for {
		attempt++
		e.metrics.Attempt(phase)
		err := invoke(ctx, op)
		if err == nil {
			if onSuccess != nil {
				onSuccess(ctx)
			}
			e.metrics.Outcome(phase, "success")
			return OutcomeDone, nil
		}

		e.observe(name, phase, attempt, err)
		if opts.Warn {
			logger.Warn("Module operation attempt failed.", "attempt", attempt, "max_attempts", opts.MaxAttempts, "error", err)
		}
		if attempt >= opts.MaxAttempts {
			return e.finalize(ctx, name, phase, attempt, critical, err)
		}

		// After the first failure, switch to the background policy bucket.
		// Critical modules keep blocking the chain even then; the
		// retry_critical_in_background setting only changes which bucket
		// their later attempts resolve options from.
		if !background && (!critical || e.model.Settings.RetryCriticalInBackground) {
			background = true
			opts = e.model.ResolveRetry(name, phase, true)
		}

		wait := waitFor(opts, attempt)
		if background && !critical {
			if e.model.Settings.RecoveryQueue {
				if qErr := e.enqueue(ctx, op, onSuccess, name, phase, attempt, opts); qErr == nil {
					e.metrics.Outcome(phase, "queued")
					return OutcomeQueued, nil
				}
				// Queue already drained: fall through to direct scheduling.
			}
			e.schedule(ctx, op, onSuccess, name, phase, attempt, opts, wait)
			e.metrics.Outcome(phase, "deferred")
			return OutcomeDeferred, nil
		}

		logger.Debug("Waiting before next attempt.", "wait", wait)
		select {
		case <-ctx.Done():
			return e.finalize(ctx, name, phase, attempt, critical, fmt.Errorf("retry interrupted: %w", ctx.Err()))
		case <-time.After(wait):
		}
	}
}

// invoke runs the operation inside a fault-isolating call, converting a
// panic into an ordinary attempt failure.
func invoke(ctx context.Context, op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in module operation: %v", r)
		}
	}()
	return op(ctx)
}

func (e *Engine) observe(name string, phase module.Phase, attempt int, err error) {
	if e.Observer != nil {
		e.Observer(name, phase, attempt, err)
	}
}

// finalize handles a terminal failure: registry error state, the module's
// own failure hook, and the global error sink. Critical modules reject the
// outer call; non-critical modules resolve as a swallowed no-op.
func (e *Engine) finalize(ctx context.Context, name string, phase module.Phase, attempts int, critical bool, cause error) (Outcome, error) {
	logger := ctxlog.FromContext(ctx)
	perr := &PhaseError{Module: name, Phase: phase, Attempts: attempts, Err: cause}

	if entry, ok := e.reg.Get(name); ok {
		entry.SetError(cause.Error())
		entry.SetState(registry.StateError)
		e.invokeFailureHook(ctx, entry, phase, perr)
	}

	e.metrics.Outcome(phase, "failure")
	logger.Error("Module operation failed permanently.",
		"module", name, "phase", phase, "attempts", attempts, "critical", critical, "error", cause)
	e.bus.Publish(ctx, events.Event{
		Topic:    events.TopicRuntimeError,
		Module:   name,
		Phase:    phase,
		Attempts: attempts,
		Err:      perr,
	})

	if critical {
		return OutcomeFailed, perr
	}
	return OutcomeFailed, nil
}

// invokeFailureHook calls the instance's OnFailure hook if present. The
// hook is advisory, so its panics are contained here.
func (e *Engine) invokeFailureHook(ctx context.Context, entry *registry.Entry, phase module.Phase, err error) {
	inst, ok := entry.Instance()
	if !ok {
		return
	}
	hook, ok := inst.(module.FailureHandler)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			ctxlog.FromContext(ctx).Error("Module failure hook panicked.", "module", entry.Name(), "panic", r)
		}
	}()
	hook.OnFailure(ctx, phase, err)
}

// enqueue captures the next attempt as a recovery queue entry. The captured
// operation performs exactly one attempt on the drain pass: success marks
// the entry recovered, failure marks it errored and is never retried again.
func (e *Engine) enqueue(ctx context.Context, op Operation, onSuccess func(context.Context), name string, phase module.Phase, attempts int, opts config.RetryOptions) error {
	priority := recovery.PriorityDefault
	if e.model.Critical(name) {
		priority = recovery.PriorityCritical
	}
	return e.queue.Enqueue(ctx, &recovery.Entry{
		Priority: priority,
		Module:   name,
		Phase:    phase,
		Attempts: attempts,
		Options:  opts,
		Op: func(qctx context.Context) error {
			err := invoke(qctx, op)
			entry, ok := e.reg.Get(name)
			if err != nil {
				if ok {
					entry.SetError(err.Error())
					entry.SetState(registry.StateError)
					e.invokeFailureHook(qctx, entry, phase, &PhaseError{Module: name, Phase: phase, Attempts: attempts + 1, Err: err})
				}
				return err
			}
			if onSuccess != nil {
				onSuccess(qctx)
			}
			if ok {
				entry.SetState(registry.StateRecovered)
				entry.ClearError()
			}
			return nil
		},
	})
}

// schedule hands the remaining attempts to the background pool after the
// computed wait, freeing the calling chain.
func (e *Engine) schedule(ctx context.Context, op Operation, onSuccess func(context.Context), name string, phase module.Phase, attempt int, opts config.RetryOptions, wait time.Duration) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Escalating module retries to background.",
		"module", name, "phase", phase, "next_attempt", attempt+1, "wait", wait)
	time.AfterFunc(wait, func() {
		if err := e.pool.Submit(func() {
			e.runBackground(ctx, op, onSuccess, name, phase, attempt, opts)
		}); err != nil {
			logger.Error("Failed to submit background retry.", "module", name, "phase", phase, "error", err)
		}
	})
}

// runBackground continues the attempt loop on a pool worker. Modules here
// are non-critical by construction, so a terminal failure is swallowed
// after the usual error bookkeeping.
func (e *Engine) runBackground(ctx context.Context, op Operation, onSuccess func(context.Context), name string, phase module.Phase, attempt int, opts config.RetryOptions) {
	logger := ctxlog.FromContext(ctx).With("module", name, "phase", phase)
	for {
		attempt++
		e.metrics.Attempt(phase)
		err := invoke(ctx, op)
		if err == nil {
			if onSuccess != nil {
				onSuccess(ctx)
			}
			e.metrics.Outcome(phase, "success")
			logger.Info("✅ Background retry succeeded.", "attempt", attempt)
			return
		}

		e.observe(name, phase, attempt, err)
		if opts.Warn {
			logger.Warn("Background retry attempt failed.", "attempt", attempt, "max_attempts", opts.MaxAttempts, "error", err)
		}
		if attempt >= opts.MaxAttempts {
			e.finalize(ctx, name, phase, attempt, false, err)
			return
		}

		select {
		case <-ctx.Done():
			e.finalize(ctx, name, phase, attempt, false, fmt.Errorf("retry interrupted: %w", ctx.Err()))
			return
		case <-time.After(waitFor(opts, attempt)):
		}
	}
}
