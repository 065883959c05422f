package retry

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vk/modkit/internal/config"
)

// minWait is the floor applied to every computed wait.
const minWait = 100 * time.Millisecond

// maxWait caps exponential growth so deep attempt counts cannot schedule
// retries hours out.
const maxWait = 15 * time.Minute

// waitFor computes the wait before the attempt following the given number
// of failures: base×2^(failures−1) for the exponential strategy, the
// constant base for fixed, with optional ±10% multiplicative jitter.
func waitFor(opts config.RetryOptions, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}

	var b backoff.BackOff
	if opts.Backoff == config.BackoffFixed {
		b = backoff.NewConstantBackOff(opts.Wait)
	} else {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = opts.Wait
		eb.Multiplier = 2
		eb.RandomizationFactor = 0 // jitter is applied uniformly below
		eb.MaxInterval = maxWait
		eb.MaxElapsedTime = 0
		b = eb
	}

	var wait time.Duration
	for i := 0; i < failures; i++ {
		wait = b.NextBackOff()
	}

	if opts.Jitter {
		wait = time.Duration(float64(wait) * (0.9 + 0.2*rand.Float64()))
	}
	if wait < minWait {
		wait = minWait
	}
	return wait
}
