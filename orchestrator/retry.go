// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package orchestrator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackOff doubles from initial up to maxInterval and never gives up on its own;
// the flow stops retrying on logout or MaxAttempts.
func newBackOff(initial, maxInterval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// nextDelay never waits less than floor.
func nextDelay(b backoff.BackOff, floor time.Duration) time.Duration {
	d := b.NextBackOff()
	if d == backoff.Stop || d < floor {
		return floor
	}
	return d
}

// sleep waits d or until ctx is done. It reports whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
