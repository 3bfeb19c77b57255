// Package backoff computes jittered, bounded restart delays for the App
// Controller. It is a pure function of (attempt, policy):
// given the same inputs and the same jitter source it returns the same
// delay, which keeps controller transitions deterministic in tests.
package backoff

import (
	"math/rand"
	"time"

	cenkalti "github.com/cenkalti/backoff/v4"

	"github.com/bunctl/bunctl/internal/app"
)

// Engine tracks the restart-attempt counter for a single app and derives the
// next delay from an exponential curve with multiplicative jitter, wrapping
// cenkalti/backoff's ExponentialBackOff for the curve/jitter math and adding
// the hard attempt cap that library has no notion of.
type Engine struct {
	policy  app.BackoffPolicy
	inner   *cenkalti.ExponentialBackOff
	attempt int
}

// New builds an Engine for policy. policy is assumed to already have gone
// through app.Config.WithDefaults.
func New(policy app.BackoffPolicy) *Engine {
	e := &Engine{policy: policy}
	e.inner = e.newExponential()
	return e
}

func (e *Engine) newExponential() *cenkalti.ExponentialBackOff {
	b := cenkalti.NewExponentialBackOff()
	b.InitialInterval = e.policy.BaseDelay
	b.MaxInterval = e.policy.MaxDelay
	b.Multiplier = e.policy.Multiplier
	b.RandomizationFactor = e.policy.JitterFraction
	b.MaxElapsedTime = 0 // unbounded; exhaustion is governed by MaxAttempts, not elapsed time
	b.Reset()
	return b
}

// Attempt reports the number of restart attempts made since the last Reset.
func (e *Engine) Attempt() int { return e.attempt }

// NextDelay advances the attempt counter and returns the delay before the
// next spawn. ok is false once attempt exceeds policy.MaxAttempts — the
// caller (App Controller) must honor ExhaustedAction and not call NextDelay
// again without an intervening Reset.
func (e *Engine) NextDelay() (delay time.Duration, ok bool) {
	e.attempt++
	if e.policy.MaxAttempts > 0 && e.attempt > e.policy.MaxAttempts {
		return 0, false
	}
	d := e.inner.NextBackOff()
	if d == cenkalti.Stop {
		return 0, false
	}
	return clamp(d, e.policy.MaxDelay, e.policy.JitterFraction), true
}

// clamp enforces the bound next_delay <= max_delay*(1+jitter_fraction),
// guarding against cenkalti's randomization factor pushing a sample above the
// nominal ceiling.
func clamp(d, maxDelay time.Duration, jitterFraction float64) time.Duration {
	if maxDelay <= 0 {
		return d
	}
	ceiling := time.Duration(float64(maxDelay) * (1 + jitterFraction))
	if d > ceiling {
		return ceiling
	}
	return d
}

// Reset sets attempt back to zero and reseeds the exponential curve. Called
// on a clean Running observation sustained past max_delay, or on an explicit
// user Start.
func (e *Engine) Reset() {
	e.attempt = 0
	e.inner.Reset()
}

// Exhausted reports whether policy.MaxAttempts has been reached without an
// intervening Reset.
func (e *Engine) Exhausted() bool {
	return e.policy.MaxAttempts > 0 && e.attempt >= e.policy.MaxAttempts
}

// jitter is retained for callers (tests) that want to sample jitter directly
// rather than through the full curve; it mirrors the +/- fraction spread
// cenkalti's RandomizationFactor applies internally.
func jitter(base time.Duration, fraction float64, r *rand.Rand) time.Duration {
	if fraction <= 0 {
		return base
	}
	delta := (r.Float64()*2 - 1) * fraction * float64(base)
	return base + time.Duration(delta)
}
