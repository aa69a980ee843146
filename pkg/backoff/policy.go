// pkg/backoff/policy.go
package backoff

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy decides how long to pause between reconnect attempts of a
// long-lived connection. Unlike Execute it never owns the loop: the caller
// reconnects, and calls Wait after each failure and Reset after a success.
//
// A Policy is not safe for concurrent use; every connection loop owns one.
type Policy struct {
	op       string
	strategy string
	bo       backoff.BackOff
	failures int
}

// NewPolicy builds a Policy from cfg. The fixed strategy retries forever
// with cfg.Delay between attempts.
func NewPolicy(op string, cfg Config) (*Policy, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("backoff: invalid config: %w", err)
	}

	var bo backoff.BackOff
	switch cfg.Strategy {
	case StrategyExponential:
		bo = cfg.exponential()
	default:
		bo = backoff.NewConstantBackOff(cfg.Delay)
	}
	return &Policy{op: op, strategy: cfg.Strategy, bo: bo}, nil
}

// Strategy reports the configured strategy name.
func (p *Policy) Strategy() string { return p.strategy }

// Failures reports consecutive failures since the last Reset.
func (p *Policy) Failures() int { return p.failures }

// Next returns the delay that the following Wait will sleep.
// It consumes one step of the underlying schedule.
func (p *Policy) Next() (time.Duration, bool) {
	d := p.bo.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}

// Wait records a failure (cause) and sleeps for the next delay.
// It returns ctx.Err() if ctx ends first and *ErrMaxRetries when the
// schedule is exhausted (only possible with MaxElapsedTime > 0).
func (p *Policy) Wait(ctx context.Context, cause error) error {
	p.failures++
	d, ok := p.Next()
	if !ok {
		metrics.Failures.WithLabelValues(p.op).Inc()
		return &ErrMaxRetries{Err: cause, Attempts: p.failures}
	}

	metrics.Retries.WithLabelValues(p.op).Inc()
	metrics.Delays.WithLabelValues(p.op).Observe(d.Seconds())

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Reset restarts the schedule after a successful connection.
func (p *Policy) Reset() {
	if p.failures > 0 {
		metrics.Successes.WithLabelValues(p.op).Inc()
	}
	p.failures = 0
	p.bo.Reset()
}
