// Package backoff provides the retry delay strategies applied between job
// attempts. All strategies are stateless and safe for concurrent use.
package backoff

import (
	"fmt"
	"math"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Fixed
// ──────────────────────────────────────────────────

// Fixed always returns the same delay regardless of attempt number.
type Fixed struct {
	Interval time.Duration
}

// NewFixed creates a fixed backoff strategy.
func NewFixed(interval time.Duration) *Fixed {
	return &Fixed{Interval: interval}
}

// Delay returns the fixed interval.
func (f *Fixed) Delay(_ int) time.Duration {
	return f.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy. A zero maxDelay
// disables the cap.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && (d > e.Max || d < 0) {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Policy
// ──────────────────────────────────────────────────

// Kind names a backoff strategy in persisted form.
type Kind string

const (
	KindFixed       Kind = "fixed"
	KindExponential Kind = "exponential"
)

// Policy is the serializable description of a Strategy. It travels with
// every job so that a retry scheduled by one worker uses the same policy
// the job was enqueued with.
type Policy struct {
	Kind  Kind          `json:"kind"`
	Delay time.Duration `json:"delay"`
	Max   time.Duration `json:"max,omitempty"`
}

// FixedPolicy returns a Policy for a fixed delay.
func FixedPolicy(delay time.Duration) Policy {
	return Policy{Kind: KindFixed, Delay: delay}
}

// ExponentialPolicy returns a Policy for delay * 2^(attempt-1), capped at maxDelay.
func ExponentialPolicy(delay, maxDelay time.Duration) Policy {
	return Policy{Kind: KindExponential, Delay: delay, Max: maxDelay}
}

// DefaultPolicy is exponential with a 1s base and a 1m cap.
func DefaultPolicy() Policy {
	return ExponentialPolicy(time.Second, time.Minute)
}

// IsZero reports whether the policy is unset.
func (p Policy) IsZero() bool { return p.Kind == "" }

// Strategy returns the Strategy the policy describes. Unknown or empty
// kinds fall back to DefaultPolicy.
func (p Policy) Strategy() Strategy {
	switch p.Kind {
	case KindFixed:
		return NewFixed(p.Delay)
	case KindExponential:
		return NewExponential(p.Delay, p.Max)
	default:
		d := DefaultPolicy()
		return NewExponential(d.Delay, d.Max)
	}
}

// Validate checks that the policy is well formed.
func (p Policy) Validate() error {
	switch p.Kind {
	case KindFixed, KindExponential:
	default:
		return fmt.Errorf("backoff: unknown kind %q", p.Kind)
	}
	if p.Delay < 0 {
		return fmt.Errorf("backoff: negative delay %s", p.Delay)
	}
	return nil
}

// ParseKind maps a config string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindFixed, KindExponential:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("backoff: unknown kind %q", s)
	}
}
