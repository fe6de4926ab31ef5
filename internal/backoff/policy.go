// Package backoff decides whether and when a dropped notification socket
// is reopened.
package backoff

import "time"

// Close codes understood by the client.
const (
	CodeNormal       = 1000
	CodeAbnormal     = 1006
	CodeUnauthorized = 4001
	CodeRateLimited  = 4002
	CodeForbidden    = 4003
)

// Kind classifies a closure.
type Kind int

const (
	// Retryable closures schedule a reconnect.
	Retryable Kind = iota
	// Terminal closures end the session without a reconnect.
	Terminal
)

// Signal names the extra event a closure surfaces to the UI.
type Signal int

const (
	SignalNone Signal = iota
	SignalAuthRequired
	SignalBackendUnavailable
)

// Closure is the classification of a close code.
type Closure struct {
	Kind   Kind
	Signal Signal
}

// Classify maps a close code to its handling. Abnormal closures are
// retried but still surface SignalBackendUnavailable so the UI can show
// the backend as unreachable while retries run.
func Classify(code int) Closure {
	switch code {
	case CodeNormal:
		return Closure{Kind: Terminal}
	case CodeAbnormal:
		return Closure{Kind: Retryable, Signal: SignalBackendUnavailable}
	case CodeUnauthorized, CodeForbidden:
		return Closure{Kind: Terminal, Signal: SignalAuthRequired}
	case CodeRateLimited:
		return Closure{Kind: Terminal, Signal: SignalBackendUnavailable}
	default:
		return Closure{Kind: Retryable}
	}
}

// Policy is an exponential backoff with a retry ceiling.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// MaxRetries is the number of consecutive retries allowed.
	MaxRetries int

	// MaxDelay clamps the computed delay. Zero leaves it unclamped.
	MaxDelay time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Base:       3 * time.Second,
		MaxRetries: 5,
	}
}

// Delay returns base * 2^(retry-1) for the retry-th attempt (1-based).
func (p Policy) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}

	d := p.Base
	for i := 1; i < retry; i++ {
		// Stop doubling before the duration overflows.
		if d > time.Duration(1<<62) {
			d = time.Duration(1<<63 - 1)
			break
		}
		d *= 2
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Next reports whether another retry is allowed after retryCount retries
// have already been scheduled, and the delay for it.
func (p Policy) Next(retryCount int) (time.Duration, bool) {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= p.MaxRetries {
		return 0, false
	}
	return p.Delay(retryCount + 1), true
}
