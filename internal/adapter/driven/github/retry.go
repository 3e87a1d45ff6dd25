package github

import "time"

// DefaultMaxRetries is the attempt limit used when none is configured.
const DefaultMaxRetries = 3

// BackoffPolicy returns how long to wait before the next attempt, given the
// base delay and the 1-based number of the attempt that just failed.
type BackoffPolicy func(base time.Duration, attempt int) time.Duration

// LinearBackoff waits base*attempt.
func LinearBackoff(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(attempt)
}

// ExponentialBackoff doubles the wait on every attempt.
func ExponentialBackoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// decision is what the executor does after a failed attempt.
type decision struct {
	Retry      bool
	Deactivate bool
	Notify     bool
	Delay      time.Duration
}

// decide is the retry table for one failed attempt. It performs no I/O; the
// executor loop enforces the attempt limit.
func decide(attempt int, kind ErrorKind, backoff BackoffPolicy, base time.Duration) decision {
	switch kind {
	case KindInvalidCredential:
		return decision{Retry: true, Deactivate: true}
	case KindQuotaExceeded:
		return decision{Retry: true}
	case KindTransientNetwork:
		return decision{Retry: true, Delay: backoff(base, attempt)}
	case KindUpstreamAPI, KindPoolExhausted:
		return decision{Notify: true}
	default:
		return decision{Notify: true}
	}
}
