package harvest

import (
	"math/rand"
	"time"

	"github.com/linkpellow/my-lead-engine-sub001/pkg/searchapi"
)

// RetryPolicy holds the retry and circuit breaker configuration.
type RetryPolicy struct {
	// MaxRetries is the number of retries allowed per page after the
	// initial attempt.
	MaxRetries int

	// BaseBackoff is the starting exponential backoff component.
	BaseBackoff time.Duration

	// MaxBackoff caps the total wait between attempts.
	MaxBackoff time.Duration

	// CircuitThreshold is the consecutive-throttle streak that trips the
	// circuit breaker and ends the session.
	CircuitThreshold int
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:       3,
		BaseBackoff:      1 * time.Second,
		MaxBackoff:       300 * time.Second,
		CircuitThreshold: 3,
	}
}

// ShouldRetry reports whether a failed page fetch may be attempted again.
// Only rate limiting is retryable. Account suspensions and generic failures
// end the session on first sight.
func (p RetryPolicy) ShouldRetry(err *searchapi.FetchError, attempt int) bool {
	if err == nil || err.Kind != searchapi.KindRateLimited {
		return false
	}
	return attempt < p.MaxRetries
}

// Backoff returns the wait before retry attempt (zero-based). The upstream's
// retry-after is honored in full, an exponential component with jitter is
// added on top, and the total never exceeds MaxBackoff.
func (p RetryPolicy) Backoff(retryAfter time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 16 {
		attempt = 16
	}

	exponential := p.BaseBackoff << attempt
	if exponential > p.MaxBackoff {
		exponential = p.MaxBackoff
	}
	jitter := time.Duration(rand.Float64() * 0.25 * float64(exponential))

	total := retryAfter + exponential + jitter
	if total > p.MaxBackoff {
		return p.MaxBackoff
	}
	return total
}

// Tripped reports whether the throttle streak has reached the circuit
// threshold.
func (p RetryPolicy) Tripped(streak int) bool {
	return streak >= p.CircuitThreshold
}
