// Package cooldown tracks the recovery window that blocks new harvest
// sessions after a circuit-breaker trip or an upstream account freeze.
package cooldown

import "time"

// Reason records why a cooldown window was opened.
type Reason string

const (
	// ReasonRateLimited follows a circuit-breaker trip on throttling.
	ReasonRateLimited Reason = "rate_limited"

	// ReasonAccountFrozen follows an upstream account suspension.
	ReasonAccountFrozen Reason = "account_frozen"
)

// Window marks a span during which no new harvest session may start.
type Window struct {
	ExpiresAt time.Time `json:"expires_at"`
	Reason    Reason    `json:"reason"`
}

// Expired reports whether the window has passed.
func (w Window) Expired() bool {
	return !time.Now().Before(w.ExpiresAt)
}

// Remaining returns the time left, or zero once expired.
func (w Window) Remaining() time.Duration {
	d := time.Until(w.ExpiresAt)
	if d < 0 {
		return 0
	}
	return d
}

// ExpiresUnixMilli returns the expiry as epoch milliseconds, the form the
// dashboard counts down from.
func (w Window) ExpiresUnixMilli() int64 {
	return w.ExpiresAt.UnixMilli()
}
