package searchapi

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failed page fetch.
type ErrorKind string

const (
	// KindRateLimited marks throttling by the upstream quota.
	KindRateLimited ErrorKind = "rate_limited"

	// KindAccountFrozen marks an account suspension by the upstream.
	KindAccountFrozen ErrorKind = "account_frozen"

	// KindGeneric marks every other failure (network, decode, upstream 5xx).
	KindGeneric ErrorKind = "generic"
)

const (
	// DefaultRetryAfter is assumed when a throttle response carries no wait time.
	DefaultRetryAfter = 60 * time.Second

	// DefaultFrozenFor is assumed when a suspension message carries no duration.
	DefaultFrozenFor = time.Hour
)

// FetchError is a classified page-fetch failure.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string

	// RetryAfter is the server-requested wait before the next attempt.
	// Set only for KindRateLimited.
	RetryAfter time.Duration

	// FrozenFor is the parsed suspension duration.
	// Set only for KindAccountFrozen.
	FrozenFor time.Duration

	Err error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	switch e.Kind {
	case KindRateLimited:
		return fmt.Sprintf("upstream rate limited (status %d): %s: retry after %s",
			e.StatusCode, e.Message, e.RetryAfter)
	case KindAccountFrozen:
		return fmt.Sprintf("upstream account frozen (status %d): %s: frozen for %s",
			e.StatusCode, e.Message, e.FrozenFor)
	default:
		if e.Err != nil {
			return fmt.Sprintf("upstream error (status %d): %s: %v",
				e.StatusCode, e.Message, e.Err)
		}
		return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Message)
	}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// AsFetchError extracts a FetchError from an error chain.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsRateLimited reports whether err carries a throttle classification.
func IsRateLimited(err error) bool {
	fe, ok := AsFetchError(err)
	return ok && fe.Kind == KindRateLimited
}

// IsAccountFrozen reports whether err carries a suspension classification.
func IsAccountFrozen(err error) bool {
	fe, ok := AsFetchError(err)
	return ok && fe.Kind == KindAccountFrozen
}
