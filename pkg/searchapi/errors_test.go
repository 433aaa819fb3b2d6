package searchapi

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestFetchError_Error(t *testing.T) {
	tests := []struct {
		name     string
		fetchErr *FetchError
		expected string
	}{
		{
			name: "rate limited",
			fetchErr: &FetchError{
				Kind:       KindRateLimited,
				StatusCode: 429,
				Message:    "too many requests",
				RetryAfter: 30 * time.Second,
			},
			expected: "upstream rate limited (status 429): too many requests: retry after 30s",
		},
		{
			name: "account frozen",
			fetchErr: &FetchError{
				Kind:       KindAccountFrozen,
				StatusCode: 403,
				Message:    "Account system frozen for 60 mins",
				FrozenFor:  time.Hour,
			},
			expected: "upstream account frozen (status 403): Account system frozen for 60 mins: frozen for 1h0m0s",
		},
		{
			name: "generic with wrapped error",
			fetchErr: &FetchError{
				Kind:       KindGeneric,
				StatusCode: 500,
				Message:    "request failed",
				Err:        errors.New("connection refused"),
			},
			expected: "upstream error (status 500): request failed: connection refused",
		},
		{
			name: "generic without wrapped error",
			fetchErr: &FetchError{
				Kind:       KindGeneric,
				StatusCode: 502,
				Message:    "bad gateway",
			},
			expected: "upstream error (status 502): bad gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.fetchErr.Error()
			if result != tt.expected {
				t.Errorf("Error() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestFetchError_Unwrap(t *testing.T) {
	wrapped := errors.New("dial tcp: i/o timeout")
	fe := &FetchError{Kind: KindGeneric, Message: "request failed", Err: wrapped}

	if fe.Unwrap() != wrapped {
		t.Errorf("Unwrap() = %v, want %v", fe.Unwrap(), wrapped)
	}

	if !errors.Is(fe, wrapped) {
		t.Error("errors.Is should work through the wrapped error")
	}
}

func TestAsFetchError(t *testing.T) {
	fe := &FetchError{Kind: KindRateLimited, RetryAfter: DefaultRetryAfter}
	wrapped := fmt.Errorf("page 3: %w", fe)

	got, ok := AsFetchError(wrapped)
	if !ok {
		t.Fatal("AsFetchError should find the FetchError in the chain")
	}
	if got.Kind != KindRateLimited {
		t.Errorf("Kind = %q, want %q", got.Kind, KindRateLimited)
	}

	if _, ok := AsFetchError(errors.New("plain error")); ok {
		t.Error("AsFetchError should not match a plain error")
	}
}

func TestKindPredicates(t *testing.T) {
	throttled := &FetchError{Kind: KindRateLimited}
	frozen := &FetchError{Kind: KindAccountFrozen}
	generic := &FetchError{Kind: KindGeneric}

	if !IsRateLimited(throttled) || IsRateLimited(frozen) || IsRateLimited(generic) {
		t.Error("IsRateLimited should match only KindRateLimited")
	}
	if !IsAccountFrozen(frozen) || IsAccountFrozen(throttled) || IsAccountFrozen(generic) {
		t.Error("IsAccountFrozen should match only KindAccountFrozen")
	}
}
