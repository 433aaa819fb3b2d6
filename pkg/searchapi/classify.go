package searchapi

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	frozenDurationRe = regexp.MustCompile(`(\d+)\s*(minutes|minute|mins|min|hours|hour|hrs|hr)\b`)
	waitSecondsRe    = regexp.MustCompile(`(\d+)\s*(seconds|second|secs|sec)\b`)
)

// Classify maps an upstream failure response onto the typed error model.
// Suspension wording is checked before throttle wording: suspension notices
// routinely mention rate limits too, and retrying a frozen account only
// burns quota against a locked door.
func Classify(statusCode int, retryAfterHeader string, body []byte) *FetchError {
	var payload map[string]any
	if len(body) > 0 {
		_ = json.Unmarshal(body, &payload)
	}

	message := extractMessage(payload)
	if message == "" && payload == nil {
		// Non-JSON error bodies (HTML gateways, plain text) still carry wording
		// worth classifying.
		message = truncate(strings.TrimSpace(string(body)), 256)
	}

	return classify(statusCode, retryAfterHeader, message, payload)
}

// classifyPayload classifies an already-decoded body, used for logical
// failures reported inside a 2xx envelope.
func classifyPayload(statusCode int, retryAfterHeader string, payload map[string]any) *FetchError {
	return classify(statusCode, retryAfterHeader, extractMessage(payload), payload)
}

func classify(statusCode int, retryAfterHeader, message string, payload map[string]any) *FetchError {
	display := message
	if display == "" {
		display = http.StatusText(statusCode)
	}
	lower := strings.ToLower(message)

	if isSuspension(lower) {
		return &FetchError{
			Kind:       KindAccountFrozen,
			StatusCode: statusCode,
			Message:    display,
			FrozenFor:  parseFrozenDuration(lower),
		}
	}

	if statusCode == http.StatusTooManyRequests || isThrottle(lower, payload) {
		return &FetchError{
			Kind:       KindRateLimited,
			StatusCode: statusCode,
			Message:    display,
			RetryAfter: parseRetryAfter(retryAfterHeader, lower, payload),
		}
	}

	return &FetchError{
		Kind:       KindGeneric,
		StatusCode: statusCode,
		Message:    display,
	}
}

// isSuspension matches upstream suspension vocabulary. A bare minute/hour
// phrase ("60 mins") counts on its own: suspension notices sometimes carry
// nothing else.
func isSuspension(msg string) bool {
	if msg == "" {
		return false
	}
	if strings.Contains(msg, "frozen") || strings.Contains(msg, "account system") {
		return true
	}
	return frozenDurationRe.MatchString(msg)
}

func isThrottle(msg string, payload map[string]any) bool {
	if boolField(payload, "rateLimited", "rate_limited") {
		return true
	}
	for _, kw := range []string{"rate limit", "too many requests", "throttle", "quota"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// parseFrozenDuration reads "<N> mins" or "<N> hours" from a suspension
// message. Unparseable durations fall back to DefaultFrozenFor.
func parseFrozenDuration(msg string) time.Duration {
	m := frozenDurationRe.FindStringSubmatch(msg)
	if m == nil {
		return DefaultFrozenFor
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return DefaultFrozenFor
	}
	if strings.HasPrefix(m[2], "h") {
		return time.Duration(n) * time.Hour
	}
	return time.Duration(n) * time.Minute
}

// parseRetryAfter resolves the requested wait in priority order: Retry-After
// header, numeric body field, "<N> seconds" in the message, then the default.
func parseRetryAfter(header, msg string, payload map[string]any) time.Duration {
	if header != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	if n, ok := numberField(payload, "retryAfter", "retry_after", "waitSeconds", "wait"); ok {
		return time.Duration(n) * time.Second
	}
	if m := waitSecondsRe.FindStringSubmatch(msg); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return DefaultRetryAfter
}

// extractMessage walks the message fields upstream endpoints disagree about,
// including one level of nesting under "error".
func extractMessage(payload map[string]any) string {
	for _, key := range []string{"message", "error", "msg", "detail"} {
		switch v := payload[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if s, ok := v["message"].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func boolField(payload map[string]any, keys ...string) bool {
	for _, key := range keys {
		if v, ok := payload[key].(bool); ok && v {
			return true
		}
	}
	return false
}

func numberField(payload map[string]any, keys ...string) (int, bool) {
	for _, key := range keys {
		switch v := payload[key].(type) {
		case float64:
			if v > 0 {
				return int(v), true
			}
		case string:
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n, true
			}
		}
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
