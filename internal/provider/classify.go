package provider

import (
	"regexp"
	"strconv"
	"time"
)

var (
	rateLimitPattern = regexp.MustCompile(`(?i)rate[\s_-]?limit|too many requests|429|quota exceeded`)
	transientPattern = regexp.MustCompile(`(?i)timeout|timed out|temporarily unavailable|connection reset|EOF|5\d\d|overloaded`)
	retryAfterSecs   = regexp.MustCompile(`(?i)retry[\s_-]?after[^0-9]*(\d+(?:\.\d+)?)`)
)

// IsRateLimitError reports whether msg looks like an upstream rate-limit
// rejection, using the same best-effort substring scraping a provider's raw
// error text requires (no structural contract is assumed from the stubbed
// adapters out of scope for this harness).
func IsRateLimitError(msg string) bool {
	return rateLimitPattern.MatchString(msg)
}

// IsTransientError reports whether msg looks like a retryable transient
// failure (timeout, connection reset, 5xx) as opposed to a fatal/fatal-shaped
// error such as invalid credentials or malformed request.
func IsTransientError(msg string) bool {
	return transientPattern.MatchString(msg)
}

// ParseRetryAfter extracts a "Retry-After: N" style hint from free-form error
// text. Returns zero if none is found.
func ParseRetryAfter(msg string) time.Duration {
	m := retryAfterSecs.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
