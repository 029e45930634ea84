package llm

import "strings"

// Provider errors arrive as opaque strings from the HTTP client, so
// classification is substring-based.

var rateLimitMarkers = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"429",
}

var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"temporarily unavailable",
	"service unavailable",
	"502",
	"503",
	"unexpected eof",
}

// IsRateLimited reports whether the provider rejected the call for rate
// limiting. Callers should back off exponentially.
func IsRateLimited(err error) bool {
	return matchesAny(err, rateLimitMarkers)
}

// IsTransient reports whether the call failed in a way worth retrying after
// a fixed delay.
func IsTransient(err error) bool {
	return matchesAny(err, transientMarkers)
}

func matchesAny(err error, markers []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range markers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
