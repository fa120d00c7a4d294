package sources

import (
	"strings"

	"github.com/sawpanic/marketdata/internal/core/quote"
)

// Classify derives an ErrorKind from an error's message and, if it is an
// *httpError, its status code, per §4.4's substring/status rules.
func Classify(err error) quote.ErrorKind {
	if err == nil {
		return ""
	}
	statusCode := 0
	if he, ok := err.(*httpError); ok {
		statusCode = he.status
	}
	msg := strings.ToLower(err.Error())

	switch {
	case statusCode == 429, strings.Contains(msg, "rate limit"):
		return quote.ErrorKindRateLimit
	case statusCode == 404, strings.Contains(msg, "not found"):
		return quote.ErrorKindNotFound
	case strings.Contains(msg, "timeout"):
		return quote.ErrorKindTimeout
	case strings.Contains(msg, "econnreset"), strings.Contains(msg, "network"), strings.Contains(msg, "dns"):
		return quote.ErrorKindNetwork
	case statusCode >= 500:
		return quote.ErrorKindNetwork
	case strings.Contains(msg, "parse"), strings.Contains(msg, "shape"), strings.Contains(msg, "decode"), strings.Contains(msg, "invalid"):
		return quote.ErrorKindValidation
	default:
		return quote.ErrorKindOther
	}
}
