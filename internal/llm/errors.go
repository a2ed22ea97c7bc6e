package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFatalAPI marks provider errors that no retry can fix: billing,
// quota, or authentication problems. Callers abort the whole run instead
// of degrading locally.
var ErrFatalAPI = errors.New("fatal API error")

var fatalPatterns = []string{
	"credit balance",
	"insufficient credit",
	"quota exceeded",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

var retryablePatterns = []string{
	"429",
	"529",
	"rate limit",
	"rate_limit",
	"overloaded",
	"500",
	"502",
	"503",
	"resource exhausted",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range fatalPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// isRetryable reports whether the provider error is transient: rate
// limiting, overload, or a server-side failure.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// wrapFatalError tags fatal errors with ErrFatalAPI so callers can match
// with errors.Is. Non-fatal errors pass through unchanged.
func wrapFatalError(err error) error {
	if err == nil {
		return nil
	}
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %w", ErrFatalAPI, err)
	}
	return err
}
