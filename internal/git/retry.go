package git

import (
	"context"
	"strings"
	"time"
)

const (
	// RetryAttempts is the number of tries for transient git failures.
	RetryAttempts = 3
	// RetryBaseDelay is the base delay between retries (exponential backoff).
	RetryBaseDelay = 100 * time.Millisecond
)

// transientMarkers are substrings of git output that indicate lock contention
// from a concurrent git process rather than a real failure.
var transientMarkers = []string{
	"index.lock",
	"shallow.lock",
	"could not lock config file",
	"unable to create",
	"another git process seems to be running",
}

// IsTransient reports whether err looks like transient lock contention that
// is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// WithRetry runs fn, retrying transient failures with exponential backoff.
// Non-transient errors are returned immediately. The context cancels waiting
// between attempts.
func WithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= RetryAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == RetryAttempts {
			break
		}

		delay := RetryBaseDelay * time.Duration(1<<uint(attempt-1))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
