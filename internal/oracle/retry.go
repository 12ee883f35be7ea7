package oracle

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// IsRetryable checks if an error is worth retrying against the same provider.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr) || errors.Is(err, ErrMalformedResponse)
}

// retryableStatus reports whether an HTTP status is transient.
func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

const MaxRetries = 3

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
