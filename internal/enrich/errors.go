package enrich

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransientError indicates a failure worth retrying: rate limits, server
// errors, timeouts. The worker pool retries these with backoff.
type TransientError struct {
	StatusCode int
	Message    string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient enrichment error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// PermanentError indicates a rejection that retrying cannot fix: malformed
// request, auth failure, content rejection. Failed immediately, no retry.
type PermanentError struct {
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent enrichment error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// IsTransient reports whether err warrants an automatic retry. Network
// timeouts and exceeded deadlines count as transient alongside explicit
// TransientError classifications.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
