package upstream

import (
	"fmt"
	"strconv"
)

// StatusError captures a non-2xx HTTP response from an upstream endpoint.
// The forwarder's outcome classifier inspects StatusCode and Body to decide
// between ClientError, ClientMaxTokensTooSmall, RecoverableContextWindow,
// and ServerErrorOrNetwork.
type StatusError struct {
	StatusCode     int
	Body           string
	RetryAfterSecs int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Body)
}

// ParseRetryAfter sets RetryAfterSecs from a Retry-After header value.
// Non-numeric or empty values leave RetryAfterSecs at 0; this package does
// not support the HTTP-date form since no observed upstream emits it.
func (e *StatusError) ParseRetryAfter(header string) {
	if header == "" {
		return
	}
	secs, err := strconv.Atoi(header)
	if err != nil {
		return
	}
	e.RetryAfterSecs = secs
}
