package memweave

import (
	"context"
	"errors"
	"net"
	"strings"
)

// MaxContentLength is the ceiling on memory content length, in characters,
// measured after trimming surrounding whitespace.
const MaxContentLength = 50000

// Sentinel errors for the engine's failure taxonomy. Callers match them
// with errors.Is; every returned error wraps exactly one of these (lookups
// for missing or malformed ids return nil instead of an error).
var (
	// ErrInvalidInput reports empty or whitespace-only content, or a
	// missing owner id.
	ErrInvalidInput = errors.New("invalid input")

	// ErrContentTooLarge reports content beyond MaxContentLength.
	ErrContentTooLarge = errors.New("content too large")

	// ErrProvider reports an embedding or categorization upstream failure.
	ErrProvider = errors.New("provider failure")

	// ErrUpstreamTimeout reports a provider call that exceeded its
	// deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrPersistence reports a storage read or write failure.
	ErrPersistence = errors.New("persistence failure")
)

// Error type constants for classification in metrics and logs.
const (
	ErrTypeValidation = "validation"
	ErrTypeTooLarge   = "content_too_large"
	ErrTypeTimeout    = "timeout"
	ErrTypeProvider   = "provider"
	ErrTypeStorage    = "storage"
	ErrTypeNetwork    = "network"
	ErrTypeUnknown    = "unknown"
)

// ClassifyError inspects an error and returns its type classification.
// Sentinels win; unrecognized errors fall back to message inspection so
// that raw driver and client errors still group usefully.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return ErrTypeValidation
	case errors.Is(err, ErrContentTooLarge):
		return ErrTypeTooLarge
	case errors.Is(err, ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrTypeTimeout
	case errors.Is(err, ErrProvider):
		return ErrTypeProvider
	case errors.Is(err, ErrPersistence):
		return ErrTypeStorage
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return ErrTypeNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ErrTypeTimeout
	case strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "dial tcp"):
		return ErrTypeNetwork
	case strings.Contains(msg, "api error") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "embedding") ||
		strings.Contains(msg, "classifier"):
		return ErrTypeProvider
	case strings.Contains(msg, "sql") ||
		strings.Contains(msg, "database") ||
		strings.Contains(msg, "constraint"):
		return ErrTypeStorage
	}

	return ErrTypeUnknown
}
