package chain

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

const readAttempts = 3

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "-32005")
}

func isRPCTimeout(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "deadline exceeded") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "timed out")
}

// SendOutcomeUnknown reports whether a failed broadcast may still have reached the endpoint.
func SendOutcomeUnknown(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return isRPCTimeout(err) || strings.Contains(strings.ToLower(err.Error()), "connection reset")
}

// isCallerAbort reports errors caused by the caller's context rather than the endpoint.
func isCallerAbort(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

// withRetry runs fn up to attempts times with a small backoff that doubles on rate limiting.
func withRetry[T any](ctx context.Context, attempts int, backoff time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if attempts <= 0 {
		attempts = readAttempts
	}
	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if isCallerAbort(ctx, err) || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, lastErr
		case <-time.After(backoff):
		}
		if isRateLimitError(err) {
			backoff *= 2
		}
	}
	return zero, lastErr
}
