package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorKind classifies a failed generation call.
type ErrorKind string

const (
	KindRateLimit ErrorKind = "rate_limit"
	KindServer    ErrorKind = "server"
	KindTimeout   ErrorKind = "timeout"
	KindNetwork   ErrorKind = "network"
	KindAuth      ErrorKind = "auth"
	KindRequest   ErrorKind = "request"
	KindResponse  ErrorKind = "response"
)

// GenerationError reports a failed generation call. DiffID is set by the
// caller that knows which diff the request was built from.
type GenerationError struct {
	Provider string
	Kind     ErrorKind
	Status   int
	Message  string
	DiffID   string
	Err      error
}

func (e *GenerationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	prefix := e.Provider
	if e.DiffID != "" {
		prefix = fmt.Sprintf("diff %s: %s", e.DiffID, e.Provider)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %s", prefix, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", prefix, e.Kind, msg)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Retryable reports whether the call may succeed if repeated.
func (e *GenerationError) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindServer, KindTimeout, KindNetwork:
		return true
	}
	return false
}

// IsAuthError checks if an error is an authentication error.
func IsAuthError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge) && ge.Kind == KindAuth
}

// IsRetryable checks if an error is a retryable generation error.
func IsRetryable(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge) && ge.Retryable()
}

// statusError maps a non-2xx HTTP status to a GenerationError.
func statusError(provider string, status int, body string) error {
	kind := KindRequest
	switch {
	case status == 429:
		kind = KindRateLimit
	case status == 401 || status == 403:
		kind = KindAuth
	case status == 408:
		kind = KindTimeout
	case status >= 500:
		kind = KindServer
	}
	return &GenerationError{Provider: provider, Kind: kind, Status: status, Message: truncate(body, 300)}
}

// TimeoutError wraps an expired or canceled context as a retryable
// timeout. errors.Is still reports the context error.
func TimeoutError(provider string, err error) *GenerationError {
	return &GenerationError{Provider: provider, Kind: KindTimeout, Err: err}
}

// transportError wraps an error from sending the request.
func transportError(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil {
		return TimeoutError(provider, ctx.Err())
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &GenerationError{Provider: provider, Kind: KindTimeout, Err: err}
	}
	return &GenerationError{Provider: provider, Kind: KindNetwork, Err: err}
}

func responseError(provider, msg string) error {
	return &GenerationError{Provider: provider, Kind: KindResponse, Message: msg}
}

// retryBase is the first backoff delay; it doubles per attempt.
var retryBase = time.Second

// retryWithBackoff calls fn until it succeeds, fails permanently or the
// retries run out. Once ctx is done no further attempt is made and the
// result is a timeout GenerationError.
func retryWithBackoff(ctx context.Context, provider string, maxRetries int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil && !IsAuthError(lastErr) {
			return TimeoutError(provider, ctx.Err())
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt < maxRetries {
			backoff := retryBase << uint(attempt)
			select {
			case <-ctx.Done():
				return TimeoutError(provider, ctx.Err())
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
