package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies a failure at the model boundary.
type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindAccessDenied   ErrorKind = "access_denied"
	KindNotFound       ErrorKind = "not_found"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindContextLength  ErrorKind = "context_length"
	KindContentFilter  ErrorKind = "content_filter"
	KindRateLimit      ErrorKind = "rate_limit"
	KindServer         ErrorKind = "server"
	KindTimeout        ErrorKind = "timeout"
	KindNetwork        ErrorKind = "network"
	KindAborted        ErrorKind = "aborted"
	KindConfiguration  ErrorKind = "configuration"
)

// retryableKinds are the kinds worth another attempt.
var retryableKinds = map[ErrorKind]bool{
	KindRateLimit: true,
	KindServer:    true,
	KindTimeout:   true,
	KindNetwork:   true,
}

// Error is the error type every adapter and the client return.
type Error struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Code       string
	Message    string
	// RetryAfter is the server's requested backoff, zero when absent.
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Provider != "" {
		fmt.Fprintf(&sb, "%s: ", e.Provider)
	}
	sb.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (%d)", e.StatusCode)
	}
	if e.Message != "" {
		sb.WriteString(": " + e.Message)
	}
	if e.Cause != nil && (e.Message == "" || !strings.Contains(e.Message, e.Cause.Error())) {
		fmt.Fprintf(&sb, ": %v", e.Cause)
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error of the same kind, so callers can test with
// errors.Is(err, &Error{Kind: KindRateLimit}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.StatusCode == 0 && t.Provider == ""
}

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool {
	if errors.Is(e.Cause, context.Canceled) || errors.Is(e.Cause, context.DeadlineExceeded) {
		return false
	}
	return retryableKinds[e.Kind]
}

func newError(kind ErrorKind, provider, message string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message, Cause: cause}
}

// kindForStatus maps an HTTP status to an ErrorKind.
func kindForStatus(status int) ErrorKind {
	switch {
	case status == 400 || status == 422:
		return KindInvalidRequest
	case status == 401:
		return KindAuthentication
	case status == 403:
		return KindAccessDenied
	case status == 404:
		return KindNotFound
	case status == 408:
		return KindTimeout
	case status == 413:
		return KindContextLength
	case status == 429:
		return KindRateLimit
	case status >= 500:
		return KindServer
	default:
		return KindInvalidRequest
	}
}

// ErrorFromStatusCode builds the error for an HTTP failure response.
func ErrorFromStatusCode(status int, provider, message string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       kindForStatus(status),
		Provider:   provider,
		StatusCode: status,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is safe to retry. Cancellation and errors
// not produced by this package are never retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}
