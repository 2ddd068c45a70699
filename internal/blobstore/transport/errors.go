package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrClosed indicates the transport has been closed.
var ErrClosed = errors.New("transport closed")

// Kind classifies a backend failure. It feeds logging, metrics and alerts;
// the retry engine treats every kind as retryable unless configured otherwise.
type Kind int

const (
	// KindTransient covers network errors, timeouts and 5xx responses.
	KindTransient Kind = iota
	// KindRateLimited means the backend is throttling this account.
	KindRateLimited
	// KindRejected means the credential is banned, revoked or forbidden.
	KindRejected
	// KindClientPayload means the backend refused the request shape.
	KindClientPayload
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindRejected:
		return "rejected"
	case KindClientPayload:
		return "client_payload"
	default:
		return "transient"
	}
}

// Error is a classified backend failure.
type Error struct {
	Kind        Kind
	Code        int
	Description string
	RetryAfter  time.Duration
	Cause       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s (%d)", e.Kind, e.Code)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" [retry after %s]", e.RetryAfter)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// FromStatus builds an Error from an HTTP-style status code.
func FromStatus(code int, description string) *Error {
	return &Error{Kind: KindForStatus(code), Code: code, Description: description}
}

// KindForStatus maps an HTTP-style status code to a Kind.
func KindForStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return KindRejected
	case code == http.StatusRequestTimeout:
		return KindTransient
	case code >= 400 && code < 500:
		return KindClientPayload
	default:
		return KindTransient
	}
}

// Classify returns the Kind of err. Unclassified errors, including
// deadline expiry, are transient.
func Classify(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindTransient
}

// IsTimeout reports whether err stems from a deadline or cancellation.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
