// Package blobstore turns a pool of rate-limited bot accounts into a single
// blob store with retry, fallback and retrieval URL caching.
package blobstore

import (
	"errors"

	"github.com/gezibash/arc-botstore/internal/blobstore/pool"
	"github.com/gezibash/arc-botstore/internal/blobstore/retry"
)

var (
	// ErrEmptyPayload indicates an upload with no bytes.
	ErrEmptyPayload = errors.New("empty payload")

	// ErrPayloadTooLarge indicates the blob exceeds the smallest backend ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrQuotaExceeded indicates the caller has no capacity left.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrNotFound indicates the backend does not know the referenced file.
	ErrNotFound = errors.New("blob not found")

	// ErrInvalidReference indicates a malformed reference.
	ErrInvalidReference = errors.New("invalid blob reference")

	// ErrNoBackendAvailable is returned when no backend is configured.
	ErrNoBackendAvailable = pool.ErrNoBackendAvailable

	// ErrRetryExhausted is returned when every attempt failed.
	ErrRetryExhausted = retry.ErrRetryExhausted
)
