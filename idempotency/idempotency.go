// Package idempotency provides the shared cache that makes retried requests
// exactly-once-effective.
//
// Records are keyed by caller-supplied tokens. Tokens are never derived from
// payload data: "same data" is not "same request", and deriving tokens would
// produce false-positive deduplication. Without a token the layer is inert by
// design and handler-level deduplication is the only protection.
package idempotency

import (
	"context"
	"errors"
	"time"
)

var ErrStoreUnavailable = errors.New("idempotency store unavailable")

// Status describes the lifecycle of an idempotency record.
// A token transitions pending -> success or pending -> error; a success record
// is authoritative and never regresses to pending.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Record is one cached request outcome.
type Record struct {
	Token     string
	Status    Status
	Result    []byte
	ExpiresAt time.Time
}

// Store is the shared, TTL-bounded idempotency cache.
//
// Writes are last-write-wins per token, with the exception that a success
// record must never be replaced by a pending or error record.
type Store interface {
	// Get returns the record for the token if one exists and has not expired.
	Get(ctx context.Context, token string) (Record, bool, error)

	// Begin transitions an absent token to pending with the given TTL.
	// It returns true when this call created the pending record; when the token
	// already exists, it returns false along with the existing record.
	Begin(ctx context.Context, token string, ttl time.Duration) (bool, Record, error)

	// Complete writes the authoritative success record with the given TTL.
	Complete(ctx context.Context, token string, result []byte, ttl time.Duration) error

	// Fail writes a short-TTL error record, permitting a later retry.
	// It must not replace an existing success record.
	Fail(ctx context.Context, token string, ttl time.Duration) error
}

// DuplicateError is returned in explicit-duplicate-detection mode when a token
// resolves to a previously cached success. It carries the original result so
// the caller can still use it.
type DuplicateError struct {
	Result []byte
}

func (e *DuplicateError) Error() string {
	return "duplicate request, returning original result"
}
