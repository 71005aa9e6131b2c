package outbox

import (
	"context"
	"errors"
	"time"
)

var ErrFetchingPendingFailed = errors.New("fetching pending outbox records failed")
var ErrUpdatingRecordFailed = errors.New("updating outbox record failed")
var ErrRecordNotFound = errors.New("outbox record not found")

// Store defines the contract the Processor needs from outbox persistence.
//
// Staging new records is not part of this interface: records are written by
// the event store engine in the same transaction as the events they belong to.
// The Store only covers the Processor's side of the shared table.
type Store interface {
	// ClaimPending selects up to limit pending records that are due at the given
	// time, ordered by priority (highest first) then age (oldest first).
	// Implementations backing multiple concurrent processors must ensure a record
	// is claimed by at most one of them per tick.
	ClaimPending(ctx context.Context, limit int, now time.Time) (Records, error)

	// MarkPublished transitions a record to published after broker acknowledgment.
	MarkPublished(ctx context.Context, messageID string) error

	// Reschedule increments the attempt count and sets the next attempt time
	// after a failed publish.
	Reschedule(ctx context.Context, messageID string, attempts int, nextAttemptAt time.Time) error

	// MarkAbandoned transitions a record to abandoned once attempts are exhausted.
	MarkAbandoned(ctx context.Context, messageID string, attempts int) error

	// PurgePublished deletes published records older than the retention cutoff.
	// Returns the number of purged records.
	PurgePublished(ctx context.Context, olderThan time.Time) (int64, error)
}
