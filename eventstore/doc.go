// Package eventstore provides core abstractions and types for the durable,
// versioned, stream-partitioned event log.
//
// This package defines the fundamental types used across the different event
// store implementations: stream names, event records with envelope metadata,
// snapshots, and common error definitions.
//
// A stream holds the events of one entity instance and is named
// "category-id"; the category groups all streams of one aggregate type.
// Writes are protected by optimistic concurrency: an append is accepted only
// if the caller's expected version equals the stream's current version,
// otherwise ErrConcurrencyConflict is returned and the caller must reload
// and retry.
//
// Key types:
//   - StreamName: category plus instance identity for one entity stream
//   - EventRecord: an immutable event with payload and envelope metadata
//   - Snapshot: an optional read-path optimization for replay cost
//
// Common usage pattern:
//
//	stream, _ := eventstore.BuildStreamName("order", orderID)
//
//	record, err := eventstore.BuildEventRecord(stream, "OrderPlaced", time.Now(), payload)
//	if err != nil {
//		// handle error
//	}
//
//	newVersion, err := store.Append(ctx, stream, currentVersion, eventstore.EventRecords{record}, nil)
//	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
//		// reload state and retry
//	}
package eventstore
