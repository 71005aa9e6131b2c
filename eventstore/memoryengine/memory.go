// Package memoryengine provides an in-process implementation of the event store
// with the same semantics as the PostgreSQL engine: optimistic concurrency on
// append, gapless stream versions, a store-wide global position, and atomic
// staging of outbox records together with the events.
//
// It is intended for tests and examples; nothing survives a process restart.
package memoryengine

import (
	"context"
	"sync"
	"time"

	"github.com/proteanhq/eventengine-go/eventstore"
	"github.com/proteanhq/eventengine-go/outbox"
)

// OutboxSink receives the outbox records staged by an append, in the same
// critical section as the event write. The memory store for the outbox
// satisfies this with its Add method.
type OutboxSink func(records outbox.Records)

// EventStore is the in-process event store.
type EventStore struct {
	mu             sync.Mutex
	streams        map[string]eventstore.EventRecords
	all            eventstore.EventRecords
	snapshots      map[string]eventstore.Snapshot
	globalPosition eventstore.GlobalPositionUint
	outboxSink     OutboxSink
}

// Option defines a functional option for configuring EventStore.
type Option func(*EventStore)

// WithOutboxSink wires the destination for outbox records staged via Append.
func WithOutboxSink(sink OutboxSink) Option {
	return func(es *EventStore) {
		es.outboxSink = sink
	}
}

// NewEventStore creates an empty in-process event store.
func NewEventStore(options ...Option) *EventStore {
	es := &EventStore{
		streams:   make(map[string]eventstore.EventRecords),
		snapshots: make(map[string]eventstore.Snapshot),
	}

	for _, option := range options {
		option(es)
	}

	return es
}

// Append appends the records to the stream when expectedVersion matches the
// stream's current version, assigning stream versions and global positions.
// Staged outbox records are handed to the configured sink in the same critical
// section, mirroring the single-transaction guarantee of the Postgres engine.
func (es *EventStore) Append(
	_ context.Context,
	stream eventstore.StreamName,
	expectedVersion eventstore.StreamVersionUint,
	records eventstore.EventRecords,
	staged outbox.Records,
) (eventstore.StreamVersionUint, error) {

	es.mu.Lock()
	defer es.mu.Unlock()

	key := stream.String()
	currentVersion := eventstore.StreamVersionUint(len(es.streams[key]))

	if currentVersion != expectedVersion {
		return 0, eventstore.ErrConcurrencyConflict
	}

	for _, record := range records {
		es.globalPosition++
		record.Stream = stream
		record.StreamVersion = currentVersion + 1
		record.GlobalPosition = es.globalPosition
		currentVersion++

		es.streams[key] = append(es.streams[key], record)
		es.all = append(es.all, record)
	}

	if es.outboxSink != nil && len(staged) > 0 {
		es.outboxSink(staged)
	}

	return currentVersion, nil
}

// ReadStream retrieves the events of one stream with a version higher than
// fromVersion, ordered by stream version. A limit of 0 means no limit.
func (es *EventStore) ReadStream(
	_ context.Context,
	stream eventstore.StreamName,
	fromVersion eventstore.StreamVersionUint,
	limit uint,
) (eventstore.EventRecords, error) {

	es.mu.Lock()
	defer es.mu.Unlock()

	records := make(eventstore.EventRecords, 0)
	for _, record := range es.streams[stream.String()] {
		if record.StreamVersion <= fromVersion {
			continue
		}

		records = append(records, record)
		if limit > 0 && uint(len(records)) == limit {
			break
		}
	}

	return records, nil
}

// ReadCategory retrieves the events of all streams of one category with a
// global position higher than fromPosition, in global-position order.
func (es *EventStore) ReadCategory(
	_ context.Context,
	category eventstore.CategoryString,
	fromPosition eventstore.GlobalPositionUint,
	limit uint,
) (eventstore.EventRecords, error) {

	es.mu.Lock()
	defer es.mu.Unlock()

	records := make(eventstore.EventRecords, 0)
	for _, record := range es.all {
		if record.GlobalPosition <= fromPosition || record.Stream.Category() != category {
			continue
		}

		records = append(records, record)
		if limit > 0 && uint(len(records)) == limit {
			break
		}
	}

	return records, nil
}

// CurrentVersion returns the stream's current version, 0 for a stream with no events.
func (es *EventStore) CurrentVersion(_ context.Context, stream eventstore.StreamName) (eventstore.StreamVersionUint, error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	return eventstore.StreamVersionUint(len(es.streams[stream.String()])), nil
}

// SaveSnapshot stores the snapshot for its stream, replacing any previous one.
func (es *EventStore) SaveSnapshot(_ context.Context, snapshot eventstore.Snapshot) error {
	if validateErr := snapshot.Validate(); validateErr != nil {
		return validateErr
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now()
	}

	es.snapshots[snapshot.Stream.String()] = snapshot

	return nil
}

// LoadSnapshot retrieves the latest snapshot for the stream.
func (es *EventStore) LoadSnapshot(_ context.Context, stream eventstore.StreamName) (eventstore.Snapshot, error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	snapshot, found := es.snapshots[stream.String()]
	if !found {
		return eventstore.Snapshot{}, eventstore.ErrSnapshotNotFound
	}

	return snapshot, nil
}

// DeleteSnapshot removes the stored snapshot for the stream, if any.
func (es *EventStore) DeleteSnapshot(_ context.Context, stream eventstore.StreamName) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	delete(es.snapshots, stream.String())

	return nil
}
