package eventstore

import (
	"errors"
)

var ErrNilDatabaseConnection = errors.New("database connection must not be nil")
var ErrEmptyEventsTableName = errors.New("empty events table name supplied")
var ErrEmptyOutboxTableName = errors.New("empty outbox table name supplied")
var ErrEmptySnapshotsTableName = errors.New("empty snapshots table name supplied")
var ErrConcurrencyConflict = errors.New("concurrency conflict, stream version did not match")
var ErrBuildingQueryFailed = errors.New("building query failed")
var ErrQueryingEventsFailed = errors.New("querying events failed")
var ErrAppendingEventsFailed = errors.New("appending events failed")
var ErrScanningDBRowFailed = errors.New("scanning database row failed")
var ErrBuildingEventRecordFailed = errors.New("building event record from database row failed")
var ErrGettingRowsAffectedFailed = errors.New("getting rows affected count failed")

// StreamVersionUint is a type alias for uint, representing the version of a single event stream.
// Versions are gapless and start at 1 for the first event of a stream.
type StreamVersionUint = uint

// GlobalPositionUint is a type alias for uint64, representing the position of an event
// in the store-wide total order. Global positions are monotonic but not necessarily gapless.
type GlobalPositionUint = uint64
