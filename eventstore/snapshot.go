package eventstore

import (
	"encoding/json"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var (
	// ErrInvalidSnapshotJSON is returned when snapshot JSON data is malformed or invalid.
	ErrInvalidSnapshotJSON = errors.New("snapshot json is not valid")

	// ErrSavingSnapshotFailed is returned when the snapshot save operation fails.
	ErrSavingSnapshotFailed = errors.New("saving snapshot failed")

	// ErrLoadingSnapshotFailed is returned when the snapshot load operation fails.
	ErrLoadingSnapshotFailed = errors.New("loading snapshot failed")

	// ErrDeletingSnapshotFailed is returned when the snapshot delete operation fails.
	ErrDeletingSnapshotFailed = errors.New("deleting snapshot failed")

	// ErrSnapshotNotFound is returned when no snapshot exists for the requested stream.
	ErrSnapshotNotFound = errors.New("no snapshot stored for stream")
)

// Snapshot captures the state of one stream's aggregate up to StreamVersion.
//
// A reader may start from the latest snapshot and replay only subsequent events.
// Snapshot staleness only increases replay cost; it never affects correctness,
// because the events after StreamVersion are always replayed on top.
type Snapshot struct {
	Stream        StreamName
	StreamVersion StreamVersionUint
	Data          json.RawMessage
	CreatedAt     time.Time
}

// Validate ensures the snapshot has valid data for storage operations.
func (s Snapshot) Validate() error {
	if s.Stream.IsZero() {
		return ErrInvalidStreamName
	}

	if !jsoniter.ConfigFastest.Valid(s.Data) {
		return ErrInvalidSnapshotJSON
	}

	return nil
}

// BuildSnapshot creates a new Snapshot with validation.
func BuildSnapshot(stream StreamName, version StreamVersionUint, data json.RawMessage) (Snapshot, error) {
	snapshot := Snapshot{
		Stream:        stream,
		StreamVersion: version,
		Data:          data,
		CreatedAt:     time.Now(),
	}

	if err := snapshot.Validate(); err != nil {
		return Snapshot{}, err
	}

	return snapshot, nil
}
