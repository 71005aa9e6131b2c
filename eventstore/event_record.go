package eventstore

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var ErrInvalidPayloadJSON = errors.New("payload json is not valid")
var ErrEmptyEventType = errors.New("event type must not be empty")

// EventRecords is an alias type for a slice of EventRecord.
type EventRecords = []EventRecord

// Metadata carries the envelope information of an event record.
//
// CausationID points at the event or command that directly caused this event,
// CorrelationID groups all events of one business interaction.
// IdempotencyToken is only ever set from a caller-supplied token, never derived
// from payload data.
type Metadata struct {
	EventID          string `json:"event_id"`
	CausationID      string `json:"causation_id,omitempty"`
	CorrelationID    string `json:"correlation_id,omitempty"`
	IdempotencyToken string `json:"idempotency_token,omitempty"`
	Priority         int    `json:"priority,omitempty"`
}

// MetadataToJSON serializes metadata for storage.
func MetadataToJSON(m Metadata) ([]byte, error) {
	return jsoniter.ConfigFastest.Marshal(m)
}

// MetadataFromJSON deserializes metadata read back from storage.
func MetadataFromJSON(data []byte) (Metadata, error) {
	var m Metadata
	if err := jsoniter.ConfigFastest.Unmarshal(data, &m); err != nil {
		return Metadata{}, err
	}

	return m, nil
}

// EventRecord is a DTO (data transfer object) used by the EventStore to append events
// and query them back.
//
// It is built on scalars and raw JSON to be completely agnostic of the implementation
// of Domain Events in the client code.
//
// StreamVersion and GlobalPosition are assigned by the store on append;
// they are zero on records that were not read back from the store.
//
// While its properties are exported, it should only be constructed with the supplied
// factory methods:
//   - BuildEventRecord
//   - BuildEventRecordWithMetadata
type EventRecord struct {
	Stream         StreamName
	StreamVersion  StreamVersionUint
	GlobalPosition GlobalPositionUint
	EventType      string
	OccurredAt     time.Time
	PayloadJSON    []byte
	Metadata       Metadata
}

// BuildEventRecord is a factory method for EventRecord with generated envelope metadata.
//
// It assigns a fresh event id and uses it as correlation id, suitable for events
// that start a new business interaction.
// Returns an error if payloadJSON is not valid JSON.
func BuildEventRecord(
	stream StreamName,
	eventType string,
	occurredAt time.Time,
	payloadJSON []byte,
) (EventRecord, error) {

	eventID := uuid.NewString()

	return BuildEventRecordWithMetadata(stream, eventType, occurredAt, payloadJSON, Metadata{
		EventID:       eventID,
		CorrelationID: eventID,
	})
}

// BuildEventRecordWithMetadata is a factory method for EventRecord with caller-supplied metadata.
//
// An empty Metadata.EventID is filled with a fresh UUID.
// Returns an error if payloadJSON is not valid JSON.
func BuildEventRecordWithMetadata(
	stream StreamName,
	eventType string,
	occurredAt time.Time,
	payloadJSON []byte,
	metadata Metadata,
) (EventRecord, error) {

	if stream.IsZero() {
		return EventRecord{}, ErrInvalidStreamName
	}

	if eventType == "" {
		return EventRecord{}, ErrEmptyEventType
	}

	if !json.Valid(payloadJSON) {
		return EventRecord{}, ErrInvalidPayloadJSON
	}

	if metadata.EventID == "" {
		metadata.EventID = uuid.NewString()
	}

	return EventRecord{
		Stream:      stream,
		EventType:   eventType,
		OccurredAt:  occurredAt,
		PayloadJSON: payloadJSON,
		Metadata:    metadata,
	}, nil
}
