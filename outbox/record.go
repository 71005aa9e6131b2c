package outbox

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidPayloadJSON = errors.New("outbox payload json is not valid")
var ErrEmptyStream = errors.New("outbox record stream must not be empty")

// Status describes the publish lifecycle of an outbox record.
type Status string

const (
	// StatusPending marks a record staged for publishing.
	StatusPending Status = "pending"

	// StatusPublished marks a record the broker has confirmed.
	// A record is only ever marked published after broker acknowledgment,
	// never speculatively.
	StatusPublished Status = "published"

	// StatusAbandoned marks a record whose publish attempts are exhausted.
	// Abandoned records are surfaced for operator attention, never discarded.
	StatusAbandoned Status = "abandoned"
)

// Records is an alias type for a slice of Record.
type Records = []Record

// Record is one event-to-be-published, staged in the same transaction as the
// owning aggregate's events.
//
// It should only be constructed with BuildRecord.
//
// Seq is assigned by the store at staging time. Within one priority it is the
// publish order; CreatedAt alone cannot provide that because all records of
// one append share a timestamp.
type Record struct {
	MessageID     string
	Stream        string
	Payload       []byte
	Headers       map[string]string
	Priority      int
	Status        Status
	Attempts      int
	Seq           int64
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// BuildRecord is a factory method for a pending Record.
//
// Returns an error if payload is not valid JSON or the target stream is empty.
func BuildRecord(stream string, payload []byte, headers map[string]string, priority int) (Record, error) {
	if stream == "" {
		return Record{}, ErrEmptyStream
	}

	if !json.Valid(payload) {
		return Record{}, ErrInvalidPayloadJSON
	}

	return Record{
		MessageID: uuid.NewString(),
		Stream:    stream,
		Payload:   payload,
		Headers:   headers,
		Priority:  priority,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}, nil
}
