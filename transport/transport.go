// Package transport defines the broker contract the engine produces to and
// consumes from: ordered, partitioned streams with consumer-group semantics.
//
// Implementations live in the subpackages redisstream, kafkatransport and
// memorytransport. The engine only depends on this package.
package transport

import (
	"context"
	"errors"
	"time"
)

var ErrPublishFailed = errors.New("publishing message to broker failed")
var ErrConsumeFailed = errors.New("consuming messages from broker failed")
var ErrAckFailed = errors.New("acknowledging messages failed")

// Well-known header keys carried on every message.
const (
	HeaderEventID          = "event_id"
	HeaderEventType        = "event_type"
	HeaderStream           = "stream"
	HeaderCausationID      = "causation_id"
	HeaderCorrelationID    = "correlation_id"
	HeaderIdempotencyToken = "idempotency_token"
	HeaderPriority         = "priority"
	HeaderOccurredAt       = "occurred_at"
)

// Message is one ordered broker message: payload plus metadata headers.
type Message struct {
	ID      string
	Stream  string
	Payload []byte
	Headers map[string]string
}

// Delivery wraps a consumed Message with its broker-assigned position,
// needed to acknowledge it within the consumer group.
type Delivery struct {
	Message
	Position string
}

// Transport is the broker contract: ordered streams with consumer groups.
//
// Within a single stream, publish order is preserved and delivered in that
// order to a given consumer group. Consumers must tolerate re-delivery of
// messages that were delivered but not acknowledged before a crash.
type Transport interface {
	// Publish appends the message to its stream. An error means the broker did
	// not acknowledge the message; it must not be treated as published.
	Publish(ctx context.Context, message Message) error

	// Consume reads up to count messages for the consumer group from the stream,
	// blocking for at most block when no message is available. A zero block
	// means a non-blocking read. An empty result with a nil error means the
	// stream is currently drained for this group.
	Consume(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Delivery, error)

	// Ack confirms the deliveries for the consumer group so they are not redelivered.
	Ack(ctx context.Context, stream, group string, positions ...string) error
}

// BackfillStream returns the backfill-lane stream name for a primary stream.
// Low-priority traffic is routed there at publish time so bulk workloads never
// occupy the primary delivery path.
func BackfillStream(stream, suffix string) string {
	return stream + suffix
}

// DeadLetterStream returns the dead-letter stream name for a consumer group.
// Exhausted-retry messages are appended there for operator replay.
func DeadLetterStream(group string) string {
	return "dead_letter-" + group
}
