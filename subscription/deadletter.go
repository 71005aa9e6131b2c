package subscription

import (
	"context"
	"time"

	"github.com/proteanhq/eventengine-go/transport"
)

// ReadDeadLetters reads a batch from the consumer group's dead-letter stream,
// for operator replay tooling. Deliveries are not acknowledged here: an
// operator acknowledges via the transport once a message was replayed or
// discarded deliberately.
func ReadDeadLetters(
	ctx context.Context,
	tp transport.Transport,
	group, operator string,
	count int,
	block time.Duration,
) ([]transport.Delivery, error) {

	return tp.Consume(ctx, transport.DeadLetterStream(group), group+"-dlq", operator, count, block)
}
