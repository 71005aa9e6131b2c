package kafkatransport

import (
	"context"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func Test_Transport_PositionEncodesPartitionAndOffset(t *testing.T) {
	position := positionFor(kafka.Message{Partition: 3, Offset: 42})

	assert.Equal(t, "3:42", position)
}

func Test_Transport_HeadersRoundTripWithoutTheMessageIDHeader(t *testing.T) {
	message := kafka.Message{
		Headers: []kafka.Header{
			{Key: headerMessageID, Value: []byte("m-1")},
			{Key: "event_type", Value: []byte("OrderPlaced")},
			{Key: "stream", Value: []byte("order-1")},
		},
	}

	assert.Equal(t, "m-1", headerValue(message, headerMessageID))
	assert.Empty(t, headerValue(message, "missing"))

	headers := headersFor(message)
	assert.Equal(t, map[string]string{
		"event_type": "OrderPlaced",
		"stream":     "order-1",
	}, headers)
}

func Test_Transport_FetchWindowNeverDropsBelowABrokerRoundTrip(t *testing.T) {
	assert.Equal(t, minFetchWindow, fetchWindow(0), "a non-blocking read still needs a broker round-trip")
	assert.Equal(t, minFetchWindow, fetchWindow(time.Millisecond))
	assert.Equal(t, time.Second, fetchWindow(time.Second))
}

func Test_Transport_Ack_WithoutPositionsIsANoOp(t *testing.T) {
	broker := NewTransport([]string{"localhost:9092"})

	assert.NoError(t, broker.Ack(context.Background(), "order", "grp"))
}
