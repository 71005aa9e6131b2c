// Package kafkatransport implements the broker contract on Apache Kafka
// using segmentio/kafka-go.
//
// Streams map to topics and consumer groups to Kafka consumer groups.
// Ack commits the underlying offsets; uncommitted messages are redelivered
// after a consumer restart, matching the engine's redelivery expectations.
package kafkatransport

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/proteanhq/eventengine-go/transport"
)

const headerMessageID = "message_id"

// minFetchWindow is the floor for the fetch deadline of a non-blocking
// Consume. Fetching already-buffered messages needs no broker round-trip, but
// the reader's first fetch after joining the group does; a window shorter than
// that round-trip would report every topic as drained.
const minFetchWindow = 100 * time.Millisecond

// Transport is the Kafka implementation of the broker contract.
type Transport struct {
	brokers []string
	writer  *kafka.Writer

	mu       sync.Mutex
	readers  map[string]*kafka.Reader
	inflight map[string]kafka.Message
}

// NewTransport creates a Transport for the given broker addresses.
func NewTransport(brokers []string) *Transport {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.Hash{},
	}

	return &Transport{
		brokers:  brokers,
		writer:   writer,
		readers:  make(map[string]*kafka.Reader),
		inflight: make(map[string]kafka.Message),
	}
}

// Publish writes the message to its topic. An error means the broker did not
// acknowledge the write.
func (t *Transport) Publish(ctx context.Context, message transport.Message) error {
	headers := make([]kafka.Header, 0, len(message.Headers)+1)
	headers = append(headers, kafka.Header{Key: headerMessageID, Value: []byte(message.ID)})

	for key, value := range message.Headers {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}

	writeErr := t.writer.WriteMessages(ctx, kafka.Message{
		Topic:   message.Stream,
		Key:     []byte(message.ID),
		Value:   message.Payload,
		Headers: headers,
	})
	if writeErr != nil {
		return errors.Join(transport.ErrPublishFailed, writeErr)
	}

	return nil
}

// Consume fetches up to count messages for the consumer group, blocking for at
// most block when the topic is drained.
func (t *Transport) Consume(
	ctx context.Context,
	stream, group, _ string,
	count int,
	block time.Duration,
) ([]transport.Delivery, error) {

	reader := t.readerFor(stream, group)

	fetchCtx, cancel := context.WithTimeout(ctx, fetchWindow(block))
	defer cancel()

	deliveries := make([]transport.Delivery, 0, count)

	for len(deliveries) < count {
		message, fetchErr := reader.FetchMessage(fetchCtx)
		if fetchErr != nil {
			if errors.Is(fetchErr, context.DeadlineExceeded) || errors.Is(fetchErr, context.Canceled) {
				break // drained within the blocking window
			}

			return nil, errors.Join(transport.ErrConsumeFailed, fetchErr)
		}

		position := positionFor(message)

		t.mu.Lock()
		t.inflight[readerKey(stream, group)+"/"+position] = message
		t.mu.Unlock()

		deliveries = append(deliveries, transport.Delivery{
			Message: transport.Message{
				ID:      headerValue(message, headerMessageID),
				Stream:  stream,
				Payload: message.Value,
				Headers: headersFor(message),
			},
			Position: position,
		})
	}

	return deliveries, nil
}

// Ack commits the offsets of the given deliveries for the consumer group.
func (t *Transport) Ack(ctx context.Context, stream, group string, positions ...string) error {
	if len(positions) == 0 {
		return nil
	}

	reader := t.readerFor(stream, group)

	messages := make([]kafka.Message, 0, len(positions))

	t.mu.Lock()
	for _, position := range positions {
		key := readerKey(stream, group) + "/" + position
		if message, found := t.inflight[key]; found {
			messages = append(messages, message)
			delete(t.inflight, key)
		}
	}
	t.mu.Unlock()

	if len(messages) == 0 {
		return nil
	}

	if commitErr := reader.CommitMessages(ctx, messages...); commitErr != nil {
		return errors.Join(transport.ErrAckFailed, commitErr)
	}

	return nil
}

// Close shuts down the writer and all readers.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	closeErr := t.writer.Close()

	for _, reader := range t.readers {
		if readerErr := reader.Close(); readerErr != nil && closeErr == nil {
			closeErr = readerErr
		}
	}

	return closeErr
}

func (t *Transport) readerFor(stream, group string) *kafka.Reader {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := readerKey(stream, group)

	reader, found := t.readers[key]
	if !found {
		reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  t.brokers,
			GroupID:  group,
			Topic:    stream,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
		t.readers[key] = reader
	}

	return reader
}

func fetchWindow(block time.Duration) time.Duration {
	if block < minFetchWindow {
		return minFetchWindow
	}

	return block
}

func readerKey(stream, group string) string {
	return stream + "/" + group
}

func positionFor(message kafka.Message) string {
	return strconv.Itoa(message.Partition) + ":" + strconv.FormatInt(message.Offset, 10)
}

func headerValue(message kafka.Message, key string) string {
	for _, header := range message.Headers {
		if header.Key == key {
			return string(header.Value)
		}
	}

	return ""
}

func headersFor(message kafka.Message) map[string]string {
	headers := make(map[string]string, len(message.Headers))
	for _, header := range message.Headers {
		if header.Key == headerMessageID {
			continue
		}
		headers[header.Key] = string(header.Value)
	}

	return headers
}
