// Package redisstream implements the broker contract on Redis Streams.
//
// Messages are appended with XADD and consumed through consumer groups with
// XREADGROUP / XACK. Reading with ">" only ever returns entries never
// delivered to the group, so entries delivered before a crash but not
// acknowledged sit in the consumer's pending entries list. Each consumer
// therefore drains its pending entries (reading from id "0") on the first
// Consume calls after startup before switching to new entries, which is what
// makes redelivery of unacknowledged entries actually happen.
package redisstream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/proteanhq/eventengine-go/transport"
)

const (
	fieldMessageID = "message_id"
	fieldPayload   = "payload"
	fieldHeaders   = "headers"

	busyGroupPrefix = "BUSYGROUP"
)

// Transport is the Redis Streams implementation of the broker contract.
type Transport struct {
	client *redis.Client

	mu            sync.Mutex
	createdGroups map[string]struct{}
	recovered     map[string]struct{}
}

// NewTransport creates a Transport on an existing Redis client.
func NewTransport(client *redis.Client) *Transport {
	return &Transport{
		client:        client,
		createdGroups: make(map[string]struct{}),
		recovered:     make(map[string]struct{}),
	}
}

// Publish appends the message to its stream via XADD.
// An error means Redis did not acknowledge the entry.
func (t *Transport) Publish(ctx context.Context, message transport.Message) error {
	headersJSON, marshalErr := jsoniter.ConfigFastest.Marshal(message.Headers)
	if marshalErr != nil {
		return errors.Join(transport.ErrPublishFailed, marshalErr)
	}

	addErr := t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: message.Stream,
		Values: map[string]any{
			fieldMessageID: message.ID,
			fieldPayload:   string(message.Payload),
			fieldHeaders:   string(headersJSON),
		},
	}).Err()
	if addErr != nil {
		return errors.Join(transport.ErrPublishFailed, addErr)
	}

	return nil
}

// Consume reads up to count messages for the consumer group via XREADGROUP,
// blocking for at most block when the stream is drained. A zero block means a
// non-blocking read.
func (t *Transport) Consume(
	ctx context.Context,
	stream, group, consumer string,
	count int,
	block time.Duration,
) ([]transport.Delivery, error) {

	if ensureErr := t.ensureGroup(ctx, stream, group); ensureErr != nil {
		return nil, ensureErr
	}

	if pending, recoverErr := t.recoverPending(ctx, stream, group, consumer, count); recoverErr != nil || len(pending) > 0 {
		return pending, recoverErr
	}

	// go-redis treats Block 0 as "block forever"; a negative value omits the
	// BLOCK argument entirely, giving the non-blocking read we want.
	if block <= 0 {
		block = -1
	}

	result, readErr := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    int64(count),
		Block:    block,
	}).Result()

	if readErr != nil {
		if errors.Is(readErr, redis.Nil) {
			return nil, nil // stream drained
		}

		return nil, errors.Join(transport.ErrConsumeFailed, readErr)
	}

	return buildDeliveries(stream, result, count)
}

// recoverPending drains the consumer's pending entries list, one batch per
// call. Reading from id "0" returns only entries previously delivered to this
// consumer but never acknowledged; once a read comes back empty the list is
// drained and new-entry reads take over for the lifetime of the Transport.
func (t *Transport) recoverPending(
	ctx context.Context,
	stream, group, consumer string,
	count int,
) ([]transport.Delivery, error) {

	key := stream + "/" + group + "/" + consumer

	t.mu.Lock()
	_, alreadyRecovered := t.recovered[key]
	t.mu.Unlock()

	if alreadyRecovered {
		return nil, nil
	}

	result, readErr := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, "0"},
		Count:    int64(count),
		Block:    -1,
	}).Result()
	if readErr != nil && !errors.Is(readErr, redis.Nil) {
		return nil, errors.Join(transport.ErrConsumeFailed, readErr)
	}

	deliveries, buildErr := buildDeliveries(stream, result, count)
	if buildErr != nil {
		return nil, buildErr
	}

	if len(deliveries) == 0 {
		t.mu.Lock()
		t.recovered[key] = struct{}{}
		t.mu.Unlock()
	}

	return deliveries, nil
}

// Ack confirms the deliveries for the consumer group via XACK.
func (t *Transport) Ack(ctx context.Context, stream, group string, positions ...string) error {
	if len(positions) == 0 {
		return nil
	}

	if ackErr := t.client.XAck(ctx, stream, group, positions...).Err(); ackErr != nil {
		return errors.Join(transport.ErrAckFailed, ackErr)
	}

	return nil
}

// ensureGroup creates the consumer group at the start of the stream once,
// creating the stream as well if it does not exist yet.
func (t *Transport) ensureGroup(ctx context.Context, stream, group string) error {
	key := stream + "/" + group

	t.mu.Lock()
	_, alreadyCreated := t.createdGroups[key]
	t.mu.Unlock()

	if alreadyCreated {
		return nil
	}

	createErr := t.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if createErr != nil && !strings.HasPrefix(createErr.Error(), busyGroupPrefix) {
		return errors.Join(transport.ErrConsumeFailed, createErr)
	}

	t.mu.Lock()
	t.createdGroups[key] = struct{}{}
	t.mu.Unlock()

	return nil
}

func buildDeliveries(stream string, result []redis.XStream, count int) ([]transport.Delivery, error) {
	deliveries := make([]transport.Delivery, 0, count)

	for _, streamResult := range result {
		for _, entry := range streamResult.Messages {
			delivery, buildErr := buildDelivery(stream, entry)
			if buildErr != nil {
				return nil, buildErr
			}

			deliveries = append(deliveries, delivery)
		}
	}

	return deliveries, nil
}

func buildDelivery(stream string, entry redis.XMessage) (transport.Delivery, error) {
	message := transport.Message{
		Stream: stream,
	}

	if id, ok := entry.Values[fieldMessageID].(string); ok {
		message.ID = id
	}

	if payload, ok := entry.Values[fieldPayload].(string); ok {
		message.Payload = []byte(payload)
	}

	if headersJSON, ok := entry.Values[fieldHeaders].(string); ok && headersJSON != "" {
		if unmarshalErr := jsoniter.ConfigFastest.Unmarshal([]byte(headersJSON), &message.Headers); unmarshalErr != nil {
			return transport.Delivery{}, errors.Join(transport.ErrConsumeFailed, unmarshalErr)
		}
	}

	return transport.Delivery{
		Message:  message,
		Position: entry.ID,
	}, nil
}
