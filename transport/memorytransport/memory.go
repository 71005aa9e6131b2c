// Package memorytransport implements the broker contract in process memory,
// for tests and examples. It supports consumer groups with bounded blocking
// reads and keeps unacknowledged deliveries so redelivery can be exercised.
package memorytransport

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/proteanhq/eventengine-go/transport"
)

// Transport is the in-process broker.
type Transport struct {
	mu      sync.Mutex
	streams map[string][]transport.Message
	groups  map[groupKey]*groupState
	notify  chan struct{}
}

type groupKey struct {
	stream string
	group  string
}

type groupState struct {
	nextIndex int
	unacked   map[string]struct{}
}

// NewTransport creates an empty in-process broker.
func NewTransport() *Transport {
	return &Transport{
		streams: make(map[string][]transport.Message),
		groups:  make(map[groupKey]*groupState),
		notify:  make(chan struct{}),
	}
}

// Publish appends the message to its stream and wakes blocked consumers.
func (t *Transport) Publish(_ context.Context, message transport.Message) error {
	t.mu.Lock()
	t.streams[message.Stream] = append(t.streams[message.Stream], message)

	// Broadcast to blocked consumers by closing and replacing the channel.
	close(t.notify)
	t.notify = make(chan struct{})
	t.mu.Unlock()

	return nil
}

// Consume reads up to count messages for the group, blocking for at most block
// when nothing is available.
func (t *Transport) Consume(
	ctx context.Context,
	stream, group, _ string,
	count int,
	block time.Duration,
) ([]transport.Delivery, error) {

	deadline := time.Now().Add(block)

	for {
		deliveries, waitCh := t.tryConsume(stream, group, count)
		if len(deliveries) > 0 || block <= 0 {
			return deliveries, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-waitCh:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		}
	}
}

func (t *Transport) tryConsume(stream, group string, count int) ([]transport.Delivery, chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.groups[groupKey{stream, group}]
	if state == nil {
		state = &groupState{unacked: make(map[string]struct{})}
		t.groups[groupKey{stream, group}] = state
	}

	messages := t.streams[stream]

	deliveries := make([]transport.Delivery, 0, count)
	for state.nextIndex < len(messages) && len(deliveries) < count {
		position := strconv.Itoa(state.nextIndex)
		deliveries = append(deliveries, transport.Delivery{
			Message:  messages[state.nextIndex],
			Position: position,
		})
		state.unacked[position] = struct{}{}
		state.nextIndex++
	}

	return deliveries, t.notify
}

// Ack confirms the deliveries for the consumer group.
func (t *Transport) Ack(_ context.Context, stream, group string, positions ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.groups[groupKey{stream, group}]
	if state == nil {
		return nil
	}

	for _, position := range positions {
		delete(state.unacked, position)
	}

	return nil
}

// ResetDelivery rewinds the group's read position to the earliest unacknowledged
// delivery, simulating the redelivery a real broker performs after a consumer
// crash. Intended for tests.
func (t *Transport) ResetDelivery(stream, group string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.groups[groupKey{stream, group}]
	if state == nil {
		return
	}

	earliest := state.nextIndex
	for position := range state.unacked {
		index, err := strconv.Atoi(position)
		if err == nil && index < earliest {
			earliest = index
		}
	}

	state.nextIndex = earliest
	state.unacked = make(map[string]struct{})
}

// Messages returns a copy of the stream's messages, for test assertions.
func (t *Transport) Messages(stream string) []transport.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	messages := make([]transport.Message, len(t.streams[stream]))
	copy(messages, t.streams[stream])

	return messages
}

// UnackedCount returns the number of unacknowledged deliveries for the group,
// for test assertions.
func (t *Transport) UnackedCount(stream, group string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.groups[groupKey{stream, group}]
	if state == nil {
		return 0
	}

	return len(state.unacked)
}
