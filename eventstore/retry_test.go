package eventstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/proteanhq/eventengine-go/eventstore"
)

func Test_RetryOnConcurrencyConflict_SuccessWithoutRetries(t *testing.T) {
	callCount := 0

	err := eventstore.RetryOnConcurrencyConflict(context.Background(), func(_ context.Context) error {
		callCount++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount)
}

func Test_RetryOnConcurrencyConflict_RetriesConflicts(t *testing.T) {
	callCount := 0

	err := eventstore.RetryOnConcurrencyConflict(context.Background(), func(_ context.Context) error {
		callCount++
		if callCount < 3 {
			return eventstore.ErrConcurrencyConflict
		}
		return nil
	}, eventstore.WithBaseDelay(time.Millisecond))

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount)
}

func Test_RetryOnConcurrencyConflict_OtherErrorsFailFast(t *testing.T) {
	permanentErr := errors.New("storage unavailable")
	callCount := 0

	err := eventstore.RetryOnConcurrencyConflict(context.Background(), func(_ context.Context) error {
		callCount++
		return permanentErr
	})

	assert.ErrorIs(t, err, permanentErr)
	assert.Equal(t, 1, callCount)
}

func Test_RetryOnConcurrencyConflict_ExhaustsAttempts(t *testing.T) {
	callCount := 0

	err := eventstore.RetryOnConcurrencyConflict(context.Background(), func(_ context.Context) error {
		callCount++
		return eventstore.ErrConcurrencyConflict
	}, eventstore.WithMaxAttempts(3), eventstore.WithBaseDelay(time.Millisecond))

	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	assert.Equal(t, 3, callCount)
}

func Test_RetryOnConcurrencyConflict_InvalidOptions(t *testing.T) {
	fn := func(_ context.Context) error { return nil }

	err := eventstore.RetryOnConcurrencyConflict(context.Background(), fn, eventstore.WithMaxAttempts(0))
	assert.ErrorIs(t, err, eventstore.ErrInvalidMaxAttempts)

	err = eventstore.RetryOnConcurrencyConflict(context.Background(), fn, eventstore.WithBaseDelay(-time.Second))
	assert.ErrorIs(t, err, eventstore.ErrNegativeBaseDelay)

	err = eventstore.RetryOnConcurrencyConflict(context.Background(), fn, eventstore.WithJitterFactor(1.5))
	assert.ErrorIs(t, err, eventstore.ErrInvalidJitterFactor)
}

func Test_RetryOnConcurrencyConflict_CanceledContextStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	callCount := 0

	err := eventstore.RetryOnConcurrencyConflict(ctx, func(_ context.Context) error {
		callCount++
		cancel()
		return eventstore.ErrConcurrencyConflict
	}, eventstore.WithBaseDelay(10*time.Second))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, callCount)
}
