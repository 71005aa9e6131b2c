package eventstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proteanhq/eventengine-go/eventstore"
)

func Test_BuildStreamName_Success(t *testing.T) {
	stream, err := eventstore.BuildStreamName("order", "o-123")

	require.NoError(t, err)
	assert.Equal(t, eventstore.CategoryString("order"), stream.Category())
	assert.Equal(t, "o-123", stream.ID())
	assert.Equal(t, "order-o-123", stream.String())
}

func Test_BuildStreamName_EmptyParts(t *testing.T) {
	_, err := eventstore.BuildStreamName("", "o-123")
	assert.ErrorIs(t, err, eventstore.ErrEmptyCategory)

	_, err = eventstore.BuildStreamName("order", "")
	assert.ErrorIs(t, err, eventstore.ErrEmptyStreamID)
}

func Test_ParseStreamName_SplitsAtFirstDash(t *testing.T) {
	testCases := []struct {
		name             string
		raw              string
		expectedCategory eventstore.CategoryString
		expectedID       string
	}{
		{name: "simple id", raw: "order-123", expectedCategory: "order", expectedID: "123"},
		{name: "id containing dashes", raw: "order-a1b2-c3d4-e5f6", expectedCategory: "order", expectedID: "a1b2-c3d4-e5f6"},
		{name: "uuid id", raw: "payment-550e8400-e29b-41d4-a716-446655440000", expectedCategory: "payment", expectedID: "550e8400-e29b-41d4-a716-446655440000"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			stream, err := eventstore.ParseStreamName(tc.raw)

			require.NoError(t, err)
			assert.Equal(t, tc.expectedCategory, stream.Category())
			assert.Equal(t, tc.expectedID, stream.ID())
			assert.Equal(t, tc.raw, stream.String())
		})
	}
}

func Test_ParseStreamName_Invalid(t *testing.T) {
	for _, raw := range []string{"", "order", "order-", "-123"} {
		_, err := eventstore.ParseStreamName(raw)
		assert.Error(t, err, "raw: %q", raw)
	}
}

func Test_StreamName_IsZero(t *testing.T) {
	var zero eventstore.StreamName
	assert.True(t, zero.IsZero())

	stream, err := eventstore.BuildStreamName("order", "1")
	require.NoError(t, err)
	assert.False(t, stream.IsZero())
}
