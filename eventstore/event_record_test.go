package eventstore_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proteanhq/eventengine-go/eventstore"
)

func Test_BuildEventRecord_GeneratesEnvelope(t *testing.T) {
	stream, err := eventstore.BuildStreamName("order", "o-1")
	require.NoError(t, err)

	occurredAt := time.Now()
	record, err := eventstore.BuildEventRecord(stream, "OrderPlaced", occurredAt, []byte(`{"total": 42}`))

	require.NoError(t, err)
	assert.Equal(t, stream, record.Stream)
	assert.Equal(t, "OrderPlaced", record.EventType)
	assert.Equal(t, occurredAt, record.OccurredAt)
	assert.NotEmpty(t, record.Metadata.EventID)
	assert.Equal(t, record.Metadata.EventID, record.Metadata.CorrelationID,
		"a fresh record starts a new interaction, so its event id is its correlation id")
	assert.Zero(t, record.StreamVersion, "versions are assigned on append")
	assert.Zero(t, record.GlobalPosition)
}

func Test_BuildEventRecordWithMetadata_KeepsCallerEnvelope(t *testing.T) {
	stream, err := eventstore.BuildStreamName("order", "o-1")
	require.NoError(t, err)

	metadata := eventstore.Metadata{
		EventID:          "evt-1",
		CausationID:      "cmd-1",
		CorrelationID:    "corr-1",
		IdempotencyToken: "tok-1",
		Priority:         5,
	}

	record, err := eventstore.BuildEventRecordWithMetadata(stream, "OrderPlaced", time.Now(), []byte(`{}`), metadata)

	require.NoError(t, err)
	assert.Equal(t, metadata, record.Metadata)
}

func Test_BuildEventRecordWithMetadata_FillsEmptyEventID(t *testing.T) {
	stream, err := eventstore.BuildStreamName("order", "o-1")
	require.NoError(t, err)

	record, err := eventstore.BuildEventRecordWithMetadata(stream, "OrderPlaced", time.Now(), []byte(`{}`), eventstore.Metadata{})

	require.NoError(t, err)
	assert.NotEmpty(t, record.Metadata.EventID)
}

func Test_BuildEventRecord_Validation(t *testing.T) {
	stream, err := eventstore.BuildStreamName("order", "o-1")
	require.NoError(t, err)

	_, err = eventstore.BuildEventRecord(stream, "OrderPlaced", time.Now(), []byte(`{not json`))
	assert.ErrorIs(t, err, eventstore.ErrInvalidPayloadJSON)

	_, err = eventstore.BuildEventRecord(stream, "", time.Now(), []byte(`{}`))
	assert.ErrorIs(t, err, eventstore.ErrEmptyEventType)

	_, err = eventstore.BuildEventRecord(eventstore.StreamName{}, "OrderPlaced", time.Now(), []byte(`{}`))
	assert.ErrorIs(t, err, eventstore.ErrInvalidStreamName)
}

func Test_Metadata_JSONRoundTrip(t *testing.T) {
	metadata := eventstore.Metadata{
		EventID:          "evt-1",
		CausationID:      "cmd-1",
		CorrelationID:    "corr-1",
		IdempotencyToken: "tok-1",
		Priority:         3,
	}

	data, err := eventstore.MetadataToJSON(metadata)
	require.NoError(t, err)

	restored, err := eventstore.MetadataFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, metadata, restored)
}
