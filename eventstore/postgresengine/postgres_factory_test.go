package postgresengine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/proteanhq/eventengine-go/eventstore"
	"github.com/proteanhq/eventengine-go/eventstore/postgresengine"
)

func Test_Factories_RejectNilConnections(t *testing.T) {
	_, err := postgresengine.NewEventStoreFromPGXPool(nil)
	assert.ErrorIs(t, err, eventstore.ErrNilDatabaseConnection)

	_, err = postgresengine.NewEventStoreFromPGXPoolWithReplica(nil, nil)
	assert.ErrorIs(t, err, eventstore.ErrNilDatabaseConnection)

	_, err = postgresengine.NewEventStoreFromSQLDB(nil)
	assert.ErrorIs(t, err, eventstore.ErrNilDatabaseConnection)

	_, err = postgresengine.NewEventStoreFromSQLX(nil)
	assert.ErrorIs(t, err, eventstore.ErrNilDatabaseConnection)
}

func Test_Options_RejectEmptyTableNames(t *testing.T) {
	pool := newTestPool(t)

	_, err := postgresengine.NewEventStoreFromPGXPool(pool, postgresengine.WithEventsTableName(""))
	assert.ErrorIs(t, err, eventstore.ErrEmptyEventsTableName)

	_, err = postgresengine.NewEventStoreFromPGXPool(pool, postgresengine.WithOutboxTableName(""))
	assert.ErrorIs(t, err, eventstore.ErrEmptyOutboxTableName)

	_, err = postgresengine.NewEventStoreFromPGXPool(pool, postgresengine.WithSnapshotsTableName(""))
	assert.ErrorIs(t, err, eventstore.ErrEmptySnapshotsTableName)
}
