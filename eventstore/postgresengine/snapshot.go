package postgresengine

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/proteanhq/eventengine-go/eventstore"
)

const (
	logMsgSnapshotSaved   = "snapshot saved"
	logMsgSnapshotLoaded  = "snapshot loaded"
	logMsgSnapshotDeleted = "snapshot deleted"
	logActionSnapshot     = "snapshot"
)

// SaveSnapshot stores the snapshot for its stream, replacing any previous one.
// Snapshots always go to the primary database.
func (es EventStore) SaveSnapshot(ctx context.Context, snapshot eventstore.Snapshot) error {
	if validateErr := snapshot.Validate(); validateErr != nil {
		return validateErr
	}

	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(es.snapshotsTableName).
		Cols(colStreamName, colStreamVersion, colData, colCreatedAt).
		Vals(goqu.Vals{
			snapshot.Stream.String(),
			snapshot.StreamVersion,
			goqu.L(castJsonb, string(snapshot.Data)),
			snapshot.CreatedAt,
		}).
		OnConflict(goqu.DoUpdate(colStreamName, goqu.Record{
			colStreamVersion: snapshot.StreamVersion,
			colData:          goqu.L(castJsonb, string(snapshot.Data)),
			colCreatedAt:     snapshot.CreatedAt,
		}))

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return errors.Join(eventstore.ErrSavingSnapshotFailed, toSQLErr)
	}

	if _, execErr := es.db.Exec(ctx, sqlQuery); execErr != nil {
		es.logError(ctx, logMsgDBExecFailed, logAttrError, execErr.Error(), logAttrQuery, sqlQuery)
		return errors.Join(eventstore.ErrSavingSnapshotFailed, execErr)
	}

	es.logOperation(ctx, logMsgSnapshotSaved, logAttrStream, snapshot.Stream.String())

	return nil
}

// LoadSnapshot retrieves the latest snapshot for the stream.
// Returns eventstore.ErrSnapshotNotFound if none was stored.
//
// A stale snapshot is not an error: readers replay the events after
// Snapshot.StreamVersion on top, so staleness only costs replay time.
func (es EventStore) LoadSnapshot(ctx context.Context, stream eventstore.StreamName) (eventstore.Snapshot, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(es.snapshotsTableName).
		Select(colStreamVersion, colData, colCreatedAt).
		Where(goqu.Ex{colStreamName: stream.String()})

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return eventstore.Snapshot{}, errors.Join(eventstore.ErrLoadingSnapshotFailed, toSQLErr)
	}

	rows, _, queryErr := es.executeQuery(ctx, sqlQuery, logActionSnapshot)
	if queryErr != nil {
		return eventstore.Snapshot{}, errors.Join(eventstore.ErrLoadingSnapshotFailed, queryErr)
	}
	defer es.closeRows(rows)

	if !rows.Next() {
		return eventstore.Snapshot{}, eventstore.ErrSnapshotNotFound
	}

	var (
		version   eventstore.StreamVersionUint
		data      []byte
		createdAt time.Time
	)

	if scanErr := rows.Scan(&version, &data, &createdAt); scanErr != nil {
		es.logError(ctx, logMsgScanRowFailed, logAttrError, scanErr.Error())
		return eventstore.Snapshot{}, errors.Join(eventstore.ErrLoadingSnapshotFailed, scanErr)
	}

	es.logOperation(ctx, logMsgSnapshotLoaded, logAttrStream, stream.String())

	return eventstore.Snapshot{
		Stream:        stream,
		StreamVersion: version,
		Data:          data,
		CreatedAt:     createdAt,
	}, nil
}

// DeleteSnapshot removes the stored snapshot for the stream, if any.
func (es EventStore) DeleteSnapshot(ctx context.Context, stream eventstore.StreamName) error {
	deleteStmt := goqu.Dialect(dialectPostgres).
		Delete(es.snapshotsTableName).
		Where(goqu.Ex{colStreamName: stream.String()})

	sqlQuery, _, toSQLErr := deleteStmt.ToSQL()
	if toSQLErr != nil {
		return errors.Join(eventstore.ErrDeletingSnapshotFailed, toSQLErr)
	}

	if _, execErr := es.db.Exec(ctx, sqlQuery); execErr != nil {
		es.logError(ctx, logMsgDBExecFailed, logAttrError, execErr.Error(), logAttrQuery, sqlQuery)
		return errors.Join(eventstore.ErrDeletingSnapshotFailed, execErr)
	}

	es.logOperation(ctx, logMsgSnapshotDeleted, logAttrStream, stream.String())

	return nil
}
