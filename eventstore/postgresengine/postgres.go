package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/proteanhq/eventengine-go/eventstore"
	"github.com/proteanhq/eventengine-go/eventstore/postgresengine/internal/adapters"
	"github.com/proteanhq/eventengine-go/outbox"
)

const (
	defaultEventsTableName    = "events"
	defaultOutboxTableName    = "outbox"
	defaultSnapshotsTableName = "snapshots"

	logMsgBuildSelectQueryFailed = "failed to build select query"
	logMsgDBQueryFailed          = "database query execution failed"
	logMsgCloseRowsFailed        = "failed to close database rows"
	logMsgScanRowFailed          = "failed to scan database row"
	logMsgBuildEventRecordFailed = "failed to build event record from database row"
	logMsgBuildInsertQueryFailed = "failed to build insert query"
	logMsgDBExecFailed           = "database execution failed during event append"
	logMsgRowsAffectedFailed     = "failed to get rows affected count"
	logMsgBeginTxFailed          = "failed to begin append transaction"
	logMsgCommitTxFailed         = "failed to commit append transaction"
	logMsgQueryCompleted         = "query completed"
	logMsgEventsAppended         = "events appended"
	logMsgConcurrencyConflict    = "concurrency conflict detected"
	logMsgSQLExecuted            = "executed sql for: "
	logMsgOperation              = "eventstore operation: "
	logAttrError                 = "error"
	logAttrQuery                 = "query"
	logAttrStream                = "stream"
	logAttrCategory              = "category"
	logAttrEventCount            = "event_count"
	logAttrOutboxCount           = "outbox_count"
	logAttrDurationMS            = "duration_ms"
	logAttrExpectedVersion       = "expected_version"
	logAttrRowsAffected          = "rows_affected"
	logActionReadStream          = "read stream"
	logActionReadCategory        = "read category"
	logActionAppend              = "append"
	logActionCurrentVersion      = "current version"
	colStreamName                = "stream_name"
	colCategory                  = "category"
	colStreamVersion             = "stream_version"
	colGlobalPosition            = "global_position"
	colEventType                 = "event_type"
	colOccurredAt                = "occurred_at"
	colPayload                   = "payload"
	colMetadata                  = "metadata"
	colMessageID                 = "message_id"
	colStream                    = "stream"
	colHeaders                   = "headers"
	colPriority                  = "priority"
	colStatus                    = "status"
	colAttempts                  = "attempts"
	colNextAttemptAt             = "next_attempt_at"
	colCreatedAt                 = "created_at"
	colData                      = "data"
	cteContext                   = "context"
	cteVals                      = "vals"
	dialectPostgres              = "postgres"
	aliasCurrentVersion          = "current_version"
	colVersionOffset             = "version_offset"
	castInt                      = "?::int"
	castText                     = "?::text"
	castTimestamp                = "?::timestamp with time zone"
	castJsonb                    = "?::jsonb"
	exprNewStreamVersion         = "context.current_version + vals.version_offset"
	exprCurrentVersion           = "context.current_version"
	pgUniqueViolationCode        = "23505"
)

type (
	sqlQueryString    = string
	rowsAffectedInt64 = int64
	queryDuration     = time.Duration
)

// Logger interface for SQL query logging, operational information, warnings, and error reporting.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// EventStore is the Postgres implementation of the append-only, versioned,
// stream-partitioned event log.
//
// Appends are protected by optimistic concurrency: the insert is guarded by a
// CTE reading the stream's current version, so the write only takes effect when
// the caller's expected version still matches. A unique index on
// (stream_name, stream_version) acts as a backstop under concurrent writers.
//
// Outbox records handed to Append are written in the same transaction as the
// event rows, which is the engine's atomic commit + publish-intent guarantee.
type EventStore struct {
	db                 adapters.DBAdapter
	eventsTableName    string
	outboxTableName    string
	snapshotsTableName string
	logger             Logger
	contextualLogger   ContextualLogger
	metricsCollector   MetricsCollector
	tracingCollector   TracingCollector
}

type queryResultRow struct {
	streamName     string
	streamVersion  eventstore.StreamVersionUint
	globalPosition eventstore.GlobalPositionUint
	eventType      string
	occurredAt     time.Time
	payload        []byte
	metadata       []byte
}

// NewEventStoreFromPGXPool creates a new EventStore using a pgx Pool with optional configuration.
func NewEventStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (EventStore, error) {
	if db == nil {
		return EventStore{}, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewPGXAdapter(db), options...)
}

// NewEventStoreFromPGXPoolWithReplica creates a new EventStore using a primary
// pgx Pool and a replica pool. Reads are routed to the replica when the context
// allows eventual consistency, see eventstore.WithEventualConsistency.
func NewEventStoreFromPGXPoolWithReplica(db *pgxpool.Pool, replica *pgxpool.Pool, options ...Option) (EventStore, error) {
	if db == nil || replica == nil {
		return EventStore{}, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewPGXAdapterWithReplica(db, replica), options...)
}

// NewEventStoreFromSQLDB creates a new EventStore using a sql.DB with optional configuration.
func NewEventStoreFromSQLDB(db *sql.DB, options ...Option) (EventStore, error) {
	if db == nil {
		return EventStore{}, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLAdapter(db), options...)
}

// NewEventStoreFromSQLX creates a new EventStore using a sqlx.DB with optional configuration.
func NewEventStoreFromSQLX(db *sqlx.DB, options ...Option) (EventStore, error) {
	if db == nil {
		return EventStore{}, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLXAdapter(db), options...)
}

func newEventStore(adapter adapters.DBAdapter, options ...Option) (EventStore, error) {
	es := EventStore{
		db:                 adapter,
		eventsTableName:    defaultEventsTableName,
		outboxTableName:    defaultOutboxTableName,
		snapshotsTableName: defaultSnapshotsTableName,
	}

	for _, option := range options {
		if err := option(&es); err != nil {
			return EventStore{}, err
		}
	}

	return es, nil
}

// Append atomically appends one or multiple event records to the given stream,
// together with the staged outbox records, respecting optimistic concurrency.
//
// The append only takes effect when expectedVersion equals the stream's current
// version; otherwise eventstore.ErrConcurrencyConflict is returned and nothing
// is applied - not even partially.
//
// On success it returns the stream's new current version.
func (es EventStore) Append(
	ctx context.Context,
	stream eventstore.StreamName,
	expectedVersion eventstore.StreamVersionUint,
	records eventstore.EventRecords,
	staged outbox.Records,
) (eventstore.StreamVersionUint, error) {

	if len(records) == 0 {
		return expectedVersion, nil
	}

	ctx, span := es.startSpan(ctx, spanNameAppend, map[string]string{
		spanAttrOperation:  operationAppend,
		spanAttrStream:     stream.String(),
		spanAttrEventCount: strconv.Itoa(len(records)),
	})

	insertEventsQuery, buildQueryErr := es.buildInsertEventsQuery(stream, expectedVersion, records)
	if buildQueryErr != nil {
		es.logError(ctx, logMsgBuildInsertQueryFailed, logAttrError, buildQueryErr.Error(), logAttrStream, stream.String())
		es.finishSpanError(span, errorTypeDatabase)

		return 0, buildQueryErr
	}

	var insertOutboxQuery sqlQueryString
	if len(staged) > 0 {
		var buildOutboxErr error
		insertOutboxQuery, buildOutboxErr = es.buildInsertOutboxQuery(staged)
		if buildOutboxErr != nil {
			es.logError(ctx, logMsgBuildInsertQueryFailed, logAttrError, buildOutboxErr.Error(), logAttrOutboxCount, len(staged))
			es.finishSpanError(span, errorTypeDatabase)

			return 0, buildOutboxErr
		}
	}

	rowsAffected, duration, execErr := es.executeAppendTx(ctx, insertEventsQuery, insertOutboxQuery, len(records))
	if execErr != nil {
		errorType := errorTypeDatabase
		if errors.Is(execErr, eventstore.ErrConcurrencyConflict) {
			errorType = errorTypeConcurrencyConflict
			es.recordConcurrencyConflictMetric(ctx, operationAppend)
		} else {
			es.recordErrorMetric(ctx, operationAppend, errorTypeDatabase)
		}

		es.recordDurationMetric(ctx, metricAppendDuration, duration, operationAppend, statusError)
		es.finishSpanError(span, errorType)

		return 0, execErr
	}

	if rowsAffected < int64(len(records)) {
		es.logOperation(
			ctx,
			logMsgConcurrencyConflict,
			logAttrStream, stream.String(),
			logAttrExpectedVersion, expectedVersion,
			logAttrRowsAffected, rowsAffected,
		)
		es.recordConcurrencyConflictMetric(ctx, operationAppend)
		es.recordDurationMetric(ctx, metricAppendDuration, duration, operationAppend, statusError)
		es.finishSpanError(span, errorTypeConcurrencyConflict)

		return 0, eventstore.ErrConcurrencyConflict
	}

	es.logOperation(
		ctx,
		logMsgEventsAppended,
		logAttrStream, stream.String(),
		logAttrEventCount, len(records),
		logAttrOutboxCount, len(staged),
		logAttrDurationMS, es.durationToMilliseconds(duration),
	)
	es.recordDurationMetric(ctx, metricAppendDuration, duration, operationAppend, statusSuccess)
	es.recordValueMetric(ctx, metricEventsAppended, float64(len(records)), operationAppend)
	es.finishSpanSuccess(span, len(records))

	return expectedVersion + eventstore.StreamVersionUint(len(records)), nil
}

// executeAppendTx runs the event insert and the outbox insert in one transaction.
func (es EventStore) executeAppendTx(
	ctx context.Context,
	insertEventsQuery sqlQueryString,
	insertOutboxQuery sqlQueryString,
	eventCount int,
) (rowsAffectedInt64, queryDuration, error) {

	start := time.Now()

	tx, beginErr := es.db.BeginTx(ctx)
	if beginErr != nil {
		es.logError(ctx, logMsgBeginTxFailed, logAttrError, beginErr.Error())
		return 0, 0, errors.Join(eventstore.ErrAppendingEventsFailed, beginErr)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	result, execErr := tx.Exec(ctx, insertEventsQuery)
	if execErr != nil {
		if isUniqueViolation(execErr) {
			// Two writers raced past the CTE guard; the unique index on
			// (stream_name, stream_version) decides the loser.
			return 0, time.Since(start), eventstore.ErrConcurrencyConflict
		}

		es.logError(ctx, logMsgDBExecFailed, logAttrError, execErr.Error(), logAttrQuery, insertEventsQuery)

		return 0, time.Since(start), errors.Join(eventstore.ErrAppendingEventsFailed, execErr)
	}

	rowsAffected, rowsAffectedErr := result.RowsAffected()
	if rowsAffectedErr != nil {
		es.logError(ctx, logMsgRowsAffectedFailed, logAttrError, rowsAffectedErr.Error())
		return 0, time.Since(start), errors.Join(eventstore.ErrGettingRowsAffectedFailed, rowsAffectedErr)
	}

	// Outbox rows are only staged when the version guard let the events in.
	if insertOutboxQuery != "" && rowsAffected == int64(eventCount) {
		if _, outboxErr := tx.Exec(ctx, insertOutboxQuery); outboxErr != nil {
			es.logError(ctx, logMsgDBExecFailed, logAttrError, outboxErr.Error(), logAttrQuery, insertOutboxQuery)
			return 0, time.Since(start), errors.Join(eventstore.ErrAppendingEventsFailed, outboxErr)
		}
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		es.logError(ctx, logMsgCommitTxFailed, logAttrError, commitErr.Error())
		return 0, time.Since(start), errors.Join(eventstore.ErrAppendingEventsFailed, commitErr)
	}

	duration := time.Since(start)
	es.logQueryWithDuration(ctx, insertEventsQuery, logActionAppend, duration)

	return rowsAffected, duration, nil
}

// ReadStream retrieves the events of one stream with a version higher than
// fromVersion, ordered by stream version. A limit of 0 means no limit.
func (es EventStore) ReadStream(
	ctx context.Context,
	stream eventstore.StreamName,
	fromVersion eventstore.StreamVersionUint,
	limit uint,
) (eventstore.EventRecords, error) {

	selectStmt := goqu.Dialect(dialectPostgres).
		From(es.eventsTableName).
		Select(colStreamName, colStreamVersion, colGlobalPosition, colEventType, colOccurredAt, colPayload, colMetadata).
		Where(goqu.Ex{colStreamName: stream.String()}, goqu.C(colStreamVersion).Gt(fromVersion)).
		Order(goqu.I(colStreamVersion).Asc())

	if limit > 0 {
		selectStmt = selectStmt.Limit(limit)
	}

	return es.runSelectQuery(ctx, selectStmt, logActionReadStream)
}

// ReadCategory retrieves the events of all streams of one category with a
// global position higher than fromPosition, in the store-wide stable merge
// order. A limit of 0 means no limit.
//
// Consumers must not assume cross-stream ordering beyond causal links carried
// in event metadata.
func (es EventStore) ReadCategory(
	ctx context.Context,
	category eventstore.CategoryString,
	fromPosition eventstore.GlobalPositionUint,
	limit uint,
) (eventstore.EventRecords, error) {

	selectStmt := goqu.Dialect(dialectPostgres).
		From(es.eventsTableName).
		Select(colStreamName, colStreamVersion, colGlobalPosition, colEventType, colOccurredAt, colPayload, colMetadata).
		Where(goqu.Ex{colCategory: category}, goqu.C(colGlobalPosition).Gt(fromPosition)).
		Order(goqu.I(colGlobalPosition).Asc())

	if limit > 0 {
		selectStmt = selectStmt.Limit(limit)
	}

	return es.runSelectQuery(ctx, selectStmt, logActionReadCategory)
}

// CurrentVersion returns the stream's current version, 0 for a stream with no events.
func (es EventStore) CurrentVersion(ctx context.Context, stream eventstore.StreamName) (eventstore.StreamVersionUint, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(es.eventsTableName).
		Select(goqu.COALESCE(goqu.MAX(colStreamVersion), 0).As(aliasCurrentVersion)).
		Where(goqu.Ex{colStreamName: stream.String()})

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return 0, errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	rows, _, queryErr := es.executeQuery(ctx, sqlQuery, logActionCurrentVersion)
	if queryErr != nil {
		return 0, queryErr
	}
	defer es.closeRows(rows)

	var currentVersion eventstore.StreamVersionUint
	if rows.Next() {
		if scanErr := rows.Scan(&currentVersion); scanErr != nil {
			es.logError(ctx, logMsgScanRowFailed, logAttrError, scanErr.Error())
			return 0, errors.Join(eventstore.ErrScanningDBRowFailed, scanErr)
		}
	}

	return currentVersion, nil
}

func (es EventStore) runSelectQuery(
	ctx context.Context,
	selectStmt *goqu.SelectDataset,
	action string,
) (eventstore.EventRecords, error) {

	ctx, span := es.startSpan(ctx, spanNameQuery, map[string]string{
		spanAttrOperation: action,
	})

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		es.logError(ctx, logMsgBuildSelectQueryFailed, logAttrError, toSQLErr.Error())
		es.finishSpanError(span, errorTypeDatabase)

		return nil, errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	rows, duration, queryErr := es.executeQuery(ctx, sqlQuery, action)
	if queryErr != nil {
		es.recordErrorMetric(ctx, operationQuery, errorTypeDatabase)
		es.recordDurationMetric(ctx, metricQueryDuration, duration, operationQuery, statusError)
		es.finishSpanError(span, errorTypeDatabase)

		return nil, queryErr
	}
	defer es.closeRows(rows)

	records, scanErr := es.processQueryResults(ctx, rows)
	if scanErr != nil {
		es.recordErrorMetric(ctx, operationQuery, errorTypeDatabase)
		es.finishSpanError(span, errorTypeDatabase)

		return nil, scanErr
	}

	es.logOperation(
		ctx,
		logMsgQueryCompleted,
		logAttrEventCount, len(records),
		logAttrDurationMS, es.durationToMilliseconds(duration))
	es.recordDurationMetric(ctx, metricQueryDuration, duration, operationQuery, statusSuccess)
	es.finishSpanSuccess(span, len(records))

	return records, nil
}

// executeQuery executes the SQL query and returns rows with timing information.
func (es EventStore) executeQuery(ctx context.Context, sqlQuery string, action string) (
	adapters.DBRows,
	time.Duration,
	error,
) {

	start := time.Now()
	rows, queryErr := es.db.Query(ctx, sqlQuery)
	duration := time.Since(start)
	es.logQueryWithDuration(ctx, sqlQuery, action, duration)

	if queryErr != nil {
		es.logError(ctx, logMsgDBQueryFailed, logAttrError, queryErr.Error(), logAttrQuery, sqlQuery)
		return nil, duration, errors.Join(eventstore.ErrQueryingEventsFailed, queryErr)
	}

	return rows, duration, nil
}

// closeRows safely closes database rows and logs any errors.
func (es EventStore) closeRows(rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		es.logWarn(logMsgCloseRowsFailed, logAttrError, closeErr.Error())
	}
}

// processQueryResults converts database rows to event records.
func (es EventStore) processQueryResults(ctx context.Context, rows adapters.DBRows) (eventstore.EventRecords, error) {
	result := queryResultRow{}
	records := make(eventstore.EventRecords, 0)

	for rows.Next() {
		rowScanErr := rows.Scan(
			&result.streamName,
			&result.streamVersion,
			&result.globalPosition,
			&result.eventType,
			&result.occurredAt,
			&result.payload,
			&result.metadata,
		)
		if rowScanErr != nil {
			es.logError(ctx, logMsgScanRowFailed, logAttrError, rowScanErr.Error())
			return nil, errors.Join(eventstore.ErrScanningDBRowFailed, rowScanErr)
		}

		record, buildErr := es.buildRecordFromRow(result)
		if buildErr != nil {
			es.logError(ctx, logMsgBuildEventRecordFailed, logAttrError, buildErr.Error(), colEventType, result.eventType)
			return nil, errors.Join(eventstore.ErrBuildingEventRecordFailed, buildErr)
		}

		records = append(records, record)
	}

	return records, nil
}

func (es EventStore) buildRecordFromRow(row queryResultRow) (eventstore.EventRecord, error) {
	stream, parseErr := eventstore.ParseStreamName(row.streamName)
	if parseErr != nil {
		return eventstore.EventRecord{}, parseErr
	}

	metadata, metadataErr := eventstore.MetadataFromJSON(row.metadata)
	if metadataErr != nil {
		return eventstore.EventRecord{}, metadataErr
	}

	record, buildErr := eventstore.BuildEventRecordWithMetadata(stream, row.eventType, row.occurredAt, row.payload, metadata)
	if buildErr != nil {
		return eventstore.EventRecord{}, buildErr
	}

	record.StreamVersion = row.streamVersion
	record.GlobalPosition = row.globalPosition

	return record, nil
}

// buildInsertEventsQuery builds the guarded insert for all records of one append call.
//
// The CTE reads the stream's current version; the insert's WHERE clause only
// lets the rows in when it still equals the caller's expected version, which
// makes the version check and the insert one atomic statement.
func (es EventStore) buildInsertEventsQuery(
	stream eventstore.StreamName,
	expectedVersion eventstore.StreamVersionUint,
	records eventstore.EventRecords,
) (sqlQueryString, error) {

	builder := goqu.Dialect(dialectPostgres)

	cteStmt := builder.
		From(es.eventsTableName).
		Select(goqu.COALESCE(goqu.MAX(colStreamVersion), 0).As(aliasCurrentVersion)).
		Where(goqu.Ex{colStreamName: stream.String()})

	unionStatements := make([]*goqu.SelectDataset, len(records))
	for i, record := range records {
		metadataJSON, metadataErr := eventstore.MetadataToJSON(record.Metadata)
		if metadataErr != nil {
			return "", errors.Join(eventstore.ErrBuildingQueryFailed, metadataErr)
		}

		unionStatements[i] = builder.
			Select(
				goqu.L(castInt, i+1).As(colVersionOffset),
				goqu.L(castText, record.EventType).As(colEventType),
				goqu.L(castTimestamp, record.OccurredAt).As(colOccurredAt),
				goqu.L(castJsonb, string(record.PayloadJSON)).As(colPayload),
				goqu.L(castJsonb, string(metadataJSON)).As(colMetadata),
			)
	}

	valuesStmt := unionStatements[0]
	for i := 1; i < len(unionStatements); i++ {
		valuesStmt = valuesStmt.UnionAll(unionStatements[i])
	}

	insertStmt := builder.
		Insert(es.eventsTableName).
		Cols(colStreamName, colCategory, colStreamVersion, colEventType, colOccurredAt, colPayload, colMetadata).
		With(cteContext, cteStmt).
		With(cteVals, valuesStmt).
		FromQuery(
			builder.From(cteContext, cteVals).
				Select(
					goqu.V(stream.String()),
					goqu.V(stream.Category()),
					goqu.L(exprNewStreamVersion),
					goqu.I(cteVals+"."+colEventType),
					goqu.I(cteVals+"."+colOccurredAt),
					goqu.I(cteVals+"."+colPayload),
					goqu.I(cteVals+"."+colMetadata),
				).
				Where(goqu.L(exprCurrentVersion).Eq(goqu.V(expectedVersion))),
		)

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

// buildInsertOutboxQuery builds the insert staging the outbox records.
func (es EventStore) buildInsertOutboxQuery(staged outbox.Records) (sqlQueryString, error) {
	builder := goqu.Dialect(dialectPostgres)

	insertStmt := builder.
		Insert(es.outboxTableName).
		Cols(colMessageID, colStream, colPayload, colHeaders, colPriority, colStatus, colAttempts, colNextAttemptAt, colCreatedAt)

	now := time.Now()

	for _, record := range staged {
		headersJSON, headersErr := headersToJSON(record.Headers)
		if headersErr != nil {
			return "", errors.Join(eventstore.ErrBuildingQueryFailed, headersErr)
		}

		createdAt := record.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}

		insertStmt = insertStmt.Vals(goqu.Vals{
			record.MessageID,
			record.Stream,
			goqu.L(castJsonb, string(record.Payload)),
			goqu.L(castJsonb, string(headersJSON)),
			record.Priority,
			string(outbox.StatusPending),
			0,
			createdAt,
			createdAt,
		})
	}

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(eventstore.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

// isUniqueViolation detects a Postgres unique constraint violation for both
// the pgx and the lib/pq driver paths.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolationCode
	}

	return false
}

func headersToJSON(headers map[string]string) ([]byte, error) {
	if headers == nil {
		return []byte("{}"), nil
	}

	return jsonMarshal(headers)
}
