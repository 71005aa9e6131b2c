// Package postgresengine provides the PostgreSQL implementation of the event store.
//
// This package implements classic per-entity event streams using PostgreSQL as
// the storage backend, supporting multiple database adapters (pgx, sql.DB, sqlx)
// with atomic operations and optimistic concurrency control.
//
// Key features:
//   - Multiple database adapter support (PGX, SQL, SQLX)
//   - Atomic event appending with concurrency conflict detection
//   - Outbox records staged in the same transaction as the event rows
//   - Stream reads by version and category reads by global position
//   - Snapshot save/load as a read-path optimization
//   - Configurable table names and optional logger
//
// Expected schema:
//
//	CREATE TABLE events (
//	    global_position BIGSERIAL PRIMARY KEY,
//	    stream_name     TEXT NOT NULL,
//	    category        TEXT NOT NULL,
//	    stream_version  BIGINT NOT NULL,
//	    event_type      TEXT NOT NULL,
//	    occurred_at     TIMESTAMPTZ NOT NULL,
//	    payload         JSONB NOT NULL,
//	    metadata        JSONB NOT NULL,
//	    UNIQUE (stream_name, stream_version)
//	);
//	CREATE INDEX events_category_idx ON events (category, global_position);
//
//	CREATE TABLE outbox (
//	    message_id      TEXT PRIMARY KEY,
//	    seq             BIGSERIAL,
//	    stream          TEXT NOT NULL,
//	    payload         JSONB NOT NULL,
//	    headers         JSONB NOT NULL,
//	    priority        INT NOT NULL DEFAULT 0,
//	    status          TEXT NOT NULL DEFAULT 'pending',
//	    attempts        INT NOT NULL DEFAULT 0,
//	    next_attempt_at TIMESTAMPTZ NOT NULL,
//	    created_at      TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX outbox_pending_idx ON outbox (status, next_attempt_at, priority DESC, seq);
//
//	CREATE TABLE snapshots (
//	    stream_name    TEXT PRIMARY KEY,
//	    stream_version BIGINT NOT NULL,
//	    data           JSONB NOT NULL,
//	    created_at     TIMESTAMPTZ NOT NULL
//	);
//
// Usage example:
//
//	db, _ := pgxpool.New(context.Background(), dsn)
//	store, _ := postgresengine.NewEventStoreFromPGXPool(
//		db,
//		postgresengine.WithEventsTableName("my_events"),
//		postgresengine.WithLogger(logger),
//	)
package postgresengine
