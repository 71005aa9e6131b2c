// Package adapters provide database adapter implementations for the PostgreSQL event store.
//
// This package implements the adapter pattern to support multiple PostgreSQL database libraries:
// pgx.Pool, sql.DB, and sqlx.DB. All adapters provide equivalent functionality through
// a common DBAdapter interface, allowing the event store to work seamlessly with any
// supported database connection type.
//
// Beyond plain query execution the adapters expose transactions (DBTx), which the
// event store uses to append event rows and outbox rows atomically.
package adapters
