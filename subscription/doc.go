// Package subscription provides the consumer-side engine: per-consumer cursor
// management, primary/backfill lane arbitration, retry with backoff, and
// dead-lettering of poison messages.
//
// One Engine serves one (stream, consumer-group) pair. The primary lane is
// always preferred; the backfill lane is only drained through bounded blocking
// reads, so bulk traffic cannot starve primary delivery. Before and after each
// handler invocation the engine consults the idempotency layer, covering the
// crash-before-cursor-persist redelivery window.
package subscription
