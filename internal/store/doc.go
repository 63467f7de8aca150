// Package store provides durable append targets for the ledgerline fact log.
//
// A Store only knows how to insert a fully built ir.Record and read records
// back through a Filter. Hash chaining, idempotency semantics and replay
// numbering live in internal/ledger; the store's job is to enforce the
// unique keys those semantics are built on.
//
// # Unique Keys
//
//   - id: fact identity (UUIDv7)
//   - chain_seq: position in the hash chain, one writer wins each position
//   - idempotency_key: nullable, at most one record per non-empty key
//
// A violated key is reported as *UniqueViolation so callers can tell an
// idempotent replay from a lost chain race without parsing driver errors.
//
// # Deterministic Query Results
//
//   - OrderOccurred: ORDER BY occurred_at ASC, id ASC
//   - OrderChain: ORDER BY chain_seq ASC
//   - Empty results are empty slices, never nil
//
// # Implementations
//
//   - SQLite (default): mattn/go-sqlite3, or modernc.org/sqlite when built without cgo
//   - Postgres: lib/pq, unique violations detected by SQLSTATE 23505
//   - Memory: process-local, used by tests and the scenario harness
//
// Timestamps are stored as integer microseconds since the Unix epoch so every
// backend round-trips them exactly.
package store
