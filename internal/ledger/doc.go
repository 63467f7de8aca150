// Package ledger implements the immutable, hash-chained fact log.
//
// The ledger wraps a store.Store and owns every semantic the store does not:
//
//   - Chain linkage: each record carries ChainSeq = head+1 and the head's hash.
//     The store's UNIQUE(chain_seq) arbitrates concurrent writers; a loser
//     re-reads the head and retries, so no process-wide lock is needed.
//   - Idempotency: a repeated idempotency key is a no-op success that returns
//     the stored fact, including when two appends race on the same key.
//   - Replay: entries are numbered positionally over (occurred_at, id),
//     starting at 1, independent of chain position.
//   - Processed markers: handling a trigger appends a "<type>.processed"
//     companion fact; the processed set is derived from a ledger scan.
//
// Nothing in this package updates or deletes a stored record.
package ledger
