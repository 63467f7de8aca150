// Package engine wires the ledgerline components into the ingest flow.
//
// Ingest flow for one external event:
//  1. The classifier assigns tier, weight and downstream process; unknown
//     and reserved outcome types are rejected before anything is written.
//  2. The ledger appends the fact. A repeated idempotency key stops here.
//  3. Every matching policy observes or executes. Policy failures are
//     isolated and never fail the ingest.
//  4. An S-tier fact whose rule names a process moves the contract it is
//     about to the process's target state.
//  5. The handled trigger gets a "<type>.processed" companion marker.
//
// Triggers whose follow-up did not complete stay unprocessed and are
// retried by ProcessPending.
package engine
