// Package harness runs scripted scenarios against a fresh ledger and
// compares what happened with golden traces.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: payment_failure_intervention
//	description: "A failed payment moves the contract to intervention"
//	contracts:
//	  - { id: A, state: S2, slot_id: slot-1, producer_id: prod-1, customer_id: cust-1, monthly_value: 100 }
//	policies:
//	  - { id: remind, trigger: PAYMENT_FAILED, action: send_reminder }
//	steps:
//	  - label: failed
//	    append: { outcome_type: PAYMENT_FAILED, entity_id: A, entity_type: contract, at: 1h }
//	    expect: { tier: S, processed: true, state: S4 }
//	  - actual: { policy: remind, fact: failed, actual: send_reminder }
//	assertions:
//	  - { type: contract_state, contract: A, state: S4 }
//	  - { type: chain_valid }
//
// Steps are append, transition, actual, kill, process (mark a labeled
// fact processed) and pending (retry unprocessed triggers). Each step may
// carry an expect clause; a step without one must succeed.
//
// # Assertion Types
//
//   - fact_count: facts matching outcome_type and entity_id
//   - contract_state: a contract's final state
//   - policy_mode: a policy's final mode
//   - unprocessed: number of triggers still waiting
//   - chain_valid: the hash chain verifies
//   - vv: a subject's VV status, windowed at the latest appended fact
//
// # Deterministic Testing
//
// Every run uses an in-memory SQLite store, a deterministic clock
// starting at Epoch and sequential ids, so traces are reproducible.
package harness
