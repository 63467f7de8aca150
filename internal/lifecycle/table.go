// Package lifecycle validates and commits contract state transitions.
//
// Every transition runs inside a per-contract exclusive section spanning
// validation, blast-radius computation, the index mutation and the ledger
// append. A failed append rolls the mutation back.
package lifecycle

import "github.com/roach88/ledgerline/internal/contract"

var transitions = map[contract.State][]contract.State{
	contract.Idle:         {contract.Intake},
	contract.Intake:       {contract.Eligible},
	contract.Eligible:     {contract.Approval, contract.Intervention},
	contract.Approval:     {contract.Monitor, contract.Intake},
	contract.Intervention: {contract.Monitor},
	contract.Monitor:      {contract.Stable, contract.Shadow, contract.Closed},
	contract.Stable:       {contract.Monitor, contract.Closed},
	contract.Shadow:       {contract.Monitor, contract.Liability},
	contract.Liability:    {contract.Closed},
	contract.Closed:       nil,
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to contract.State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Allowed returns the states reachable from from in one step.
func Allowed(from contract.State) []contract.State {
	return append([]contract.State(nil), transitions[from]...)
}

// Terminal reports whether no transition leaves s.
func Terminal(s contract.State) bool {
	return s.Valid() && len(transitions[s]) == 0
}
