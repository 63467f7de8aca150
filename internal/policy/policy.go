// Package policy runs automation policies that earn autonomy through
// demonstrated accuracy.
//
// A policy starts in shadow mode, where every matching fact produces a
// recorded prediction instead of an action. Once actual outcomes are fed
// back, confidence = correct / evaluated. A policy is promoted one step at
// a time (shadow → candidate → promoted) when confidence and observation
// thresholds are met, and only promoted policies act through the Executor.
// Kill moves any live policy to the terminal killed mode.
//
// The policy table is a derived view of the ledger's policy audit facts;
// Restore rebuilds it after a restart.
package policy

import (
	"context"
	"time"

	"github.com/roach88/ledgerline/internal/ir"
)

// Mode is the autonomy level of a policy.
type Mode string

const (
	ModeShadow    Mode = "shadow"
	ModeCandidate Mode = "candidate"
	ModePromoted  Mode = "promoted"
	ModeKilled    Mode = "killed"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeShadow, ModeCandidate, ModePromoted, ModeKilled:
		return true
	}
	return false
}

// Policy is a snapshot of a registered policy.
type Policy struct {
	ID        string `json:"id"`
	Trigger   string `json:"trigger"`
	Action    string `json:"action"`
	Condition string `json:"condition,omitempty"`
	Mode      Mode   `json:"mode"`

	Confidence         float64 `json:"confidence"`
	ObservationCount   int     `json:"observation_count"`
	EvaluatedCount     int     `json:"evaluated_count"`
	CorrectPredictions int     `json:"correct_predictions"`
	ExecutionCount     int     `json:"execution_count"`

	CreatedAt  time.Time  `json:"created_at"`
	PromotedAt *time.Time `json:"promoted_at,omitempty"`
	KilledAt   *time.Time `json:"killed_at,omitempty"`
	KillReason string     `json:"kill_reason,omitempty"`
}

// Observation is a prediction a non-promoted policy made for a fact.
// Actual and Correct are nil until the outcome is recorded.
type Observation struct {
	PolicyID    string    `json:"policy_id"`
	FactID      string    `json:"fact_id"`
	Prediction  string    `json:"prediction"`
	PredictedAt time.Time `json:"predicted_at"`
	Actual      *string   `json:"actual,omitempty"`
	Correct     *bool     `json:"correct,omitempty"`
}

// Evaluated reports whether the actual outcome has been recorded.
func (o Observation) Evaluated() bool { return o.Actual != nil }

// Spec describes a policy to register.
type Spec struct {
	// ID is optional; a UUIDv7 is assigned when empty.
	ID      string `json:"id,omitempty" yaml:"id"`
	Trigger string `json:"trigger" yaml:"trigger"`
	Action  string `json:"action" yaml:"action"`

	// Condition is an optional CEL expression over `fact` that must
	// evaluate to true for the policy to match.
	Condition string `json:"condition,omitempty" yaml:"condition"`
}

// Executor performs the action of a promoted policy.
type Executor interface {
	Execute(ctx context.Context, p Policy, f ir.Fact) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, p Policy, f ir.Fact) error

// Execute calls fn.
func (fn ExecutorFunc) Execute(ctx context.Context, p Policy, f ir.Fact) error {
	return fn(ctx, p, f)
}

// Outcome is what OnFact did for one matching policy.
type Outcome string

const (
	OutcomeObserved Outcome = "observed"
	OutcomeExecuted Outcome = "executed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// Decision reports the handling of a fact by one policy.
type Decision struct {
	PolicyID string  `json:"policy_id"`
	Mode     Mode    `json:"mode"`
	Outcome  Outcome `json:"outcome"`
	Err      error   `json:"-"`
}
