package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/ledgerline/internal/classify"
	"github.com/roach88/ledgerline/internal/contract"
	"github.com/roach88/ledgerline/internal/failure"
	"github.com/roach88/ledgerline/internal/ir"
	"github.com/roach88/ledgerline/internal/ledger"
	"github.com/roach88/ledgerline/internal/telemetry"
)

// Ledger is the subset of *ledger.Ledger the machine writes to.
type Ledger interface {
	Append(ctx context.Context, f ir.Fact) (ledger.AppendResult, error)
	Now() time.Time
}

// Options configures a Machine. Zero values select defaults.
type Options struct {
	Rules   *classify.Table
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Result is a committed transition.
type Result struct {
	Contract    contract.Contract    `json:"contract"`
	BlastRadius contract.BlastRadius `json:"blast_radius"`
	FactID      string               `json:"fact_id"`
}

// Machine commits contract intakes and transitions.
type Machine struct {
	index   *contract.Index
	ledger  Ledger
	rules   *classify.Table
	log     *slog.Logger
	metrics *telemetry.Metrics

	mu    sync.Mutex
	locks map[string]*contractLock
}

// contractLock is a per-contract mutex, dropped from the map once no
// caller holds or waits for it.
type contractLock struct {
	sync.Mutex
	refs int
}

// New creates a Machine over ix that records to l.
func New(ix *contract.Index, l Ledger, opts Options) *Machine {
	m := &Machine{
		index:   ix,
		ledger:  l,
		rules:   opts.Rules,
		log:     opts.Logger,
		metrics: opts.Metrics,
		locks:   make(map[string]*contractLock),
	}
	if m.rules == nil {
		m.rules = classify.Default()
	}
	if m.log == nil {
		m.log = slog.Default().With("component", "lifecycle")
	}
	return m
}

// Index returns the contract index the machine mutates.
func (m *Machine) Index() *contract.Index { return m.index }

// lock acquires the exclusive section for one contract.
func (m *Machine) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &contractLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

// Intake registers a new contract and appends its CONTRACT_INTAKE fact.
// An empty State defaults to S0.
func (m *Machine) Intake(ctx context.Context, c contract.Contract) (contract.Contract, error) {
	const op = "lifecycle.Intake"

	if c.State == "" {
		c.State = contract.Idle
	}
	if err := contract.Validate(c); err != nil {
		return contract.Contract{}, err
	}
	c.History = nil

	unlock := m.lock(c.ID)
	defer unlock()

	if _, err := m.index.Get(c.ID); err == nil {
		return contract.Contract{}, failure.Validation(op, "contract %s already exists", c.ID)
	}

	res, err := m.record(ctx, classify.ContractIntake, c.ID, "intake", ir.NormalizeTime(m.ledger.Now()), contract.IntakeMetadata(c))
	if err != nil {
		return contract.Contract{}, err
	}
	c.CreatedAt = res.Fact.OccurredAt
	if err := m.index.Add(c); err != nil {
		return contract.Contract{}, err
	}

	m.log.Info("contract intake", "contract_id", c.ID, "state", c.State, "fact_id", res.Fact.ID)
	return c, nil
}

// Preview validates a transition and returns its blast radius without
// committing anything.
func (m *Machine) Preview(contractID string, to contract.State) (contract.BlastRadius, error) {
	c, err := m.index.Get(contractID)
	if err != nil {
		return contract.BlastRadius{}, err
	}
	if err := validate(c, to); err != nil {
		return contract.BlastRadius{}, err
	}
	return m.index.BlastRadius(contractID, to)
}

// Transition moves a contract to a new state. The move is validated against
// the transition table before the blast radius is computed, and the blast
// radius is computed before anything is written. The STATE_TRANSITION fact
// embeds the blast-radius summary.
func (m *Machine) Transition(ctx context.Context, contractID string, to contract.State, actor, reason string) (Result, error) {
	if actor == "" {
		return Result{}, failure.Validation("lifecycle.Transition", "actor is required")
	}

	unlock := m.lock(contractID)
	defer unlock()

	before, err := m.index.Get(contractID)
	if err != nil {
		return Result{}, err
	}
	if err := validate(before, to); err != nil {
		m.metrics.Rejection(ctx, string(before.State), string(to))
		m.log.Info("transition rejected",
			"contract_id", contractID,
			"from", before.State,
			"to", to,
			"actor", actor,
		)
		return Result{}, err
	}

	br, err := m.index.BlastRadius(contractID, to)
	if err != nil {
		return Result{}, err
	}

	at := ir.NormalizeTime(m.ledger.Now())
	step := contract.Transition{From: before.State, To: to, Actor: actor, Reason: reason, At: at}
	after := before
	after.State = to
	after.History = append(append([]contract.Transition(nil), before.History...), step)
	if err := m.index.Replace(after); err != nil {
		return Result{}, err
	}

	key := fmt.Sprintf("transition:%d", len(after.History))
	res, err := m.record(ctx, classify.StateTransition, contractID, key, at, contract.TransitionMetadata(step, br))
	if err != nil {
		if rbErr := m.index.Replace(before); rbErr != nil {
			m.log.Error("transition rollback failed", "contract_id", contractID, "error", rbErr)
		}
		return Result{}, err
	}

	after.History[len(after.History)-1].FactID = res.Fact.ID
	if err := m.index.Replace(after); err != nil {
		return Result{}, err
	}
	m.metrics.Transition(ctx, string(before.State), string(to))

	m.log.Info("contract transitioned",
		"contract_id", contractID,
		"from", before.State,
		"to", to,
		"actor", actor,
		"affected", br.AffectedCount,
		"risk", br.RiskLevel,
	)
	return Result{Contract: after, BlastRadius: br, FactID: res.Fact.ID}, nil
}

func validate(c contract.Contract, to contract.State) error {
	const op = "lifecycle.Transition"
	if !to.Valid() {
		return failure.Validation(op, "unknown state %q", to)
	}
	if !CanTransition(c.State, to) {
		return failure.Validation(op, "contract %s: transition %s -> %s is not allowed", c.ID, c.State, to)
	}
	return nil
}

func (m *Machine) record(ctx context.Context, outcome classify.OutcomeType, contractID, event string, at time.Time, meta map[string]any) (ledger.AppendResult, error) {
	f, _, err := m.rules.Apply(ir.Fact{
		OutcomeType:    string(outcome),
		EntityID:       contractID,
		EntityType:     contract.EntityType,
		Metadata:       meta,
		OccurredAt:     at,
		IdempotencyKey: ledger.ContractKeyPrefix + contractID + ":" + event,
	})
	if err != nil {
		return ledger.AppendResult{}, err
	}
	res, err := m.ledger.Append(ctx, f)
	if err != nil {
		return ledger.AppendResult{}, err
	}
	if res.Skipped && !res.Holds(f) {
		return ledger.AppendResult{}, failure.Integrity("lifecycle.record",
			"key %s is held by %s fact %s", f.IdempotencyKey, res.Fact.OutcomeType, res.Fact.ID)
	}
	return res, nil
}
