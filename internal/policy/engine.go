package policy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/roach88/ledgerline/internal/classify"
	"github.com/roach88/ledgerline/internal/failure"
	"github.com/roach88/ledgerline/internal/ir"
	"github.com/roach88/ledgerline/internal/ledger"
	"github.com/roach88/ledgerline/internal/telemetry"
)

// EntityType is the entity type of every policy audit fact.
const EntityType = "policy"

// ErrTerminal is wrapped by the Validation error returned when a killed
// policy is asked to change mode.
var ErrTerminal = errors.New("policy is killed")

// Ledger is the subset of *ledger.Ledger the engine writes to and restores from.
type Ledger interface {
	Append(ctx context.Context, f ir.Fact) (ledger.AppendResult, error)
	Walk(ctx context.Context, q ledger.Query, fn func(ir.Record) error) error
	Now() time.Time
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Executor   Executor
	Thresholds *Thresholds
	Rules      *classify.Table
	NewID      func() string
	Logger     *slog.Logger
	Metrics    *telemetry.Metrics
}

// entry is the live state of one policy. mu serializes every change to it.
type entry struct {
	mu     sync.Mutex
	policy Policy
	prg    cel.Program
	obs    map[string]*Observation
	order  []string
}

// Engine holds the policy table.
// Safe for concurrent use; changes to one policy never block another.
type Engine struct {
	ledger  Ledger
	exec    Executor
	th      Thresholds
	rules   *classify.Table
	conds   *conditions
	newID   func() string
	log     *slog.Logger
	metrics *telemetry.Metrics

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

// New creates an Engine that records its audit trail in l.
func New(l Ledger, opts Options) (*Engine, error) {
	conds, err := newConditions()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		ledger:  l,
		exec:    opts.Executor,
		th:      DefaultThresholds(),
		rules:   opts.Rules,
		conds:   conds,
		newID:   opts.NewID,
		log:     opts.Logger,
		metrics: opts.Metrics,
		entries: make(map[string]*entry),
	}
	if opts.Thresholds != nil {
		e.th = *opts.Thresholds
	}
	if e.rules == nil {
		e.rules = classify.Default()
	}
	if e.newID == nil {
		e.newID = ledger.NewID
	}
	if e.log == nil {
		e.log = slog.Default().With("component", "policy")
	}
	if e.exec == nil {
		e.exec = logExecutor{log: e.log}
	}
	return e, nil
}

type logExecutor struct{ log *slog.Logger }

func (x logExecutor) Execute(_ context.Context, p Policy, f ir.Fact) error {
	x.log.Info("policy action", "policy_id", p.ID, "action", p.Action, "fact_id", f.ID)
	return nil
}

// Thresholds returns the promotion gates in use.
func (e *Engine) Thresholds() Thresholds { return e.th }

// Register adds a policy in shadow mode with zero confidence.
func (e *Engine) Register(ctx context.Context, spec Spec) (Policy, error) {
	const op = "policy.Register"

	if spec.Trigger == "" || spec.Action == "" {
		return Policy{}, failure.Validation(op, "trigger and action are required")
	}
	rule, err := e.rules.Classify(spec.Trigger)
	if err != nil {
		return Policy{}, err
	}
	if rule.System {
		return Policy{}, failure.Validation(op, "cannot trigger on system outcome %s", spec.Trigger)
	}
	prg, err := e.conds.compile(spec.Condition)
	if err != nil {
		return Policy{}, failure.Validation(op, "invalid condition: %v", err)
	}
	if spec.ID == "" {
		spec.ID = e.newID()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.entries[spec.ID]; exists {
		return Policy{}, failure.Validation(op, "policy %s already registered", spec.ID)
	}

	res, err := e.audit(ctx, classify.PolicyRegistered, spec.ID, "registered", map[string]any{
		"trigger":   spec.Trigger,
		"action":    spec.Action,
		"condition": spec.Condition,
		"mode":      string(ModeShadow),
	})
	if err != nil {
		return Policy{}, err
	}

	ent := &entry{
		policy: Policy{
			ID:        spec.ID,
			Trigger:   spec.Trigger,
			Action:    spec.Action,
			Condition: spec.Condition,
			Mode:      ModeShadow,
			CreatedAt: res.Fact.OccurredAt,
		},
		prg: prg,
		obs: make(map[string]*Observation),
	}
	e.entries[spec.ID] = ent
	e.order = append(e.order, spec.ID)

	e.log.Info("policy registered", "policy_id", spec.ID, "trigger", spec.Trigger, "action", spec.Action)
	return ent.policy, nil
}

// Get returns a snapshot of one policy.
func (e *Engine) Get(id string) (Policy, error) {
	ent, err := e.lookup("policy.Get", id)
	if err != nil {
		return Policy{}, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.policy, nil
}

// List returns snapshots of every policy in registration order.
func (e *Engine) List() []Policy {
	e.mu.RLock()
	ents := make([]*entry, len(e.order))
	for i, id := range e.order {
		ents[i] = e.entries[id]
	}
	e.mu.RUnlock()

	out := make([]Policy, len(ents))
	for i, ent := range ents {
		ent.mu.Lock()
		out[i] = ent.policy
		ent.mu.Unlock()
	}
	return out
}

// Observations returns the predictions of one policy in the order they were made.
func (e *Engine) Observations(id string) ([]Observation, error) {
	ent, err := e.lookup("policy.Observations", id)
	if err != nil {
		return nil, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	out := make([]Observation, len(ent.order))
	for i, factID := range ent.order {
		out[i] = *ent.obs[factID]
	}
	return out, nil
}

// OnFact offers a fact to every live policy whose trigger and condition
// match it. Promoted policies execute; shadow and candidate policies record
// a prediction. A failure in one policy is logged and reported in its
// Decision; it never prevents the others from running.
func (e *Engine) OnFact(ctx context.Context, f ir.Fact) []Decision {
	e.mu.RLock()
	var matching []*entry
	for _, id := range e.order {
		ent := e.entries[id]
		if ent.policy.Trigger == f.OutcomeType {
			matching = append(matching, ent)
		}
	}
	e.mu.RUnlock()

	decisions := make([]Decision, 0, len(matching))
	for _, ent := range matching {
		d := e.handle(ctx, ent, f)
		if d.Err != nil {
			e.log.Warn("policy failed on fact",
				"policy_id", d.PolicyID,
				"fact_id", f.ID,
				"error", d.Err,
			)
		}
		decisions = append(decisions, d)
	}
	return decisions
}

func (e *Engine) handle(ctx context.Context, ent *entry, f ir.Fact) Decision {
	ent.mu.Lock()
	defer ent.mu.Unlock()

	p := ent.policy
	d := Decision{PolicyID: p.ID, Mode: p.Mode, Outcome: OutcomeSkipped}
	if p.Mode == ModeKilled {
		return d
	}

	ok, err := eval(ent.prg, f)
	if err != nil {
		d.Outcome, d.Err = OutcomeFailed, err
		return d
	}
	if !ok {
		return d
	}

	if p.Mode == ModePromoted {
		return e.execute(ctx, ent, f, d)
	}
	return e.observe(ctx, ent, f, d)
}

// execute runs the action of a promoted policy. The execution is audited
// whether or not the executor succeeds.
func (e *Engine) execute(ctx context.Context, ent *entry, f ir.Fact, d Decision) Decision {
	p := ent.policy
	execErr := e.exec.Execute(ctx, p, f)

	meta := map[string]any{
		"fact_id": f.ID,
		"action":  p.Action,
		"ok":      execErr == nil,
	}
	if execErr != nil {
		meta["error"] = execErr.Error()
	}
	res, err := e.audit(ctx, classify.PolicyExecuted, p.ID, "executed:"+f.ID, meta)
	e.metrics.Execution(ctx, p.ID, execErr == nil)

	switch {
	case err != nil:
		d.Outcome, d.Err = OutcomeFailed, err
	case execErr != nil:
		d.Outcome, d.Err = OutcomeFailed, execErr
	default:
		d.Outcome = OutcomeExecuted
	}
	if err == nil && !res.Skipped {
		ent.policy.ExecutionCount++
	}
	return d
}

func (e *Engine) observe(ctx context.Context, ent *entry, f ir.Fact, d Decision) Decision {
	p := ent.policy
	if _, seen := ent.obs[f.ID]; seen {
		return d
	}
	res, err := e.audit(ctx, classify.PolicyObserved, p.ID, "observed:"+f.ID, map[string]any{
		"fact_id":    f.ID,
		"prediction": p.Action,
	})
	if err != nil {
		d.Outcome, d.Err = OutcomeFailed, err
		return d
	}
	ent.addObservation(Observation{
		PolicyID:    p.ID,
		FactID:      f.ID,
		Prediction:  p.Action,
		PredictedAt: res.Fact.OccurredAt,
	})
	e.metrics.Observation(ctx, p.ID)
	d.Outcome = OutcomeObserved

	if next, ok := e.th.nextMode(ent.policy); ok {
		if err := e.changeMode(ctx, ent, next, ""); err != nil {
			e.log.Warn("policy promotion not recorded", "policy_id", p.ID, "to", next, "error", err)
		}
	}
	return d
}

func (ent *entry) addObservation(o Observation) {
	ent.obs[o.FactID] = &o
	ent.order = append(ent.order, o.FactID)
	ent.policy.ObservationCount++
}

// RecordActual records the actual outcome for a prediction, recomputes the
// policy's confidence and promotes it by at most one step if it now
// qualifies. Recording an actual twice for the same fact is rejected.
func (e *Engine) RecordActual(ctx context.Context, policyID, factID, actual string) (Policy, error) {
	const op = "policy.RecordActual"

	if actual == "" {
		return Policy{}, failure.Validation(op, "actual is required")
	}
	ent, err := e.lookup(op, policyID)
	if err != nil {
		return Policy{}, err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	o, ok := ent.obs[factID]
	if !ok {
		return Policy{}, failure.NotFound(op, "policy %s has no observation for fact %s", policyID, factID)
	}
	if o.Evaluated() {
		return Policy{}, failure.Validation(op, "actual for fact %s already recorded", factID)
	}

	correct := actual == o.Prediction
	p := ent.policy
	p.EvaluatedCount++
	if correct {
		p.CorrectPredictions++
	}
	p.Confidence = confidence(p.CorrectPredictions, p.EvaluatedCount)

	_, err = e.audit(ctx, classify.PolicyActualRecorded, policyID, "actual:"+factID, map[string]any{
		"fact_id":    factID,
		"prediction": o.Prediction,
		"actual":     actual,
		"correct":    correct,
		"confidence": p.Confidence,
	})
	if err != nil {
		return Policy{}, err
	}
	o.Actual = &actual
	o.Correct = &correct
	ent.policy = p

	if next, ok := e.th.nextMode(ent.policy); ok {
		if err := e.changeMode(ctx, ent, next, ""); err != nil {
			// The actual is recorded; promotion is retried on the next update.
			e.log.Warn("policy promotion not recorded", "policy_id", policyID, "to", next, "error", err)
		}
	}
	return ent.policy, nil
}

// Kill moves a policy to the terminal killed mode from any live mode.
func (e *Engine) Kill(ctx context.Context, policyID, reason string) (Policy, error) {
	const op = "policy.Kill"

	ent, err := e.lookup(op, policyID)
	if err != nil {
		return Policy{}, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	if ent.policy.Mode == ModeKilled {
		return Policy{}, &failure.Error{
			Kind:    failure.KindValidation,
			Op:      op,
			Message: "policy " + policyID,
			Err:     ErrTerminal,
		}
	}
	if err := e.changeMode(ctx, ent, ModeKilled, reason); err != nil {
		return Policy{}, err
	}
	return ent.policy, nil
}

// changeMode appends the audit fact for a mode change, then applies it.
// Callers hold ent.mu.
func (e *Engine) changeMode(ctx context.Context, ent *entry, to Mode, reason string) error {
	p := ent.policy
	meta := map[string]any{
		"from":              string(p.Mode),
		"to":                string(to),
		"confidence":        p.Confidence,
		"observation_count": p.ObservationCount,
		"evaluated_count":   p.EvaluatedCount,
	}

	outcome, key := classify.PolicyPromoted, "promoted:"+string(to)
	if to == ModeKilled {
		outcome, key = classify.PolicyKilled, "killed"
		meta["reason"] = reason
	}
	res, err := e.audit(ctx, outcome, p.ID, key, meta)
	if err != nil {
		return err
	}
	applyMode(&ent.policy, to, reason, res.Fact.OccurredAt)
	e.metrics.ModeChange(ctx, string(p.Mode), string(to))

	e.log.Info("policy mode changed",
		"policy_id", p.ID,
		"from", p.Mode,
		"to", to,
		"confidence", p.Confidence,
	)
	return nil
}

func applyMode(p *Policy, to Mode, reason string, at time.Time) {
	p.Mode = to
	switch to {
	case ModePromoted:
		p.PromotedAt = &at
	case ModeKilled:
		p.KilledAt = &at
		p.KillReason = reason
	}
}

// audit appends a policy audit fact. key makes the append idempotent per
// policy and event.
func (e *Engine) audit(ctx context.Context, outcome classify.OutcomeType, policyID, key string, meta map[string]any) (ledger.AppendResult, error) {
	meta["policy_id"] = policyID
	f, _, err := e.rules.Apply(ir.Fact{
		OutcomeType:    string(outcome),
		EntityID:       policyID,
		EntityType:     EntityType,
		Metadata:       meta,
		OccurredAt:     e.ledger.Now(),
		IdempotencyKey: auditKey(policyID, key),
	})
	if err != nil {
		return ledger.AppendResult{}, err
	}
	res, err := e.ledger.Append(ctx, f)
	if err != nil {
		return ledger.AppendResult{}, err
	}
	if res.Skipped && !res.Holds(f) {
		return ledger.AppendResult{}, failure.Integrity("policy.audit",
			"key %s is held by %s fact %s", f.IdempotencyKey, res.Fact.OutcomeType, res.Fact.ID)
	}
	return res, nil
}

func auditKey(policyID, event string) string {
	return ledger.PolicyKeyPrefix + policyID + ":" + event
}

func (e *Engine) lookup(op, id string) (*entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ent, ok := e.entries[id]
	if !ok {
		return nil, failure.NotFound(op, "policy %s not found", id)
	}
	return ent, nil
}
