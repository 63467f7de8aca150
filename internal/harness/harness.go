package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/ledgerline/internal/classify"
	"github.com/roach88/ledgerline/internal/contract"
	"github.com/roach88/ledgerline/internal/engine"
	"github.com/roach88/ledgerline/internal/failure"
	"github.com/roach88/ledgerline/internal/ledger"
	"github.com/roach88/ledgerline/internal/lifecycle"
	"github.com/roach88/ledgerline/internal/policy"
	"github.com/roach88/ledgerline/internal/store"
	"github.com/roach88/ledgerline/internal/testutil"
)

// Epoch is the scenario clock's starting time. Append offsets are relative to it.
var Epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// Harness runs one scenario against freshly built components.
type Harness struct {
	store    *store.SQLite
	rules    *classify.Table
	clock    *testutil.DeterministicClock
	ledger   *ledger.Ledger
	engine   *engine.Engine
	policies *policy.Engine
	machine  *lifecycle.Machine
	labels   map[string]string
	latest   time.Time
	log      *slog.Logger
}

// Run executes a scenario in a fresh in-memory database.
//
// Execution flow:
// 1. Build the rule table, ledger, policy engine, state machine and engine
// 2. Take in the setup contracts and register the setup policies
// 3. Execute the steps in order, checking expect clauses
// 4. Evaluate the final assertions
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	ctx := context.Background()
	if err := h.setup(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.execute(ctx, i, step, result)
	}

	for _, msg := range h.evaluate(ctx, scenario.Assertions) {
		result.AddError(msg)
	}
	h.snapshot(result)
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	rules := classify.Default()
	if scenario.Rules != "" {
		var err error
		if rules, err = classify.LoadFile(scenario.Rules); err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewDeterministicClock(Epoch, time.Second)
	l := ledger.New(st, ledger.Options{
		Clock:  clock,
		NewID:  testutil.NewSequentialIDs("fact").Next,
		Logger: logger,
	})
	pe, err := policy.New(l, policy.Options{
		Rules:  rules,
		NewID:  testutil.NewSequentialIDs("policy").Next,
		Logger: logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	m := lifecycle.New(contract.NewIndex(), l, lifecycle.Options{Rules: rules, Logger: logger})

	return &Harness{
		store:    st,
		rules:    rules,
		clock:    clock,
		ledger:   l,
		engine:   engine.New(rules, l, pe, m, logger),
		policies: pe,
		machine:  m,
		labels:   map[string]string{},
		log:      logger,
	}, nil
}

func (h *Harness) setup(ctx context.Context, s *Scenario) error {
	for i, c := range s.Contracts {
		_, err := h.machine.Intake(ctx, contract.Contract{
			ID:           c.ID,
			State:        contract.State(c.State),
			SlotID:       c.SlotID,
			ProducerID:   c.ProducerID,
			CustomerID:   c.CustomerID,
			MonthlyValue: c.MonthlyValue,
		})
		if err != nil {
			return fmt.Errorf("contracts[%d]: %w", i, err)
		}
	}
	for i, spec := range s.Policies {
		if _, err := h.policies.Register(ctx, spec); err != nil {
			return fmt.Errorf("policies[%d]: %w", i, err)
		}
	}
	return nil
}

// execute runs one step. Step failures are part of the trace, not errors
// of the run; an unexpected failure fails the result.
func (h *Harness) execute(ctx context.Context, i int, step Step, result *Result) {
	var (
		ev  TraceEvent
		err error
	)
	switch {
	case step.Append != nil:
		ev, err = h.appendFact(ctx, step)
	case step.Transition != nil:
		ev, err = h.transition(ctx, step.Transition)
	case step.Actual != nil:
		ev, err = h.actual(ctx, step.Actual)
	case step.Kill != nil:
		ev, err = h.kill(ctx, step.Kill)
	case step.Process != nil:
		ev, err = h.process(ctx, step.Process)
	case step.Pending:
		ev, err = h.pending(ctx)
	}
	if err != nil {
		ev.Error = errorKind(err)
	}
	result.add(ev)

	for _, msg := range checkExpect(step.Expect, ev, err) {
		result.AddError(fmt.Sprintf("steps[%d] (%s): %s", i, ev.Step, msg))
	}
	h.log.Info("scenario step completed", "step", i, "kind", ev.Step, "error", ev.Error)
}

func (h *Harness) appendFact(ctx context.Context, step Step) (TraceEvent, error) {
	a := step.Append
	ev := TraceEvent{Step: StepAppend, OutcomeType: a.OutcomeType, EntityID: a.EntityID}
	rep, err := h.engine.Ingest(ctx, engine.Event{
		OutcomeType:    a.OutcomeType,
		EntityID:       a.EntityID,
		EntityType:     a.EntityType,
		Metadata:       a.Metadata,
		OccurredAt:     Epoch.Add(a.At),
		IdempotencyKey: a.IdempotencyKey,
	})
	if err != nil {
		return ev, err
	}

	if step.Label != "" {
		h.labels[step.Label] = rep.Fact.ID
	}
	if rep.Fact.OccurredAt.After(h.latest) {
		h.latest = rep.Fact.OccurredAt
	}
	ev.Tier = string(rep.Fact.Tier)
	ev.Weight = rep.Fact.Weight
	ev.Skipped = rep.Skipped
	ev.Processed = rep.Processed
	if rep.Transition != nil {
		ev.Transition = transitionLabel(*rep.Transition)
	}
	for _, d := range rep.Decisions {
		ev.Decisions = append(ev.Decisions, d.PolicyID+":"+string(d.Outcome))
	}
	return ev, nil
}

func (h *Harness) transition(ctx context.Context, t *TransitionStep) (TraceEvent, error) {
	ev := TraceEvent{Step: StepTransition, EntityID: t.Contract}
	to, err := contract.ParseState(t.To)
	if err != nil {
		return ev, failure.Validation("harness", "%v", err)
	}
	actor := t.Actor
	if actor == "" {
		actor = "scenario"
	}
	res, err := h.machine.Transition(ctx, t.Contract, to, actor, t.Reason)
	if err != nil {
		return ev, err
	}
	ev.Transition = transitionLabel(res)
	return ev, nil
}

func (h *Harness) actual(ctx context.Context, a *ActualStep) (TraceEvent, error) {
	ev := TraceEvent{Step: StepActual, EntityID: a.Policy}
	p, err := h.policies.RecordActual(ctx, a.Policy, h.labels[a.Fact], a.Actual)
	if err != nil {
		return ev, err
	}
	ev.Mode = string(p.Mode)
	return ev, nil
}

func (h *Harness) kill(ctx context.Context, k *KillStep) (TraceEvent, error) {
	ev := TraceEvent{Step: StepKill, EntityID: k.Policy}
	p, err := h.policies.Kill(ctx, k.Policy, k.Reason)
	if err != nil {
		return ev, err
	}
	ev.Mode = string(p.Mode)
	return ev, nil
}

func (h *Harness) process(ctx context.Context, p *ProcessStep) (TraceEvent, error) {
	ev := TraceEvent{Step: StepProcess}
	res, err := h.engine.MarkProcessed(ctx, h.labels[p.Fact], p.Process)
	if err != nil {
		return ev, err
	}
	ev.OutcomeType = res.Fact.OutcomeType
	ev.Skipped = res.Skipped
	ev.Processed = true
	return ev, nil
}

func (h *Harness) pending(ctx context.Context) (TraceEvent, error) {
	n, err := h.engine.ProcessPending(ctx)
	return TraceEvent{Step: StepPending, Count: n}, err
}

// snapshot records final contract states and policy modes.
func (h *Harness) snapshot(result *Result) {
	contracts := map[string]any{}
	for _, c := range h.machine.Index().List() {
		contracts[c.ID] = string(c.State)
	}
	policies := map[string]any{}
	for _, p := range h.policies.List() {
		policies[p.ID] = string(p.Mode)
	}
	result.State["contracts"] = contracts
	result.State["policies"] = policies
}

func transitionLabel(r lifecycle.Result) string {
	hist := r.Contract.History
	if len(hist) == 0 {
		return ""
	}
	last := hist[len(hist)-1]
	return string(last.From) + "->" + string(last.To)
}

func errorKind(err error) string {
	if kind := failure.KindOf(err); kind != "" {
		return string(kind)
	}
	return "ERROR"
}

func checkExpect(e *Expect, ev TraceEvent, err error) []string {
	if e == nil {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
		return nil
	}

	var errs []string
	if e.Error != "" {
		if ev.Error != e.Error {
			errs = append(errs, fmt.Sprintf("expected error %s, got %q", e.Error, ev.Error))
		}
		return errs
	}
	if err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", err)}
	}

	if e.Tier != "" && ev.Tier != e.Tier {
		errs = append(errs, fmt.Sprintf("expected tier %s, got %s", e.Tier, ev.Tier))
	}
	if e.Skipped != nil && ev.Skipped != *e.Skipped {
		errs = append(errs, fmt.Sprintf("expected skipped=%v, got %v", *e.Skipped, ev.Skipped))
	}
	if e.Processed != nil && ev.Processed != *e.Processed {
		errs = append(errs, fmt.Sprintf("expected processed=%v, got %v", *e.Processed, ev.Processed))
	}
	if e.State != "" {
		want, perr := contract.ParseState(e.State)
		_, got, _ := strings.Cut(ev.Transition, "->")
		if perr != nil || got != string(want) {
			errs = append(errs, fmt.Sprintf("expected transition to %s, got %q", e.State, ev.Transition))
		}
	}
	if e.Mode != "" && ev.Mode != e.Mode {
		errs = append(errs, fmt.Sprintf("expected mode %s, got %s", e.Mode, ev.Mode))
	}
	if e.Count != nil && ev.Count != *e.Count {
		errs = append(errs, fmt.Sprintf("expected count %d, got %d", *e.Count, ev.Count))
	}
	return errs
}
