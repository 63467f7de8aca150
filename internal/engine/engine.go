package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/ledgerline/internal/classify"
	"github.com/roach88/ledgerline/internal/contract"
	"github.com/roach88/ledgerline/internal/failure"
	"github.com/roach88/ledgerline/internal/ir"
	"github.com/roach88/ledgerline/internal/ledger"
	"github.com/roach88/ledgerline/internal/lifecycle"
	"github.com/roach88/ledgerline/internal/policy"
)

// Actor is recorded on transitions the engine drives.
const Actor = "engine"

// Event is an external business event.
type Event struct {
	OutcomeType    string         `json:"outcome_type"`
	EntityID       string         `json:"entity_id"`
	EntityType     string         `json:"entity_type"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// Report describes what Ingest did.
type Report struct {
	ledger.AppendResult
	Rule       classify.Rule     `json:"rule"`
	Decisions  []policy.Decision `json:"decisions,omitempty"`
	Transition *lifecycle.Result `json:"transition,omitempty"`

	// FollowUpError is set when the urgent follow-up failed; the fact is
	// still appended and stays unprocessed.
	FollowUpError string `json:"follow_up_error,omitempty"`
	Processed     bool   `json:"processed"`
}

// Engine runs the ingest flow over explicitly constructed components.
type Engine struct {
	rules    *classify.Table
	ledger   *ledger.Ledger
	policies *policy.Engine
	machine  *lifecycle.Machine
	log      *slog.Logger
}

// New creates an Engine.
func New(rules *classify.Table, l *ledger.Ledger, policies *policy.Engine, machine *lifecycle.Machine, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default().With("component", "engine")
	}
	return &Engine{
		rules:    rules,
		ledger:   l,
		policies: policies,
		machine:  machine,
		log:      logger,
	}
}

// Restore rebuilds the policy table and the contract index from the ledger.
// The two scans are independent and run concurrently.
func (e *Engine) Restore(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.policies.Restore(ctx) })
	g.Go(func() error { return e.machine.Index().Rebuild(ctx, e.ledger) })
	if err := g.Wait(); err != nil {
		return err
	}
	e.log.Info("state restored",
		"policies", len(e.policies.List()),
		"contracts", e.machine.Index().Len(),
	)
	return nil
}

// Ingest classifies and appends an external event, then runs its follow-up.
func (e *Engine) Ingest(ctx context.Context, ev Event) (Report, error) {
	const op = "engine.Ingest"

	if _, isMarker := ir.ProcessedBase(ev.OutcomeType); isMarker {
		return Report{}, failure.Validation(op, "processed markers are written through MarkProcessed")
	}
	if ledger.IsReservedKey(ev.IdempotencyKey) {
		return Report{}, failure.Validation(op, "idempotency key %q is in a reserved namespace", ev.IdempotencyKey)
	}
	f, rule, err := e.rules.Apply(ir.Fact{
		OutcomeType:    ev.OutcomeType,
		EntityID:       ev.EntityID,
		EntityType:     ev.EntityType,
		Metadata:       ev.Metadata,
		OccurredAt:     ev.OccurredAt,
		IdempotencyKey: ev.IdempotencyKey,
	})
	if err != nil {
		return Report{}, err
	}
	if rule.System {
		return Report{}, failure.Validation(op, "outcome type %s is reserved", ev.OutcomeType)
	}

	res, err := e.ledger.Append(ctx, f)
	if err != nil {
		return Report{}, err
	}
	rep := Report{AppendResult: res, Rule: rule}
	if res.Skipped {
		e.log.Debug("duplicate event skipped", "idempotency_key", ev.IdempotencyKey, "fact_id", res.Fact.ID)
		return rep, nil
	}

	rep.Decisions = e.policies.OnFact(ctx, res.Fact)

	if isUrgent(rule) {
		tr, err := e.followUp(ctx, res.Fact, rule)
		rep.Transition = tr
		if err != nil {
			rep.FollowUpError = err.Error()
		} else {
			rep.Processed = true
		}
	}
	return rep, nil
}

// MarkProcessed marks a trigger handled by an external process.
func (e *Engine) MarkProcessed(ctx context.Context, factID, processName string) (ledger.AppendResult, error) {
	if processName == "" {
		return ledger.AppendResult{}, failure.Validation("engine.MarkProcessed", "process name is required")
	}
	return e.ledger.MarkProcessed(ctx, factID, processName)
}

// ProcessPending retries the follow-up of every unprocessed trigger the
// engine can handle. It returns how many were completed.
func (e *Engine) ProcessPending(ctx context.Context) (int, error) {
	pending, err := e.ledger.UnprocessedTriggers(ctx)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, f := range pending {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		rule, err := e.rules.Classify(f.OutcomeType)
		if err != nil || !isUrgent(rule) {
			continue
		}
		if _, err := e.followUp(ctx, f, rule); err == nil {
			done++
		}
	}
	if done > 0 {
		e.log.Info("pending triggers processed", "count", done, "pending", len(pending))
	}
	return done, nil
}

func isUrgent(rule classify.Rule) bool {
	return rule.Tier == ir.TierS && rule.Process != ""
}

// followUp moves the trigger's contract to the process target state and
// marks the trigger processed. A contract already in the target state is
// only marked, so a retry after a partial follow-up completes it.
func (e *Engine) followUp(ctx context.Context, f ir.Fact, rule classify.Rule) (*lifecycle.Result, error) {
	target, ok := classify.ProcessTarget(rule.Process)
	if !ok {
		return nil, failure.Validation("engine.followUp", "process %s has no target state", rule.Process)
	}
	if f.EntityType != contract.EntityType {
		return nil, failure.Validation("engine.followUp", "entity type %s has no lifecycle", f.EntityType)
	}

	var result *lifecycle.Result
	c, err := e.machine.Index().Get(f.EntityID)
	if err != nil {
		e.log.Warn("urgent fact for unknown contract", "fact_id", f.ID, "contract_id", f.EntityID)
		return nil, err
	}
	if c.State != contract.State(target) {
		res, err := e.machine.Transition(ctx, f.EntityID, contract.State(target), Actor, f.OutcomeType)
		if err != nil {
			e.log.Warn("urgent transition failed",
				"fact_id", f.ID,
				"contract_id", f.EntityID,
				"to", target,
				"error", err,
			)
			return nil, err
		}
		result = &res
	}

	if _, err := e.ledger.MarkProcessed(ctx, f.ID, rule.Process); err != nil {
		e.log.Warn("processed marker not written", "fact_id", f.ID, "error", err)
		return result, err
	}
	return result, nil
}
