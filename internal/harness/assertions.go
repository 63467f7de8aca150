package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/ledgerline/internal/contract"
	"github.com/roach88/ledgerline/internal/ledger"
	"github.com/roach88/ledgerline/internal/policy"
	"github.com/roach88/ledgerline/internal/vv"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

// evaluate checks every assertion and returns one message per failure.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := h.check(ctx, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d] (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func (h *Harness) check(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertFactCount:
		q := ledger.Query{EntityID: a.EntityID}
		if a.OutcomeType != "" {
			q.OutcomeTypes = []string{a.OutcomeType}
		}
		n, err := h.ledger.Count(ctx, q)
		if err != nil {
			return err
		}
		if n != int64(a.Count) {
			return fmt.Errorf("expected %d facts, got %d", a.Count, n)
		}

	case AssertContractState:
		want, err := contract.ParseState(a.State)
		if err != nil {
			return err
		}
		c, err := h.machine.Index().Get(a.Contract)
		if err != nil {
			return err
		}
		if c.State != want {
			return fmt.Errorf("expected contract %s in %s, got %s", a.Contract, want, c.State)
		}

	case AssertPolicyMode:
		p, err := h.policies.Get(a.Policy)
		if err != nil {
			return err
		}
		if p.Mode != policy.Mode(a.Mode) {
			return fmt.Errorf("expected policy %s %s, got %s", a.Policy, a.Mode, p.Mode)
		}

	case AssertUnprocessed:
		pending, err := h.ledger.UnprocessedTriggers(ctx)
		if err != nil {
			return err
		}
		if len(pending) != a.Count {
			return fmt.Errorf("expected %d unprocessed triggers, got %d", a.Count, len(pending))
		}

	case AssertChainValid:
		if _, err := h.ledger.VerifyAll(ctx); err != nil {
			return err
		}

	case AssertVV:
		agg := vv.New(h.ledger, h.rules, vv.Options{
			MinSamples: a.MinSamples,
			Clock:      fixedClock(h.latest),
			Logger:     h.log,
		})
		res, err := agg.Compute(ctx, a.Subject, 0)
		if err != nil {
			return err
		}
		if res.Status != vv.Status(a.Status) {
			return fmt.Errorf("expected vv %s for %s, got %s (%d samples)", a.Status, a.Subject, res.Status, res.Samples)
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
