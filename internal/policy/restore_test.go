package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerline/internal/failure"
	"github.com/roach88/ledgerline/internal/ir"
)

func TestRestore_RebuildsTable(t *testing.T) {
	fx := newFixture(t, Options{})
	ctx := context.Background()

	a, err := fx.engine.Register(ctx, Spec{ID: "a", Trigger: "PAYMENT_FAILED", Action: "send_reminder"})
	require.NoError(t, err)
	_, err = fx.engine.Register(ctx, Spec{ID: "b", Trigger: "NO_SHOW", Action: "call", Condition: `fact.weight < 0.0`})
	require.NoError(t, err)

	fx.feed(t, a, 0, 20, 16)
	fx.engine.OnFact(ctx, trigger(50))
	_, err = fx.engine.Kill(ctx, "b", "retired")
	require.NoError(t, err)

	restored, err := New(fx.ledger, Options{Logger: quiet()})
	require.NoError(t, err)
	require.NoError(t, restored.Restore(ctx))

	assert.Equal(t, fx.engine.List(), restored.List())

	wantObs, err := fx.engine.Observations("a")
	require.NoError(t, err)
	gotObs, err := restored.Observations("a")
	require.NoError(t, err)
	assert.Equal(t, wantObs, gotObs)

	got, err := restored.Get("a")
	require.NoError(t, err)
	assert.Equal(t, ModeCandidate, got.Mode)
	assert.Equal(t, 21, got.ObservationCount)
	assert.Equal(t, 20, got.EvaluatedCount)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)

	killed, _ := restored.Get("b")
	assert.Equal(t, ModeKilled, killed.Mode)
	assert.Equal(t, "retired", killed.KillReason)

	// The pending observation can still be evaluated after a restart.
	_, err = restored.RecordActual(ctx, "a", trigger(50).ID, "send_reminder")
	require.NoError(t, err)
}

func TestRestore_Empty(t *testing.T) {
	fx := newFixture(t, Options{})
	require.NoError(t, fx.engine.Restore(context.Background()))
	assert.Empty(t, fx.engine.List())
}

func TestRestore_OrphanAuditFact(t *testing.T) {
	fx := newFixture(t, Options{})
	ctx := context.Background()

	_, err := fx.ledger.Append(ctx, ir.Fact{
		OutcomeType: "POLICY_OBSERVED",
		EntityID:    "ghost",
		EntityType:  EntityType,
		Tier:        ir.TierA,
		Metadata:    map[string]any{"policy_id": "ghost", "fact_id": "f1", "prediction": "x"},
	})
	require.NoError(t, err)

	err = fx.engine.Restore(ctx)
	assert.True(t, failure.IsIntegrity(err), "got %v", err)
}

func TestRestore_IgnoresNonAuditFacts(t *testing.T) {
	fx := newFixture(t, Options{})
	ctx := context.Background()

	_, err := fx.engine.Register(ctx, Spec{ID: "a", Trigger: "PAYMENT_FAILED", Action: "send_reminder"})
	require.NoError(t, err)

	// An ordinary event that happens to be filed under the policy entity type.
	_, err = fx.ledger.Append(ctx, ir.Fact{
		OutcomeType: "MESSAGE_REPLIED",
		EntityID:    "someone",
		EntityType:  EntityType,
		Tier:        ir.TierA,
		Weight:      0.3,
		OccurredAt:  epoch,
	})
	require.NoError(t, err)

	restored, err := New(fx.ledger, Options{Logger: quiet()})
	require.NoError(t, err)
	require.NoError(t, restored.Restore(ctx))
	assert.Len(t, restored.List(), 1)
}
