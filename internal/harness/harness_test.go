package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		s, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/payment_failure_intervention.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a := TraceSnapshot{ScenarioName: s.Name, Trace: first.Trace, State: first.State}
	b := TraceSnapshot{ScenarioName: s.Name, Trace: second.Trace, State: second.State}
	ja, err := a.Marshal()
	require.NoError(t, err)
	jb, err := b.Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(ja), string(jb))
}

func TestRun_ExpectationFailures(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong_expectations
description: "every expectation here is wrong"
contracts:
  - { id: A, state: S2, slot_id: s, producer_id: p, customer_id: c, monthly_value: 10 }
steps:
  - append: { outcome_type: NO_SHOW, entity_id: A, entity_type: contract }
    expect: { tier: A, state: S5 }
  - transition: { contract: A, to: S9 }
  - transition: { contract: A, to: S5 }
    expect: { error: NOT_FOUND }
assertions:
  - { type: contract_state, contract: A, state: S2 }
  - { type: fact_count, outcome_type: NO_SHOW, count: 3 }
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 6)
	assert.Contains(t, result.Errors[0], "expected tier A, got S")
	assert.Contains(t, result.Errors[1], `expected transition to S5, got "S2->S4"`)
	assert.Contains(t, result.Errors[2], "unexpected error")
	assert.Contains(t, result.Errors[3], `expected error NOT_FOUND, got ""`)
	assert.Contains(t, result.Errors[4], "expected contract A in S2, got S5")
	assert.Contains(t, result.Errors[5], "expected 3 facts, got 1")
}

func TestRun_SetupFailure(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: bad_policy
description: "policy on an unknown trigger"
policies:
  - { id: p, trigger: NOT_A_TYPE, action: a }
steps:
  - pending: true
`))
	require.NoError(t, err)

	_, err = Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policies[0]")
}
