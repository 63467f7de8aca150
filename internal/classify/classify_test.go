package classify

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ledgerline/internal/failure"
	"github.com/roach88/ledgerline/internal/ir"
)

func TestDefaultTableLoads(t *testing.T) {
	tbl := Default()
	assert.Equal(t, "1.2.0", tbl.Version())
	assert.Len(t, tbl.Rules(), len(AllOutcomeTypes))
}

func TestClassify(t *testing.T) {
	tbl := Default()

	cases := []struct {
		outcome string
		tier    ir.Tier
		weight  float64
		process string
		system  bool
	}{
		{"PAYMENT_FAILED", ir.TierS, -0.8, ProcessIntervention, false},
		{"CONTRACT_CANCEL_REQUESTED", ir.TierS, -1.0, ProcessShadowWatch, false},
		{"SLOT_CONFLICT", ir.TierS, -0.4, "", false},
		{"SESSION_COMPLETED", ir.TierA, 0.8, "", false},
		{"CUSTOMER_CHURNED", ir.TierTerminal, -1.0, "", false},
		{"STATE_TRANSITION", ir.TierA, 0, "", true},
		{"POLICY_KILLED", ir.TierA, 0, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.outcome, func(t *testing.T) {
			rule, err := tbl.Classify(tc.outcome)
			require.NoError(t, err)
			assert.Equal(t, tc.tier, rule.Tier)
			assert.Equal(t, tc.weight, rule.Weight)
			assert.Equal(t, tc.process, rule.Process)
			assert.Equal(t, tc.system, rule.System)
		})
	}
}

func TestClassify_UnknownFailsClosed(t *testing.T) {
	tbl := Default()

	_, err := tbl.Classify("PAYMENT_FIALED")
	require.Error(t, err)
	assert.True(t, failure.IsValidation(err))
	assert.Contains(t, err.Error(), ErrUnknownOutcome)

	_, err = tbl.Classify("")
	assert.True(t, failure.IsValidation(err))

	_, err = tbl.Classify("BOGUS.processed")
	assert.True(t, failure.IsValidation(err), "markers of unknown types are unknown")
}

func TestClassify_ProcessedMarker(t *testing.T) {
	rule, err := Default().Classify("PAYMENT_FAILED.processed")
	require.NoError(t, err)
	assert.Equal(t, ir.TierA, rule.Tier)
	assert.Zero(t, rule.Weight)
	assert.True(t, rule.System)
}

func TestApply(t *testing.T) {
	tbl := Default()
	f, rule, err := tbl.Apply(ir.Fact{OutcomeType: "REVIEW_POSITIVE"})
	require.NoError(t, err)
	assert.Equal(t, ir.TierA, f.Tier)
	assert.Equal(t, 1.0, f.Weight)
	assert.Equal(t, "1.2.0", f.RuleVersion)
	assert.Equal(t, ReviewPositive, rule.OutcomeType)

	assert.True(t, tbl.IsSystem("POLICY_OBSERVED"))
	assert.True(t, tbl.IsSystem("NO_SHOW.processed"))
	assert.False(t, tbl.IsSystem("NO_SHOW"))
	assert.False(t, tbl.IsSystem("UNKNOWN"))
}

func TestEveryProcessHasTarget(t *testing.T) {
	for _, rule := range Default().Rules() {
		if rule.Process == "" {
			continue
		}
		_, ok := ProcessTarget(rule.Process)
		assert.True(t, ok, "process %q of %s has no target state", rule.Process, rule.OutcomeType)
	}

	state, ok := ProcessTarget(ProcessIntervention)
	require.True(t, ok)
	assert.Equal(t, "S4", state)
	_, ok = ProcessTarget("unknown")
	assert.False(t, ok)
}

func TestSatisfies(t *testing.T) {
	tbl := Default()

	ok, err := tbl.Satisfies("^1.0")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tbl.Satisfies(">=2.0.0")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tbl.Satisfies("")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = tbl.Satisfies("not a constraint")
	assert.Error(t, err)
}

// withRule rewrites one line of the default table.
func withRule(t *testing.T, old, replacement string) []byte {
	t.Helper()
	require.Contains(t, defaultRulesCUE, old)
	return []byte(strings.Replace(defaultRulesCUE, old, replacement, 1))
}

func TestLoadTable_Rejects(t *testing.T) {
	cases := map[string]struct {
		src  []byte
		want string
	}{
		"weight out of range": {
			withRule(t, `PAYMENT_FAILED: {tier: "S", weight: -0.8, process: "intervention"}`,
				`PAYMENT_FAILED: {tier: "S", weight: -1.8, process: "intervention"}`),
			"",
		},
		"bad tier": {
			withRule(t, `NO_SHOW: {tier: "S", weight: -0.5, process: "intervention"}`,
				`NO_SHOW: {tier: "B", weight: -0.5, process: "intervention"}`),
			"",
		},
		"bad process": {
			withRule(t, `NO_SHOW: {tier: "S", weight: -0.5, process: "intervention"}`,
				`NO_SHOW: {tier: "S", weight: -0.5, process: "escalate"}`),
			"",
		},
		"unknown outcome type": {
			withRule(t, `SLOT_CONFLICT: {tier: "S", weight: -0.4}`,
				`SLOT_CONFLICT: {tier: "S", weight: -0.4}
	DOUBLE_BOOKED: {tier: "S", weight: -0.4}`),
			"rules.DOUBLE_BOOKED",
		},
		"missing rule": {
			withRule(t, `SLOT_CONFLICT: {tier: "S", weight: -0.4}`, ``),
			"rules.SLOT_CONFLICT",
		},
		"bad version": {
			withRule(t, `version: "1.2.0"`, `version: "latest"`),
			"",
		},
		"syntax": {
			[]byte(`rules: {`),
			"",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadTable(tc.src, "test.cue")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.cue")
	src := strings.Replace(defaultRulesCUE, `version: "1.2.0"`, `version: "2.0.1"`, 1)
	src = strings.Replace(src, `MESSAGE_REPLIED: {tier: "A", weight: 0.3}`, `MESSAGE_REPLIED: {tier: "A", weight: 0.45}`, 1)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	tbl, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2.0.1", tbl.Version())

	rule, err := tbl.Classify("MESSAGE_REPLIED")
	require.NoError(t, err)
	assert.Equal(t, 0.45, rule.Weight)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}

func TestLoadError_Format(t *testing.T) {
	err := &LoadError{Field: "rules.X", Message: "bad"}
	assert.Equal(t, "rules.X: bad", err.Error())
}
