package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/ledgerline/internal/ir"
)

// TraceSnapshot is the golden form of a scenario run.
type TraceSnapshot struct {
	ScenarioName string         `json:"scenario_name"`
	Trace        []TraceEvent   `json:"trace"`
	State        map[string]any `json:"state,omitempty"`
}

// toCanonicalMap projects the snapshot onto plain maps so it can be
// serialized with ir.MarshalCanonical. Zero fields are omitted.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq":  ev.Seq,
			"step": ev.Step,
		}
		put := func(key, val string) {
			if val != "" {
				m[key] = val
			}
		}
		put("outcome_type", ev.OutcomeType)
		put("entity_id", ev.EntityID)
		put("tier", ev.Tier)
		put("transition", ev.Transition)
		put("mode", ev.Mode)
		put("error", ev.Error)
		if ev.Tier != "" {
			m["weight"] = ev.Weight
		}
		if ev.Skipped {
			m["skipped"] = true
		}
		if ev.Processed {
			m["processed"] = true
		}
		if ev.Count != 0 {
			m["count"] = ev.Count
		}
		if len(ev.Decisions) > 0 {
			m["decisions"] = ev.Decisions
		}
		trace[i] = m
	}

	out := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
	}
	if len(s.State) > 0 {
		out["state"] = s.State
	}
	return out
}

// Marshal returns the canonical JSON bytes compared against golden files.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden runs scenario and compares its snapshot with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		State:        result.State,
	}
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
