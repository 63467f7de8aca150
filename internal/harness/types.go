package harness

// Step kinds recorded in the trace.
const (
	StepAppend     = "append"
	StepTransition = "transition"
	StepActual     = "actual"
	StepKill       = "kill"
	StepProcess    = "process"
	StepPending    = "pending"
)

// TraceEvent is what one scenario step did.
type TraceEvent struct {
	Seq         int64    `json:"seq"`
	Step        string   `json:"step"`
	OutcomeType string   `json:"outcome_type,omitempty"`
	EntityID    string   `json:"entity_id,omitempty"`
	Tier        string   `json:"tier,omitempty"`
	Weight      float64  `json:"weight,omitempty"`
	Skipped     bool     `json:"skipped,omitempty"`
	Processed   bool     `json:"processed,omitempty"`
	Transition  string   `json:"transition,omitempty"` // "S2->S4"
	Decisions   []string `json:"decisions,omitempty"`  // "policy:outcome"
	Mode        string   `json:"mode,omitempty"`
	Count       int      `json:"count,omitempty"`
	Error       string   `json:"error,omitempty"` // failure kind
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// State is the final view: contract states and policy modes by id.
	State map[string]any `json:"state,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]any),
	}
}

// AddError records a failed expectation and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
