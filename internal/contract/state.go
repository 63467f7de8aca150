package contract

import "fmt"

// State is a contract lifecycle state.
type State string

const (
	Idle         State = "S0"
	Intake       State = "S1"
	Eligible     State = "S2"
	Approval     State = "S3"
	Intervention State = "S4"
	Monitor      State = "S5"
	Stable       State = "S6"
	Shadow       State = "S7"
	Liability    State = "S8"
	Closed       State = "S9"
)

// States lists every state in order.
var States = []State{Idle, Intake, Eligible, Approval, Intervention, Monitor, Stable, Shadow, Liability, Closed}

var stateNames = map[State]string{
	Idle:         "idle",
	Intake:       "intake",
	Eligible:     "eligible",
	Approval:     "approval",
	Intervention: "intervention",
	Monitor:      "monitor",
	Stable:       "stable",
	Shadow:       "shadow",
	Liability:    "liability",
	Closed:       "closed",
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// Name returns the human-readable name of s.
func (s State) Name() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return string(s)
}

// ParseState accepts either a state code ("S4") or its name ("intervention").
func ParseState(s string) (State, error) {
	if State(s).Valid() {
		return State(s), nil
	}
	for st, name := range stateNames {
		if name == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown state %q", s)
}
