package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ledgerline/internal/contract"
	"github.com/roach88/ledgerline/internal/policy"
)

// Scenario is a scripted run against a fresh ledger.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Rules is an optional CUE rule table, relative to the scenario file.
	// Empty uses the built-in table.
	Rules string `yaml:"rules,omitempty"`

	Contracts  []ContractSetup `yaml:"contracts,omitempty"`
	Policies   []policy.Spec   `yaml:"policies,omitempty"`
	Steps      []Step          `yaml:"steps"`
	Assertions []Assertion     `yaml:"assertions"`
}

// ContractSetup is a contract taken in before the steps run.
type ContractSetup struct {
	ID           string  `yaml:"id"`
	State        string  `yaml:"state,omitempty"`
	SlotID       string  `yaml:"slot_id"`
	ProducerID   string  `yaml:"producer_id"`
	CustomerID   string  `yaml:"customer_id"`
	MonthlyValue float64 `yaml:"monthly_value"`
}

// Step is one action. Exactly one of the action fields is set.
type Step struct {
	// Label names the fact an append step produced so later steps can
	// refer to it.
	Label string `yaml:"label,omitempty"`

	Append     *AppendStep     `yaml:"append,omitempty"`
	Transition *TransitionStep `yaml:"transition,omitempty"`
	Actual     *ActualStep     `yaml:"actual,omitempty"`
	Kill       *KillStep       `yaml:"kill,omitempty"`
	Process    *ProcessStep    `yaml:"process,omitempty"`
	Pending    bool            `yaml:"pending,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

type AppendStep struct {
	OutcomeType string         `yaml:"outcome_type"`
	EntityID    string         `yaml:"entity_id"`
	EntityType  string         `yaml:"entity_type"`
	Metadata    map[string]any `yaml:"metadata,omitempty"`
	// At is the occurrence time as an offset from the scenario epoch.
	At             time.Duration `yaml:"at,omitempty"`
	IdempotencyKey string        `yaml:"idempotency_key,omitempty"`
}

type TransitionStep struct {
	Contract string `yaml:"contract"`
	To       string `yaml:"to"`
	Actor    string `yaml:"actor"`
	Reason   string `yaml:"reason,omitempty"`
}

type ActualStep struct {
	Policy string `yaml:"policy"`
	Fact   string `yaml:"fact"` // label
	Actual string `yaml:"actual"`
}

type KillStep struct {
	Policy string `yaml:"policy"`
	Reason string `yaml:"reason,omitempty"`
}

type ProcessStep struct {
	Fact    string `yaml:"fact"` // label
	Process string `yaml:"process"`
}

// Expect checks the outcome of a single step. Unset fields are not checked.
type Expect struct {
	// Error is the failure kind the step must fail with.
	Error     string `yaml:"error,omitempty"`
	Tier      string `yaml:"tier,omitempty"`
	Skipped   *bool  `yaml:"skipped,omitempty"`
	Processed *bool  `yaml:"processed,omitempty"`
	// State is the state the step moved the contract to, as a code or name.
	State string `yaml:"state,omitempty"`
	// Mode is the policy's mode after the step.
	Mode  string `yaml:"mode,omitempty"`
	Count *int   `yaml:"count,omitempty"`
}

// Assertion checks the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	OutcomeType string `yaml:"outcome_type,omitempty"`
	EntityID    string `yaml:"entity_id,omitempty"`
	Count       int    `yaml:"count,omitempty"`

	Contract string `yaml:"contract,omitempty"`
	State    string `yaml:"state,omitempty"`

	Policy string `yaml:"policy,omitempty"`
	Mode   string `yaml:"mode,omitempty"`

	Subject    string `yaml:"subject,omitempty"`
	Status     string `yaml:"status,omitempty"`
	MinSamples int    `yaml:"min_samples,omitempty"`
}

// Assertion types.
const (
	AssertFactCount     = "fact_count"
	AssertContractState = "contract_state"
	AssertPolicyMode    = "policy_mode"
	AssertUnprocessed   = "unprocessed"
	AssertChainValid    = "chain_valid"
	AssertVV            = "vv"
)

// LoadScenario reads a scenario file. Unknown fields are rejected, and a
// relative rules path is resolved against the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.Rules != "" && !filepath.IsAbs(s.Rules) {
		s.Rules = filepath.Join(filepath.Dir(path), s.Rules)
	}
	if s.Rules != "" {
		if _, err := os.Stat(s.Rules); err != nil {
			return nil, fmt.Errorf("invalid scenario: rules file: %w", err)
		}
	}
	return s, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, c := range s.Contracts {
		if c.ID == "" {
			return fmt.Errorf("contracts[%d]: id is required", i)
		}
		if c.State != "" {
			if _, err := contract.ParseState(c.State); err != nil {
				return fmt.Errorf("contracts[%d]: %w", i, err)
			}
		}
	}

	labels := map[string]bool{}
	for i, step := range s.Steps {
		if err := validateStep(step, labels); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.Label != "" {
			if labels[step.Label] {
				return fmt.Errorf("steps[%d]: duplicate label %q", i, step.Label)
			}
			labels[step.Label] = true
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step, labels map[string]bool) error {
	set := 0
	for _, present := range []bool{
		step.Append != nil, step.Transition != nil, step.Actual != nil,
		step.Kill != nil, step.Process != nil, step.Pending,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one action is required, got %d", set)
	}
	if step.Label != "" && step.Append == nil {
		return fmt.Errorf("only append steps can be labeled")
	}

	switch {
	case step.Append != nil:
		if step.Append.OutcomeType == "" {
			return fmt.Errorf("append: outcome_type is required")
		}
	case step.Transition != nil:
		if step.Transition.Contract == "" || step.Transition.To == "" {
			return fmt.Errorf("transition: contract and to are required")
		}
	case step.Actual != nil:
		if !labels[step.Actual.Fact] {
			return fmt.Errorf("actual: unknown fact label %q", step.Actual.Fact)
		}
	case step.Kill != nil:
		if step.Kill.Policy == "" {
			return fmt.Errorf("kill: policy is required")
		}
	case step.Process != nil:
		if !labels[step.Process.Fact] {
			return fmt.Errorf("process: unknown fact label %q", step.Process.Fact)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertFactCount, AssertUnprocessed, AssertChainValid:
	case AssertContractState:
		if a.Contract == "" || a.State == "" {
			return fmt.Errorf("contract and state are required for contract_state")
		}
	case AssertPolicyMode:
		if a.Policy == "" || a.Mode == "" {
			return fmt.Errorf("policy and mode are required for policy_mode")
		}
	case AssertVV:
		if a.Subject == "" || a.Status == "" {
			return fmt.Errorf("subject and status are required for vv")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("count must be non-negative")
	}
	return nil
}
