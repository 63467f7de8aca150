// Package classify maps raw outcome types to their tier, weight and
// downstream process using a versioned rule table.
//
// Rule tables are written in CUE and validated at load time: against the
// CUE schema (tier enum, weight range), and against the closed OutcomeType
// set in both directions. Classification of an unknown type fails closed.
package classify

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/Masterminds/semver/v3"

	"github.com/roach88/ledgerline/internal/failure"
	"github.com/roach88/ledgerline/internal/ir"
)

//go:embed schema.cue
var schemaCUE string

//go:embed rules.cue
var defaultRulesCUE string

// ErrUnknownOutcome is the message of the Validation error returned for
// outcome types no rule covers.
const ErrUnknownOutcome = "unknown outcome type"

// Rule is the classification of one outcome type.
type Rule struct {
	OutcomeType OutcomeType `json:"outcome_type"`
	Tier        ir.Tier     `json:"tier"`
	Weight      float64     `json:"weight"`
	Process     string      `json:"process,omitempty"`

	// System rules classify facts ledgerline writes about itself.
	// They never count toward velocity of value.
	System bool `json:"system"`
}

// Table is an immutable, validated rule table.
type Table struct {
	version *semver.Version
	rules   map[OutcomeType]Rule
}

// LoadError represents a rule table error with source position.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the embedded rule table.
// Panics if the embedded table is invalid, which the package tests rule out.
func Default() *Table {
	t, err := LoadTable([]byte(defaultRulesCUE), "rules.cue")
	if err != nil {
		panic(fmt.Sprintf("classify: embedded rule table: %v", err))
	}
	return t
}

// LoadFile loads an operator-supplied rule table.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule table: %w", err)
	}
	return LoadTable(data, path)
}

// LoadTable compiles a CUE rule table, unifies it with the schema and
// validates it against the closed OutcomeType set.
func LoadTable(src []byte, filename string) (*Table, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v = schema.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	t := &Table{rules: make(map[OutcomeType]Rule)}

	versionVal := v.LookupPath(cue.ParsePath("version"))
	if !versionVal.Exists() {
		return nil, &LoadError{Field: "version", Message: "version is required", Pos: v.Pos()}
	}
	raw, err := versionVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	t.version, err = semver.NewVersion(raw)
	if err != nil {
		return nil, &LoadError{Field: "version", Message: err.Error(), Pos: versionVal.Pos()}
	}

	rulesVal := v.LookupPath(cue.ParsePath("rules"))
	if !rulesVal.Exists() {
		return nil, &LoadError{Field: "rules", Message: "rules are required", Pos: v.Pos()}
	}
	iter, err := rulesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		name := OutcomeType(iter.Label())
		rv := iter.Value()
		if !name.Known() {
			return nil, &LoadError{
				Field:   "rules." + string(name),
				Message: "outcome type is not a known OutcomeType",
				Pos:     rv.Pos(),
			}
		}
		rule, err := parseRule(name, rv)
		if err != nil {
			return nil, err
		}
		t.rules[name] = rule
	}

	for _, known := range AllOutcomeTypes {
		if _, ok := t.rules[known]; !ok {
			return nil, &LoadError{
				Field:   "rules." + string(known),
				Message: "known outcome type has no rule",
				Pos:     rulesVal.Pos(),
			}
		}
	}
	return t, nil
}

func parseRule(name OutcomeType, v cue.Value) (Rule, error) {
	rule := Rule{OutcomeType: name}

	tier, err := v.LookupPath(cue.ParsePath("tier")).String()
	if err != nil {
		return Rule{}, formatCUEError(err)
	}
	rule.Tier = ir.Tier(tier)

	rule.Weight, err = v.LookupPath(cue.ParsePath("weight")).Float64()
	if err != nil {
		return Rule{}, formatCUEError(err)
	}

	if pv := v.LookupPath(cue.ParsePath("process")); pv.Exists() {
		rule.Process, err = pv.String()
		if err != nil {
			return Rule{}, formatCUEError(err)
		}
	}

	rule.System, err = v.LookupPath(cue.ParsePath("system")).Bool()
	if err != nil {
		return Rule{}, formatCUEError(err)
	}
	return rule, nil
}

// Version returns the table's semantic version.
func (t *Table) Version() string {
	return t.version.String()
}

// Satisfies reports whether the table's version meets a semver constraint
// such as "^1.0". An empty constraint is always satisfied.
func (t *Table) Satisfies(constraint string) (bool, error) {
	if constraint == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("parse rules constraint: %w", err)
	}
	return c.Check(t.version), nil
}

// Classify returns the rule for an outcome type.
//
// "<type>.processed" markers classify as tier A, weight 0, System when
// <type> is known. Unknown types return a Validation error.
func (t *Table) Classify(outcomeType string) (Rule, error) {
	if rule, ok := t.rules[OutcomeType(outcomeType)]; ok {
		return rule, nil
	}
	if base, ok := ir.ProcessedBase(outcomeType); ok {
		if _, known := t.rules[OutcomeType(base)]; known {
			return Rule{OutcomeType: OutcomeType(outcomeType), Tier: ir.TierA, Weight: 0, System: true}, nil
		}
	}
	return Rule{}, failure.Validation("classify", "%s %q", ErrUnknownOutcome, outcomeType)
}

// Apply classifies f and stamps tier, weight and rule version onto it.
func (t *Table) Apply(f ir.Fact) (ir.Fact, Rule, error) {
	rule, err := t.Classify(f.OutcomeType)
	if err != nil {
		return f, Rule{}, err
	}
	f.Tier = rule.Tier
	f.Weight = rule.Weight
	f.RuleVersion = t.Version()
	return f, rule, nil
}

// IsSystem reports whether an outcome type is a system type or marker.
// Unknown types are not system types.
func (t *Table) IsSystem(outcomeType string) bool {
	rule, err := t.Classify(outcomeType)
	return err == nil && rule.System
}

// Rules returns every rule sorted by outcome type.
func (t *Table) Rules() []Rule {
	out := make([]Rule, 0, len(t.rules))
	for _, r := range t.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OutcomeType < out[j].OutcomeType })
	return out
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &LoadError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
