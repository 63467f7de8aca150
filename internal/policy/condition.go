package policy

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/roach88/ledgerline/internal/ir"
)

// conditions compiles CEL trigger conditions. Expressions see a single
// variable `fact` with the fact's fields under their JSON names.
type conditions struct {
	env *cel.Env
}

func newConditions() (*conditions, error) {
	env, err := cel.NewEnv(
		cel.Variable("fact", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &conditions{env: env}, nil
}

// compile returns nil for an empty expression.
func (c *conditions) compile(expr string) (cel.Program, error) {
	if expr == "" {
		return nil, nil
	}
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := c.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return prg, nil
}

// eval reports whether f satisfies prg. A nil program always matches.
func eval(prg cel.Program, f ir.Fact) (bool, error) {
	if prg == nil {
		return true, nil
	}
	out, _, err := prg.Eval(map[string]any{"fact": factInput(f)})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition result is %T, not bool", out.Value())
	}
	return val, nil
}

func factInput(f ir.Fact) map[string]any {
	meta := f.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return map[string]any{
		"id":           f.ID,
		"outcome_type": f.OutcomeType,
		"entity_id":    f.EntityID,
		"entity_type":  f.EntityType,
		"tier":         string(f.Tier),
		"weight":       f.Weight,
		"metadata":     meta,
		"occurred_at":  f.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}
