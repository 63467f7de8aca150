package store

import (
	"fmt"
	"strings"
)

// factColumns is the column list shared by every SQL statement.
const factColumns = `id, chain_seq, outcome_type, entity_id, entity_type, tier, weight,
	metadata, occurred_at, idempotency_key, rule_version, prev_hash, hash, created_at`

// dialect captures the differences between the SQL backends.
type dialect struct {
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string

	// limitAll is the LIMIT clause used when only OFFSET is requested.
	limitAll string
}

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	limitAll:    "LIMIT -1",
}

var postgresDialect = dialect{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	limitAll:    "LIMIT ALL",
}

// queryBuilder accumulates WHERE conditions and bind args.
type queryBuilder struct {
	d     dialect
	conds []string
	args  []any
}

func (b *queryBuilder) bind(v any) string {
	b.args = append(b.args, v)
	return b.d.placeholder(len(b.args))
}

func (b *queryBuilder) where(cond string, v any) {
	b.conds = append(b.conds, fmt.Sprintf(cond, b.bind(v)))
}

func (b *queryBuilder) in(column string, values []string) {
	phs := make([]string, len(values))
	for i, v := range values {
		phs[i] = b.bind(v)
	}
	b.conds = append(b.conds, fmt.Sprintf("%s IN (%s)", column, strings.Join(phs, ", ")))
}

// buildWhere translates f into a WHERE clause (including the keyword, or empty).
func buildWhere(d dialect, f Filter) (string, []any) {
	b := &queryBuilder{d: d}

	if len(f.IDs) > 0 {
		b.in("id", f.IDs)
	}
	if f.EntityID != "" {
		b.where("entity_id = %s", f.EntityID)
	}
	if f.EntityType != "" {
		b.where("entity_type = %s", f.EntityType)
	}
	if len(f.OutcomeTypes) > 0 {
		b.in("outcome_type", f.OutcomeTypes)
	}
	if len(f.Tiers) > 0 {
		tiers := make([]string, len(f.Tiers))
		for i, t := range f.Tiers {
			tiers[i] = string(t)
		}
		b.in("tier", tiers)
	}
	if f.IdempotencyKey != "" {
		b.where("idempotency_key = %s", f.IdempotencyKey)
	}
	if f.KeyPrefix != "" {
		b.where("substr(idempotency_key, 1, "+fmt.Sprint(len(f.KeyPrefix))+") = %s", f.KeyPrefix)
	}
	if !f.Since.IsZero() {
		b.where("occurred_at >= %s", toMicros(f.Since))
	}
	if !f.Until.IsZero() {
		b.where("occurred_at < %s", toMicros(f.Until))
	}
	if f.MinChainSeq > 0 {
		b.where("chain_seq >= %s", f.MinChainSeq)
	}

	if len(b.conds) == 0 {
		return "", b.args
	}
	return "WHERE " + strings.Join(b.conds, " AND "), b.args
}

// buildSelect renders the full SELECT statement for f.
func buildSelect(d dialect, f Filter) (string, []any) {
	where, args := buildWhere(d, f)

	dir := "ASC"
	if f.Desc {
		dir = "DESC"
	}
	var order string
	switch f.Order {
	case OrderChain:
		order = fmt.Sprintf("ORDER BY chain_seq %s", dir)
	default:
		order = fmt.Sprintf("ORDER BY occurred_at %s, id %s", dir, dir)
	}

	var page string
	switch {
	case f.Limit > 0 && f.Offset > 0:
		page = fmt.Sprintf("LIMIT %d OFFSET %d", f.Limit, f.Offset)
	case f.Limit > 0:
		page = fmt.Sprintf("LIMIT %d", f.Limit)
	case f.Offset > 0:
		page = fmt.Sprintf("%s OFFSET %d", d.limitAll, f.Offset)
	}

	parts := []string{"SELECT " + factColumns + " FROM facts"}
	for _, p := range []string{where, order, page} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " "), args
}

// buildCount renders the COUNT statement for f.
func buildCount(d dialect, f Filter) (string, []any) {
	where, args := buildWhere(d, f)
	query := "SELECT COUNT(*) FROM facts"
	if where != "" {
		query += " " + where
	}
	return query, args
}
