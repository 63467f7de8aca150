package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSelect_OffsetWithoutLimit(t *testing.T) {
	q, args := buildSelect(sqliteDialect, Filter{Offset: 4})
	assert.Contains(t, q, "ORDER BY occurred_at ASC, id ASC LIMIT -1 OFFSET 4")
	assert.Empty(t, args)

	q, _ = buildSelect(postgresDialect, Filter{Offset: 4})
	assert.Contains(t, q, "LIMIT ALL OFFSET 4")
}

func TestBuildSelect_ChainDesc(t *testing.T) {
	q, _ := buildSelect(sqliteDialect, Filter{Order: OrderChain, Desc: true, Limit: 1})
	assert.Contains(t, q, "ORDER BY chain_seq DESC LIMIT 1")
}

func TestBuildWhere_PlaceholderNumbering(t *testing.T) {
	where, args := buildWhere(postgresDialect, Filter{
		IDs:          []string{"a", "b"},
		OutcomeTypes: []string{"X"},
		MinChainSeq:  7,
	})
	assert.Equal(t, "WHERE id IN ($1, $2) AND outcome_type IN ($3) AND chain_seq >= $4", where)
	assert.Equal(t, []any{"a", "b", "X", int64(7)}, args)
}
