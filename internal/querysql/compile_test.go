package querysql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowledger/internal/ir"
	"github.com/roach88/flowledger/internal/queryir"
)

const columns = "execution_id, seq, step, timestamp, node_id, action, value, token_id, source_token_ids, correlation_ids, event_id, detail"

func TestCompile_NoFilter(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.Select{})
	require.NoError(t, err)

	assert.Equal(t, "SELECT "+columns+" FROM activities ORDER BY seq ASC", sql)
	assert.Empty(t, params)
}

func TestCompile_Equals(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(&queryir.Select{
		Filter: &queryir.Equals{Field: queryir.ColNodeID, Value: ir.IRString("snk")},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(sql, "WHERE node_id = ? ORDER BY seq ASC"), sql)
	assert.NotContains(t, sql, "snk", "values are never interpolated")
	assert.Equal(t, []any{"snk"}, params)
}

func TestCompile_AllPredicates(t *testing.T) {
	c := NewSQLCompiler().Bind("bound.exec", "exec-1")

	sql, params, err := c.Compile(queryir.Select{
		Filter: queryir.And{Predicates: []queryir.Predicate{
			queryir.BoundEquals{Field: queryir.ColExecutionID, BoundVar: "bound.exec"},
			queryir.Equals{Field: queryir.ColStep, Value: ir.IRInt(4)},
			queryir.SeqRange{From: 2, To: 10},
			queryir.Contains{Field: queryir.ColCorrelationIDs, Value: "e1"},
		}},
		Limit: 3,
	})
	require.NoError(t, err)

	want := "SELECT " + columns + " FROM activities WHERE execution_id = ? AND step = ? AND seq BETWEEN ? AND ?" +
		" AND EXISTS (SELECT 1 FROM json_each(correlation_ids) WHERE json_each.value = ?)" +
		" ORDER BY seq ASC LIMIT ?"
	assert.Equal(t, want, sql)
	assert.Equal(t, []any{"exec-1", int64(4), int64(2), int64(10), "e1", 3}, params)
}

func TestCompile_SeqRangeBounds(t *testing.T) {
	tests := []struct {
		name   string
		r      queryir.SeqRange
		clause string
		params []any
	}{
		{"from only", queryir.SeqRange{From: 5}, "seq >= ?", []any{int64(5)}},
		{"to only", queryir.SeqRange{To: 7}, "seq <= ?", []any{int64(7)}},
		{"open", queryir.SeqRange{}, "1 = 1", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := NewSQLCompiler().Compile(queryir.Select{Filter: tt.r})
			require.NoError(t, err)
			assert.Contains(t, sql, "WHERE "+tt.clause+" ORDER BY")
			assert.Equal(t, tt.params, params)
		})
	}
}

func TestCompile_NestedAndIsParenthesized(t *testing.T) {
	sql, _, err := NewSQLCompiler().Compile(queryir.Select{
		Filter: queryir.And{Predicates: []queryir.Predicate{
			queryir.Equals{Field: queryir.ColAction, Value: ir.IRString("emit")},
			queryir.And{Predicates: []queryir.Predicate{
				queryir.Equals{Field: queryir.ColNodeID, Value: ir.IRString("A")},
				queryir.SeqRange{From: 1},
			}},
		}},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "action = ? AND (node_id = ? AND seq >= ?)")
}

func TestCompile_EmptyAnd(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.Select{Filter: queryir.And{}})
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE 1 = 1")
	assert.Empty(t, params)
}

func TestCompile_OrderByMandatory(t *testing.T) {
	queries := []queryir.Query{
		queryir.Select{},
		queryir.ByNode("A"),
		queryir.ByCorrelation("e1"),
		queryir.Select{Filter: queryir.SeqRange{To: 3}, Limit: 1},
	}
	for _, q := range queries {
		sql, _, err := NewSQLCompiler().Compile(q)
		require.NoError(t, err)
		assert.Contains(t, sql, "ORDER BY seq ASC")
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		query queryir.Query
		msg   string
	}{
		{"nil", nil, "nil query"},
		{"unknown column", queryir.Select{Filter: queryir.Equals{Field: "1=1; DROP TABLE activities", Value: ir.IRInt(1)}}, "invalid query"},
		{"unbound variable", queryir.Select{Filter: queryir.BoundEquals{Field: queryir.ColNodeID, BoundVar: "bound.missing"}}, `no value bound for "bound.missing"`},
		{"other table", queryir.Select{From: "claims"}, "unknown source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewSQLCompiler().Compile(tt.query)
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestCompile_Deterministic(t *testing.T) {
	q := queryir.Select{Filter: queryir.And{Predicates: []queryir.Predicate{
		queryir.Equals{Field: queryir.ColNodeID, Value: ir.IRString("A")},
		queryir.Contains{Field: queryir.ColSourceTokenIDs, Value: "t"},
	}}}

	first, _, err := NewSQLCompiler().Compile(q)
	require.NoError(t, err)
	for range 10 {
		again, _, err := NewSQLCompiler().Compile(q)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestIRValueToParam(t *testing.T) {
	v, err := irValueToParam(ir.IRBool(true))
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = irValueToParam(ir.IRObject{})
	assert.Error(t, err)
	_, err = irValueToParam(ir.IRArray{})
	assert.Error(t, err)
	_, err = irValueToParam(ir.IRFloat(1.5))
	assert.Error(t, err)
}

func TestBind_NilMap(t *testing.T) {
	c := &SQLCompiler{}
	c.Bind("x", 1)
	assert.Equal(t, 1, c.BoundValues["x"])
}
