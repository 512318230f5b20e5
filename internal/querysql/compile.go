// Package querysql compiles ledger QueryIR to parameterized SQLite SQL.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/flowledger/internal/ir"
	"github.com/roach88/flowledger/internal/queryir"
)

// ActivityColumns is the fixed column list every compiled query selects, in
// scan order.
var ActivityColumns = []string{
	"execution_id",
	"seq",
	"step",
	"timestamp",
	"node_id",
	"action",
	"value",
	"token_id",
	"source_token_ids",
	"correlation_ids",
	"event_id",
	"detail",
}

// SQLCompiler compiles QueryIR to parameterized SQL for SQLite.
//
// CRITICAL: every query ends in ORDER BY seq ASC.
// CRITICAL: all values are parameterized, never interpolated. Column names
// are checked against queryir's column sets before they reach SQL text.
type SQLCompiler struct {
	// BoundValues holds the values for BoundEquals predicates.
	BoundValues map[string]any
}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{
		BoundValues: make(map[string]any),
	}
}

// Bind sets the value for a BoundEquals variable and returns the compiler.
func (c *SQLCompiler) Bind(name string, value any) *SQLCompiler {
	if c.BoundValues == nil {
		c.BoundValues = make(map[string]any)
	}
	c.BoundValues[name] = value
	return c
}

// Compile converts a QueryIR query to parameterized SQL.
// Returns (sql, params, error).
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}
	if res := queryir.Validate(q); !res.Valid {
		return "", nil, fmt.Errorf("invalid query: %s", res.Error())
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	var whereClause string
	var params []any
	if q.Filter != nil {
		filterSQL, filterParams, err := c.compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		whereClause = " WHERE " + filterSQL
		params = filterParams
	}

	sql := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY seq ASC",
		strings.Join(ActivityColumns, ", "),
		q.Source(),
		whereClause)

	if q.Limit > 0 {
		sql += " LIMIT ?"
		params = append(params, q.Limit)
	}

	return sql, params, nil
}

// compilePredicate compiles a predicate to a WHERE clause fragment.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil
	}

	switch pred := p.(type) {
	case queryir.Equals:
		return c.compileEquals(pred)
	case *queryir.Equals:
		return c.compileEquals(*pred)
	case queryir.BoundEquals:
		return c.compileBoundEquals(pred)
	case *queryir.BoundEquals:
		return c.compileBoundEquals(*pred)
	case queryir.And:
		return c.compileAnd(pred)
	case *queryir.And:
		return c.compileAnd(*pred)
	case queryir.SeqRange:
		return c.compileSeqRange(pred)
	case *queryir.SeqRange:
		return c.compileSeqRange(*pred)
	case queryir.Contains:
		return c.compileContains(pred)
	case *queryir.Contains:
		return c.compileContains(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileEquals(eq queryir.Equals) (string, []any, error) {
	param, err := irValueToParam(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("convert value: %w", err)
	}
	return eq.Field + " = ?", []any{param}, nil
}

func (c *SQLCompiler) compileBoundEquals(beq queryir.BoundEquals) (string, []any, error) {
	val, ok := c.BoundValues[beq.BoundVar]
	if !ok {
		return "", nil, fmt.Errorf("no value bound for %q", beq.BoundVar)
	}
	return beq.Field + " = ?", []any{val}, nil
}

func (c *SQLCompiler) compileAnd(and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	var sqlParts []string
	var allParams []any
	for _, pred := range and.Predicates {
		sql, params, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		if _, nested := pred.(queryir.And); nested {
			sql = "(" + sql + ")"
		}
		sqlParts = append(sqlParts, sql)
		allParams = append(allParams, params...)
	}

	return strings.Join(sqlParts, " AND "), allParams, nil
}

func (c *SQLCompiler) compileSeqRange(r queryir.SeqRange) (string, []any, error) {
	switch {
	case r.From > 0 && r.To > 0:
		return "seq BETWEEN ? AND ?", []any{r.From, r.To}, nil
	case r.From > 0:
		return "seq >= ?", []any{r.From}, nil
	case r.To > 0:
		return "seq <= ?", []any{r.To}, nil
	default:
		return "1 = 1", nil, nil
	}
}

// compileContains searches a JSON array column with SQLite's json_each.
func (c *SQLCompiler) compileContains(ct queryir.Contains) (string, []any, error) {
	sql := fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value = ?)", ct.Field)
	return sql, []any{ct.Value}, nil
}

// irValueToParam converts a scalar ir.IRValue to a SQL parameter.
func irValueToParam(v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case ir.IRString:
		return string(val), nil
	case ir.IRInt:
		return int64(val), nil
	case ir.IRBool:
		return bool(val), nil
	case ir.IRArray:
		return nil, fmt.Errorf("IRArray cannot be used as SQL parameter directly")
	case ir.IRObject:
		return nil, fmt.Errorf("IRObject cannot be used as SQL parameter directly")
	default:
		return nil, fmt.Errorf("unsupported IRValue type for SQL parameter: %T", v)
	}
}
