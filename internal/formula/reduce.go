package formula

import (
	"fmt"
	"strings"

	"github.com/roach88/flowledger/internal/ir"
)

// Reducer names accepted by Queue and Sink aggregation.
const (
	ReduceSum      = "sum"
	ReduceAverage  = "average"
	ReduceCount    = "count"
	ReduceFirst    = "first"
	ReduceLast     = "last"
	ReduceMin      = "min"
	ReduceMax      = "max"
	ReduceLatest   = "latest"
	ReduceEarliest = "earliest"
)

var reducers = map[string]bool{
	ReduceSum:      true,
	ReduceAverage:  true,
	ReduceCount:    true,
	ReduceFirst:    true,
	ReduceLast:     true,
	ReduceMin:      true,
	ReduceMax:      true,
	ReduceLatest:   true,
	ReduceEarliest: true,
}

// AggregateVars are the variables a custom aggregation expression sees.
var AggregateVars = []string{"values", "count"}

// IsReducer reports whether method names a built-in reducer rather than an
// expression.
func IsReducer(method string) bool {
	return reducers[strings.ToLower(strings.TrimSpace(method))]
}

// Reduce folds values with the named reducer. Any other method is run as an
// expression with `values` (a list) and `count` in scope.
// An empty method means sum.
//
// Numeric reducers keep integers as integers where the result is exact:
// sum, min and max of all-integer input yield an integer, average always
// yields a float.
func (e *Evaluator) Reduce(method string, values []ir.IRValue) (ir.IRValue, error) {
	m := strings.ToLower(strings.TrimSpace(method))
	if m == "" {
		m = ReduceSum
	}

	switch m {
	case ReduceCount:
		return ir.IRInt(len(values)), nil
	case ReduceFirst, ReduceEarliest:
		if len(values) == 0 {
			return ir.IRNull{}, nil
		}
		return values[0], nil
	case ReduceLast, ReduceLatest:
		if len(values) == 0 {
			return ir.IRNull{}, nil
		}
		return values[len(values)-1], nil
	case ReduceSum:
		return sum(values)
	case ReduceAverage:
		if len(values) == 0 {
			return ir.IRNull{}, nil
		}
		total, err := sum(values)
		if err != nil {
			return nil, err
		}
		f, _ := ir.AsFloat(total)
		return ir.IRFloat(f / float64(len(values))), nil
	case ReduceMin:
		return extreme(values, func(a, b float64) bool { return a < b })
	case ReduceMax:
		return extreme(values, func(a, b float64) bool { return a > b })
	}

	env := map[string]any{
		"values": toGoSlice(values),
		"count":  len(values),
	}
	return e.EvalValue(method, env)
}

func sum(values []ir.IRValue) (ir.IRValue, error) {
	var ints int64
	var floats float64
	allInts := true
	for i, v := range values {
		switch n := v.(type) {
		case ir.IRInt:
			ints += int64(n)
		case ir.IRFloat:
			allInts = false
			floats += float64(n)
		default:
			return nil, fmt.Errorf("sum: value %d is not numeric (%T)", i, v)
		}
	}
	if allInts {
		return ir.IRInt(ints), nil
	}
	return ir.IRFloat(float64(ints) + floats), nil
}

func extreme(values []ir.IRValue, better func(a, b float64) bool) (ir.IRValue, error) {
	if len(values) == 0 {
		return ir.IRNull{}, nil
	}
	var best ir.IRValue
	var bestF float64
	for i, v := range values {
		f, ok := ir.AsFloat(v)
		if !ok {
			return nil, fmt.Errorf("value %d is not numeric (%T)", i, v)
		}
		if best == nil || better(f, bestF) {
			best, bestF = v, f
		}
	}
	return best, nil
}

func toGoSlice(values []ir.IRValue) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = ir.ToGo(v)
	}
	return out
}
