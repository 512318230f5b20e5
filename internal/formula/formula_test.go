package formula

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowledger/internal/ir"
)

func TestEvalBool(t *testing.T) {
	ev := NewEvaluator(0)

	tests := []struct {
		name string
		cond string
		env  map[string]any
		want bool
	}{
		{"empty is true", "", nil, true},
		{"whitespace is true", "   ", nil, true},
		{"comparison", "value > 3", map[string]any{"value": 5}, true},
		{"false comparison", "value > 3", map[string]any{"value": 2}, false},
		{"string equality", `state == "idle"`, map[string]any{"state": "idle"}, true},
		{"object field", "amount >= 10 && kind == 'order'", map[string]any{"amount": 10, "kind": "order"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.EvalBool(tt.cond, tt.env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalBoolRejectsNonBool(t *testing.T) {
	ev := NewEvaluator(0)
	_, err := ev.EvalBool("value + 1", map[string]any{"value": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must evaluate to bool")
}

func TestEvalSyntaxError(t *testing.T) {
	ev := NewEvaluator(0)
	_, err := ev.EvalValue("value +* 2", map[string]any{"value": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "value +* 2")
}

func TestEvalValue(t *testing.T) {
	ev := NewEvaluator(0)

	v, err := ev.EvalValue("a + b", map[string]any{"a": 3, "b": 4})
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(7), v)

	v, err = ev.EvalValue("a / 2", map[string]any{"a": 3})
	require.NoError(t, err)
	assert.Equal(t, ir.IRFloat(1.5), v)

	v, err = ev.EvalValue(`{"total": a * 2}`, map[string]any{"a": 3})
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{"total": ir.IRInt(6)}, v)
}

func TestEvalRuntimeError(t *testing.T) {
	ev := NewEvaluator(0)
	_, err := ev.EvalValue("x / 0", map[string]any{"x": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-finite")
}

func TestCompileCachesPrograms(t *testing.T) {
	ev := NewEvaluator(2)

	p1, err := ev.Compile("1 + 1")
	require.NoError(t, err)
	p2, err := ev.Compile("1 + 1")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, 1, ev.Len())

	_, err = ev.Compile("2 + 2")
	require.NoError(t, err)
	_, err = ev.Compile("3 + 3")
	require.NoError(t, err)
	assert.Equal(t, 2, ev.Len(), "cache must not grow past its bound")
}

func TestCompileConcurrent(t *testing.T) {
	ev := NewEvaluator(0)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := ev.EvalValue("x * 2", map[string]any{"x": 21})
			assert.NoError(t, err)
			assert.Equal(t, ir.IRInt(42), v)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ev.Len())
}

func TestCheck(t *testing.T) {
	ev := NewEvaluator(0)
	assert.NoError(t, ev.Check("value > 1"))
	assert.Error(t, ev.Check("value >"))

	assert.Error(t, ev.Check("count > 1"), "count is a builtin unless bound")
	assert.NoError(t, ev.Check("count > 1", "count"))
	assert.NoError(t, ev.Check("sum(values) / count", AggregateVars...))
}

func TestVariablesShadowBuiltins(t *testing.T) {
	ev := NewEvaluator(0)

	ok, err := ev.EvalBool("count >= 2 && len == 'long'", map[string]any{"count": 3, "len": "long"})
	require.NoError(t, err)
	assert.True(t, ok)

	v, err := ev.EvalValue("max * 2", map[string]any{"max": 4})
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(8), v)

	// The builtin stays callable when nothing shadows it.
	v, err = ev.EvalValue("max(a, b)", map[string]any{"a": 4, "b": 7})
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(7), v)
}

func TestCompileCacheKeyIncludesShadowing(t *testing.T) {
	ev := NewEvaluator(0)

	plain, err := ev.Compile("len(x)")
	require.NoError(t, err)
	shadowed, err := ev.Compile("len(x)", "x", "len")
	require.NoError(t, err)
	assert.NotSame(t, plain, shadowed)
	assert.Equal(t, 2, ev.Len())

	// Variables that shadow nothing share the plain program.
	same, err := ev.Compile("len(x)", "x")
	require.NoError(t, err)
	assert.Same(t, plain, same)
}
