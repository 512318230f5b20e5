package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowledger/internal/ir"
)

func ints(ns ...int64) []ir.IRValue {
	out := make([]ir.IRValue, len(ns))
	for i, n := range ns {
		out[i] = ir.IRInt(n)
	}
	return out
}

func TestReduceBuiltins(t *testing.T) {
	ev := NewEvaluator(0)
	values := ints(3, 9, 4)

	tests := []struct {
		method string
		want   ir.IRValue
	}{
		{"", ir.IRInt(16)},
		{"sum", ir.IRInt(16)},
		{"SUM", ir.IRInt(16)},
		{"count", ir.IRInt(3)},
		{"first", ir.IRInt(3)},
		{"earliest", ir.IRInt(3)},
		{"last", ir.IRInt(4)},
		{"latest", ir.IRInt(4)},
		{"min", ir.IRInt(3)},
		{"max", ir.IRInt(9)},
		{"average", ir.IRFloat(16.0 / 3.0)},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got, err := ev.Reduce(tt.method, values)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReduceMixedNumbers(t *testing.T) {
	ev := NewEvaluator(0)
	values := []ir.IRValue{ir.IRInt(1), ir.IRFloat(0.5)}

	got, err := ev.Reduce("sum", values)
	require.NoError(t, err)
	assert.Equal(t, ir.IRFloat(1.5), got)

	got, err = ev.Reduce("min", values)
	require.NoError(t, err)
	assert.Equal(t, ir.IRFloat(0.5), got)
}

func TestReduceEmpty(t *testing.T) {
	ev := NewEvaluator(0)

	got, err := ev.Reduce("sum", nil)
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(0), got)

	got, err = ev.Reduce("count", nil)
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(0), got)

	for _, m := range []string{"average", "first", "last", "min", "max"} {
		got, err = ev.Reduce(m, nil)
		require.NoError(t, err)
		assert.Equal(t, ir.IRNull{}, got, m)
	}
}

func TestReduceNonNumeric(t *testing.T) {
	ev := NewEvaluator(0)
	values := []ir.IRValue{ir.IRInt(1), ir.IRString("x")}

	for _, m := range []string{"sum", "average", "min", "max"} {
		_, err := ev.Reduce(m, values)
		assert.Error(t, err, m)
	}

	got, err := ev.Reduce("count", values)
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(2), got)
}

func TestReduceCustomExpression(t *testing.T) {
	ev := NewEvaluator(0)

	got, err := ev.Reduce("sum(values) * 10", ints(1, 2))
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(30), got)

	got, err = ev.Reduce("count > 1 ? values[1] : 0", ints(5, 6))
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(6), got)

	got, err = ev.Reduce("values[0]", ints(5, 6))
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(5), got)

	got, err = ev.Reduce("sum(values) / count", ints(5, 6))
	require.NoError(t, err)
	assert.Equal(t, ir.IRFloat(5.5), got)

	got, err = ev.Reduce("max(values) - min(values)", ints(5, 9, 6))
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(4), got)

	_, err = ev.Reduce("values[", ints(1))
	assert.Error(t, err)
}

func TestIsReducer(t *testing.T) {
	assert.True(t, IsReducer("sum"))
	assert.True(t, IsReducer(" Average "))
	assert.False(t, IsReducer("sum(values)"))
}
