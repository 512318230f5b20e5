package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowledger/internal/engine"
	"github.com/roach88/flowledger/internal/ir"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"trace", LevelTrace},
		{"TRACE", LevelTrace},
		{"debug", slog.LevelDebug},
		{"Debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{" error ", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestValidLevel(t *testing.T) {
	assert.True(t, ValidLevel(""))
	assert.True(t, ValidLevel("TRACE"))
	assert.True(t, ValidLevel("warn"))
	assert.False(t, ValidLevel("verbose"))
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
	}{
		{"error", false, false},
		{"info", false, true},
		{"debug", true, true},
		{"trace", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf)

			logger.Debug("debug message")
			logger.Info("info message")
			assert.Equal(t, tt.wantDebug, strings.Contains(buf.String(), "debug message"))
			assert.Equal(t, tt.wantInfo, strings.Contains(buf.String(), "info message"))
		})
	}
}

func TestNewLogger_TraceLabel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("trace", &buf)
	logger.Log(t.Context(), LevelTrace, "trace message")

	assert.Contains(t, buf.String(), "level=TRACE")
	assert.Contains(t, buf.String(), "trace message")
}

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger("trace", &buf)
	logger.Log(t.Context(), LevelTrace, "hello", "node_id", "A")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "TRACE", rec["level"])
	assert.Equal(t, "A", rec["node_id"])
}

func TestStepTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewStepTracer(NewLogger("trace", &buf))

	tracer.StepCompleted(engine.StepInfo{
		Step:       3,
		EventID:    "evt-000003",
		EventType:  ir.EventTokenArrival,
		NodeID:     "B",
		Activities: 2,
		Err:        errors.New("boom"),
	})

	out := buf.String()
	assert.Contains(t, out, "level=TRACE")
	assert.Contains(t, out, "step=3")
	assert.Contains(t, out, "node_id=B")
	assert.Contains(t, out, "error=boom")
}

func TestStepTracer_SilentAboveTrace(t *testing.T) {
	var buf bytes.Buffer
	NewStepTracer(NewLogger("debug", &buf)).StepCompleted(engine.StepInfo{Step: 1})
	assert.Empty(t, buf.String())

	var nilTracer *StepTracer
	assert.NotPanics(t, func() { nilTracer.StepCompleted(engine.StepInfo{}) })
}

func TestObservers_FanOut(t *testing.T) {
	var got []int64
	record := engine.ObserverFunc(func(info engine.StepInfo) { got = append(got, info.Step) })

	Observers{record, nil, record}.StepCompleted(engine.StepInfo{Step: 7})
	assert.Equal(t, []int64{7, 7}, got)
}
