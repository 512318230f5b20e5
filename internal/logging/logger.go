// Package logging builds the leveled slog loggers used by flowledger.
//
// The engine logs lifecycle at Info, per-event detail at Debug, recovered
// errors at Warn and aborted steps at Error. Trace sits below Debug and adds
// one record per engine step through StepTracer.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/flowledger/internal/engine"
)

// LevelTrace is a custom slog level below Debug for per-step tracing.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "trace", "debug", "info", "warn", "error"
// (case-insensitive). Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether s names a known level. Empty means default.
func ValidLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// NewLogger creates a leveled text slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, handlerOptions(level)))
}

// NewJSONLogger creates a leveled JSON slog.Logger writing to w.
func NewJSONLogger(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, handlerOptions(level)))
}

func handlerOptions(level string) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Label the custom trace level
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
}

// StepTracer is an engine.Observer that logs every step at TRACE level.
// A nil logger makes it a no-op.
type StepTracer struct {
	logger *slog.Logger
}

// NewStepTracer returns a tracer writing to logger.
func NewStepTracer(logger *slog.Logger) *StepTracer {
	return &StepTracer{logger: logger}
}

// StepCompleted implements engine.Observer.
func (t *StepTracer) StepCompleted(info engine.StepInfo) {
	if t == nil || t.logger == nil {
		return
	}
	ctx := context.Background()
	if !t.logger.Enabled(ctx, LevelTrace) {
		return
	}

	attrs := []slog.Attr{
		slog.Int64("step", info.Step),
		slog.String("event_id", info.EventID),
		slog.String("event_type", string(info.EventType)),
		slog.String("node_id", info.NodeID),
		slog.Int64("timestamp", info.Timestamp),
		slog.Int("activities", info.Activities),
		slog.Int("enqueued", info.Enqueued),
	}
	if info.Skipped {
		attrs = append(attrs, slog.Bool("skipped", true))
	}
	if info.Err != nil {
		attrs = append(attrs, slog.String("error", info.Err.Error()))
	}
	t.logger.LogAttrs(ctx, LevelTrace, "step", attrs...)
}

// Observers fans a step out to several observers in order. Nil entries are
// ignored.
type Observers []engine.Observer

// StepCompleted implements engine.Observer.
func (o Observers) StepCompleted(info engine.StepInfo) {
	for _, obs := range o {
		if obs != nil {
			obs.StepCompleted(info)
		}
	}
}
