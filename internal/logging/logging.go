// Package logging builds the structured loggers used across cct.
package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/scbrown/transcripts/internal/model"
)

// Format selects the handler.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configures New.
type Options struct {
	Format  Format
	Verbose bool // Debug level instead of Info.
}

// Logger is a structured logger with cct-specific helpers.
type Logger struct {
	*slog.Logger
}

// New returns a logger writing to w with a component attribute.
func New(w io.Writer, component string, opts Options) (*Logger, error) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch opts.Format {
	case FormatText, "":
		h = slog.NewTextHandler(w, hopts)
	case FormatJSON:
		h = slog.NewJSONHandler(w, hopts)
	default:
		return nil, fmt.Errorf("unknown log format %q (valid: text, json)", opts.Format)
	}
	return &Logger{Logger: slog.New(h).With(slog.String("component", component))}, nil
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithComponent returns a logger for a sub-component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("component", component))}
}

// WithSession returns a logger with session-specific fields.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("session_id", sessionID))}
}

// WithRun returns a logger tagged with a batch run ID.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("run_id", runID))}
}

// Anomalies logs each absorbed anomaly at warn level.
func (l *Logger) Anomalies(anomalies []model.Anomaly) {
	for _, a := range anomalies {
		attrs := []any{slog.String("kind", string(a.Kind)), slog.String("detail", a.Detail)}
		if a.Line > 0 {
			attrs = append(attrs, slog.Int("line", a.Line))
		}
		if a.ToolUseID != "" {
			attrs = append(attrs, slog.String("tool_use_id", a.ToolUseID))
		}
		if a.Kind != model.AnomalyMalformedInput {
			attrs = append(attrs, slog.Int("turn", a.Turn))
		}
		l.Warn("anomaly", attrs...)
	}
}

// SessionFailed logs a per-session failure that did not stop the batch.
func (l *Logger) SessionFailed(sessionID string, err error) {
	l.Error("session failed",
		slog.String("session_id", sessionID),
		slog.String("error", err.Error()),
	)
}
