// Package sinks contains Sink implementations for progress events.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/pulsemetrics/localpulse/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or when a metrics backend is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.ByteString("run_id", evt.RunID[:]),
			zap.ByteString("location_id", evt.LocationID[:]),
			zap.String("stage", string(evt.Stage)),
			zap.String("kind", evt.Kind),
			zap.Int64("rows", evt.Rows),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		}
		s.logger.Info("sync progress", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
