package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/uwyo-soundings/internal/progress"
)

// LogSink emits one debug log line per progress event.
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
			zap.String("run_id", evt.RunID.String()),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		switch evt.Stage {
		case progress.StageFetchDone, progress.StageFetchError:
			fields = append(fields,
				zap.String("station", evt.StationID),
				zap.String("date", evt.Date.Format("2006-01-02")),
				zap.String("hour", evt.Hour),
				zap.Int64("bytes", evt.Bytes),
			)
		case progress.StageRunDone:
			fields = append(fields, zap.Int("succeeded", evt.Succeeded), zap.Int("failed", evt.Failed))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
