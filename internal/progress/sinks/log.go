package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/progress"
)

// LogSink emits structured logs for debugging event streams. It is useful
// during development when no broker is configured.
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
func (s *LogSink) Consume(_ context.Context, batch progress.Batch) error {
	logger := s.logger.With(zap.String("crawl_id", batch.CrawlID), zap.String("topic", batch.Topic))
	for _, evt := range batch.Events {
		fields := []zap.Field{
			zap.String("type", evt.Type),
			zap.Time("at", evt.At),
		}
		if evt.PageID != "" {
			fields = append(fields, zap.String("page_id", evt.PageID))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Status != "" {
			fields = append(fields, zap.String("status", evt.Status))
		}
		if evt.Span.HasTraceID() {
			fields = append(fields, zap.String("trace_id", evt.Span.TraceID().String()))
		}
		logger.Info("crawl event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
