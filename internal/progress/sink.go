package progress

import "context"

// Sink consumes per-crawl batches. The hub calls Consume from a single
// goroutine, with ctx bounded by Config.SinkTimeout.
type Sink interface {
	Consume(ctx context.Context, batch Batch) error
	Close(ctx context.Context) error
}

// SinkFunc adapts a function to a Sink with a no-op Close.
type SinkFunc func(ctx context.Context, batch Batch) error

// Consume calls f.
func (f SinkFunc) Consume(ctx context.Context, batch Batch) error {
	return f(ctx, batch)
}

// Close does nothing.
func (SinkFunc) Close(context.Context) error {
	return nil
}
