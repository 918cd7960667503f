package worker

import (
	"context"
	"errors"

	"github.com/roach88/simrun/internal/record"
)

// Sink persists one iteration's batch. WriteIteration is called at most once
// per iteration, after the engine exited, and must be safe for concurrent use.
type Sink interface {
	WriteIteration(ctx context.Context, batch record.Batch) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, batch record.Batch) error

// WriteIteration implements Sink.
func (f SinkFunc) WriteIteration(ctx context.Context, batch record.Batch) error {
	return f(ctx, batch)
}

// MultiSink writes a batch to every sink in order. All sinks are attempted;
// the errors are joined.
type MultiSink []Sink

// WriteIteration implements Sink.
func (m MultiSink) WriteIteration(ctx context.Context, batch record.Batch) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteIteration(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard is a Sink that drops every batch.
var Discard Sink = SinkFunc(func(context.Context, record.Batch) error { return nil })
