package services

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sink is the ingest side of the engine as seen by transport sources
type Sink interface {
	Emit(ctx context.Context, raw any, schema Schema) error
	ReportSourceSuccess(name string)
	ReportSourceFailure(name string, err error)
}

// Source produces raw payloads until its context is cancelled
type Source interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}

// pollLoop calls fetch once immediately and then on every tick. A failed
// fetch is reported and retried on the next tick.
func pollLoop(ctx context.Context, name string, interval time.Duration, logger *zap.Logger, sink Sink, fetch func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Starting poll source",
		zap.String("source", name),
		zap.Duration("interval", interval))

	for {
		if err := fetch(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			sink.ReportSourceFailure(name, err)
		} else {
			sink.ReportSourceSuccess(name)
		}

		select {
		case <-ctx.Done():
			logger.Info("Poll source stopped", zap.String("source", name))
			return nil
		case <-ticker.C:
		}
	}
}
