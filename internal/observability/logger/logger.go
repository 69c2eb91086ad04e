package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// New builds the process logger. Production gets sampled JSON output,
// everything else gets the development console encoder.
func New(environment string) (*zap.Logger, error) {
	var (
		log *zap.Logger
		err error
	)
	if environment == "production" {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(log)
	return log, nil
}

// FromContext returns the global logger annotated with the active trace
// and span identifiers when a recording span is present.
func FromContext(ctx context.Context) *zap.Logger {
	log := zap.L()
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return log
	}
	return log.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}
