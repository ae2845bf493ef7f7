package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Observer bundles the tracer and audit logger shared by the services.
type Observer struct {
	logger *zap.Logger
	tracer trace.Tracer
}

// NewObserver creates an observer whose spans are attributed to scope.
func NewObserver(logger *zap.Logger, scope string) Observer {
	return Observer{logger: logger, tracer: otel.Tracer(scope)}
}

// StartSpan starts a span when tracing is configured.
func (o Observer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if o.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return o.tracer.Start(ctx, name)
}

// Audit emits a structured audit event. attrs are key/value pairs.
func (o Observer) Audit(event string, attrs ...any) {
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	o.Log().Info("audit", fields...)
}

// Log returns the service logger, or the global one.
func (o Observer) Log() *zap.Logger {
	if o.logger != nil {
		return o.logger
	}
	return zap.L()
}
