package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type requestCtxKey struct{}
type memoryCtxKey struct{}
type performerCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if id := MemoryIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("memory.id", id))
	}
	if id := PerformerIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("performer.id", id))
	}

	return fields
}

// WithRequestID adds a request ID to ctx. Empty IDs are ignored.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request ID from ctx.
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestCtxKey{}).(string)
	return s
}

// WithMemoryID tags ctx with the memory being processed.
func WithMemoryID(ctx context.Context, memoryID string) context.Context {
	if memoryID == "" {
		return ctx
	}
	return context.WithValue(ctx, memoryCtxKey{}, memoryID)
}

// MemoryIDFromContext extracts the memory ID from ctx.
func MemoryIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(memoryCtxKey{}).(string)
	return s
}

// WithPerformerID tags ctx with the performer a request is scoped to.
func WithPerformerID(ctx context.Context, performerID string) context.Context {
	if performerID == "" {
		return ctx
	}
	return context.WithValue(ctx, performerCtxKey{}, performerID)
}

// PerformerIDFromContext extracts the performer ID from ctx.
func PerformerIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(performerCtxKey{}).(string)
	return s
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger from ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
