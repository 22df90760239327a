package log

import "context"

type contextKey struct{}

// SetContextLogger stores lg in ctx. A nil logger stores a NoopLogger.
func SetContextLogger(ctx context.Context, lg Logger) context.Context {
	if lg == nil {
		lg = NewNoopLogger()
	}
	return context.WithValue(ctx, contextKey{}, lg)
}

// FromContext returns the logger stored in ctx, or a NoopLogger.
func FromContext(ctx context.Context) Logger {
	if lg, ok := ctx.Value(contextKey{}).(Logger); ok {
		return lg
	}
	return NewNoopLogger()
}

// OrNoop returns lg, or a NoopLogger when lg is nil.
func OrNoop(lg Logger) Logger {
	if lg == nil {
		return NewNoopLogger()
	}
	return lg
}
