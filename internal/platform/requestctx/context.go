// Package requestctx carries per-request values that sit below the auth and
// HTTP layers: the scoped logger and the trace being recorded.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type loggerKey struct{}
type traceKey struct{}

var nop = zap.NewNop()

// Trace identifies the Cloud Trace span serving a request.
type Trace struct {
	ID      string
	SpanID  string
	Sampled bool
	Project string
}

// Resource renders the trace in the form Cloud Logging correlates on.
func (t Trace) Resource() string {
	if t.ID == "" || t.Project == "" {
		return ""
	}
	return "projects/" + t.Project + "/traces/" + t.ID
}

// WithLogger scopes logger to ctx. A nil logger is stored as a no-op.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = nop
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the logger scoped to ctx, or a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return nop
	}
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return logger
	}
	return nop
}

// HasLogger reports whether a logger was scoped to ctx.
func HasLogger(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	logger, ok := ctx.Value(loggerKey{}).(*zap.Logger)
	return ok && logger != nop
}

func WithTrace(ctx context.Context, t Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

func TraceFrom(ctx context.Context) (Trace, bool) {
	if ctx == nil {
		return Trace{}, false
	}
	t, ok := ctx.Value(traceKey{}).(Trace)
	return t, ok
}

// TraceID returns the hex trace ID on ctx, or "".
func TraceID(ctx context.Context) string {
	t, _ := TraceFrom(ctx)
	return t.ID
}
