package logger

import "context"

type ctxKeyType struct{}

var ctxKey = ctxKeyType{}

// LogContext carries request-scoped fields that should be attached to every
// log line emitted while handling a given request: which node, nexus, child
// or rebuild job the call is about.
type LogContext struct {
	TraceID   string
	SpanID    string
	NodeID    string
	NexusID   string
	ChildURI  string
	RebuildID string
}

// WithContext attaches lc to ctx.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, ctxKey, lc)
}

// FromContext retrieves the LogContext previously attached with
// WithContext, or nil if none was attached.
func FromContext(ctx context.Context) *LogContext {
	lc, _ := ctx.Value(ctxKey).(*LogContext)
	return lc
}

func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}
	fields := make([]any, 0, 12+len(args))
	if lc.TraceID != "" {
		fields = append(fields, "trace_id", lc.TraceID)
	}
	if lc.SpanID != "" {
		fields = append(fields, "span_id", lc.SpanID)
	}
	if lc.NodeID != "" {
		fields = append(fields, "node_id", lc.NodeID)
	}
	if lc.NexusID != "" {
		fields = append(fields, "nexus_id", lc.NexusID)
	}
	if lc.ChildURI != "" {
		fields = append(fields, "child_uri", lc.ChildURI)
	}
	if lc.RebuildID != "" {
		fields = append(fields, "rebuild_id", lc.RebuildID)
	}
	return append(fields, args...)
}

// DebugCtx logs at debug level, injecting fields from ctx's LogContext.
func DebugCtx(ctx context.Context, msg string, args ...any) {
	get().Debug(msg, appendContextFields(ctx, args)...)
}

// InfoCtx logs at info level, injecting fields from ctx's LogContext.
func InfoCtx(ctx context.Context, msg string, args ...any) {
	get().Info(msg, appendContextFields(ctx, args)...)
}

// WarnCtx logs at warn level, injecting fields from ctx's LogContext.
func WarnCtx(ctx context.Context, msg string, args ...any) {
	get().Warn(msg, appendContextFields(ctx, args)...)
}

// ErrorCtx logs at error level, injecting fields from ctx's LogContext.
func ErrorCtx(ctx context.Context, msg string, args ...any) {
	get().Error(msg, appendContextFields(ctx, args)...)
}
