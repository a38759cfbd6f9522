package services

import "context"

type contextKey string

const (
	callUIDContextKey   contextKey = "callpipe.call_uid"
	stageContextKey     contextKey = "callpipe.stage"
	requestIDContextKey contextKey = "callpipe.request_id"
)

// WithCallUID attaches a call identifier to the context for logging.
func WithCallUID(ctx context.Context, callUID string) context.Context {
	if callUID == "" {
		return ctx
	}
	return context.WithValue(ctx, callUIDContextKey, callUID)
}

// CallUIDFromContext extracts the call identifier, if present.
func CallUIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	uid, ok := ctx.Value(callUIDContextKey).(string)
	return uid, ok && uid != ""
}

// WithStage attaches a pipeline stage name to the context for logging.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageContextKey, stage)
}

// StageFromContext extracts the pipeline stage name, if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	stage, ok := ctx.Value(stageContextKey).(string)
	return stage, ok && stage != ""
}

// WithRequestID attaches a correlation identifier to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey, id)
}

// RequestIDFromContext extracts the correlation identifier, if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(requestIDContextKey).(string)
	return id, ok && id != ""
}
