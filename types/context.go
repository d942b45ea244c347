package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTrackID contextKey = "track_id"
	keyCaller  contextKey = "caller"
)

// WithTrackID adds the fallback track ID to context.
func WithTrackID(ctx context.Context, trackID string) context.Context {
	return context.WithValue(ctx, keyTrackID, trackID)
}

// TrackID extracts track ID from context.
func TrackID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTrackID).(string)
	return v, ok && v != ""
}

// WithCaller 记录发起调用的业务功能名。
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, keyCaller, caller)
}

// Caller extracts caller from context.
func Caller(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyCaller).(string)
	return v, ok && v != ""
}
