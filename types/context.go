package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyRequestID   contextKey = "request_id"
	keyFingerprint contextKey = "fingerprint"
)

// WithRequestID adds the HTTP request ID to context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID extracts the HTTP request ID from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}

// WithFingerprint adds the script fingerprint being processed to context.
func WithFingerprint(ctx context.Context, fp string) context.Context {
	return context.WithValue(ctx, keyFingerprint, fp)
}

// Fingerprint extracts the script fingerprint from context.
func Fingerprint(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyFingerprint).(string)
	return v, ok && v != ""
}
