package util

import (
	"context"
)

type key string

const sessionIDKey = key("session-id")

// WithSessionID returns a context carrying the collector run's session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// GetSessionID returns the session id from ctx if available.
func GetSessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}
