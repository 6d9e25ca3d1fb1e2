package audit

import (
	"context"

	"github.com/google/uuid"
)

type sessionKey struct{}

// NewSessionID generates a new session ID.
func NewSessionID() string {
	return "sess_" + uuid.New().String()[:12]
}

// WithSessionID attaches a session ID to ctx. An empty id leaves ctx unchanged.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionIDFromContext returns the session ID on ctx, or "" if none.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
