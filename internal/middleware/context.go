package middleware

import (
	"context"

	"chat_gateway/internal/auth"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// IdentityKey holds the authenticated *auth.Identity
	IdentityKey ContextKey = "identity"

	// RequestIDKey holds the request ID string
	RequestIDKey ContextKey = "requestID"

	// requestInfoKey holds the *requestInfo shared with the access log
	requestInfoKey ContextKey = "requestInfo"
)

// requestInfo lets inner middleware report details to the access log,
// which wraps them and cannot see their contexts.
type requestInfo struct {
	userID string
}

// WithIdentity returns a context carrying id
func WithIdentity(ctx context.Context, id *auth.Identity) context.Context {
	if info, ok := ctx.Value(requestInfoKey).(*requestInfo); ok {
		info.userID = id.UserID.String()
	}
	return context.WithValue(ctx, IdentityKey, id)
}

// GetIdentity retrieves the authenticated identity from the request context
func GetIdentity(ctx context.Context) (*auth.Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(*auth.Identity)
	return id, ok && id != nil
}

// GetRequestID retrieves the request ID from the request context
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
