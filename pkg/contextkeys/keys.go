// Package contextkeys holds the request-scoped context keys shared by the
// HTTP middleware and the packages that read what it stores. The typed
// accessors live next to their types (auth.FromContext,
// observability.FromContext, audit.FromContext); this package only avoids
// import cycles between them.
package contextkeys

import "context"

type key int

const (
	// SessionKey holds *auth.Session, set by middleware.Authenticate
	SessionKey key = iota
	// RequestIDKey holds the X-Request-ID value
	RequestIDKey
	// UserIDKey holds the caller uid once a token verified
	UserIDKey
	// LoggerKey holds the request *observability.Logger
	LoggerKey
	// AuditLoggerKey holds the request audit.Logger
	AuditLoggerKey
)

func WithSession(ctx context.Context, s interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, s)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, UserIDKey, uid)
}

func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

func WithAuditLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, AuditLoggerKey, logger)
}

// GetRequestID returns "" outside a request
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// GetUserID returns "" for anonymous callers
func GetUserID(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}
