package auth

import (
	"context"

	"github.com/platinummonkey/adminboard/pkg/contextkeys"
)

// WithSession stores the resolved session in ctx
func WithSession(ctx context.Context, s *Session) context.Context {
	ctx = contextkeys.WithSession(ctx, s)
	if uid := s.UID(); uid != "" {
		ctx = contextkeys.WithUserID(ctx, uid)
	}
	return ctx
}

// FromContext returns the request session. It never returns nil: a context
// without one yields an unauthenticated session.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(contextkeys.SessionKey).(*Session); ok && s != nil {
		return s
	}
	return Unauthenticated()
}
