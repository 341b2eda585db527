package middleware

import (
	"fmt"
	"net/http"

	"github.com/platinummonkey/adminboard/pkg/audit"
	"github.com/platinummonkey/adminboard/pkg/auth"
	"github.com/platinummonkey/adminboard/pkg/httputil"
)

// SessionResolver builds the caller's session from a request. See TokenResolver.
type SessionResolver interface {
	Resolve(r *http.Request) *auth.Session
}

// TokenResolver adapts a token based resolver. Server-sent event clients
// cannot set headers, so access_token in the query is accepted as well.
type TokenResolver struct {
	Resolver *auth.Resolver
}

func (t TokenResolver) Resolve(r *http.Request) *auth.Session {
	token := httputil.BearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	return t.Resolver.Resolve(r.Context(), token)
}

// Authenticate resolves the caller's session and stores it in the request
// context. Anonymous requests continue with an unauthenticated session.
func Authenticate(resolver SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := resolver.Resolve(r)
			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), session)))
		})
	}
}

// RequireAuthenticated rejects anonymous callers with 401
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.FromContext(r.Context()).IsAuthenticated {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission allows callers whose session grants code
func RequirePermission(code string) func(http.Handler) http.Handler {
	return gate(fmt.Sprintf("missing permission: %s", code), func(s *auth.Session) bool {
		return s.HasPermission(code)
	})
}

// RequireMinimumLevel allows callers whose role level is at least level
func RequireMinimumLevel(level int) func(http.Handler) http.Handler {
	return gate(fmt.Sprintf("role level %d required", level), func(s *auth.Session) bool {
		return s.HasMinimumLevel(level)
	})
}

// RequireRole allows callers holding one of roles
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return gate(fmt.Sprintf("one of roles %v required", roles), func(s *auth.Session) bool {
		return s.HasRole(roles...)
	})
}

func gate(reason string, allowed func(*auth.Session) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := auth.FromContext(r.Context())
			if !session.IsAuthenticated {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if !allowed(session) {
				audit.Record(r.Context(), audit.FromContext(r.Context()), audit.Event{
					EventType:    audit.EventTypeAccessDenied,
					Status:       audit.StatusDenied,
					Actor:        audit.Actor{UID: session.UID(), Role: session.Role},
					ResourceType: audit.ResourceRoute,
					ResourceID:   r.Method + " " + r.URL.Path,
					Message:      reason,
				})
				httputil.WriteForbidden(w, reason)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
