// Package auth turns a bearer token into a resolved Session.
//
// # Overview
//
// A request carries an identity token issued by the external auth provider.
// The Resolver verifies it (HMAC shared secret or an OIDC issuer), loads the
// user's profile document and resolves the effective role:
//
//	token claim role -> profile role -> "user"
//
// A role that is not present in the role registry falls back to "user". The
// session's permissions are the role's permissions plus the profile's
// customPermissions.
//
//	resolver := auth.NewResolver(auth.ResolverOptions{
//		Verifier: auth.NewHMACVerifier(secret, "", "", "role"),
//		Roles:    registry,
//		Profiles: auth.NewCachedProfileSource(users, 1024, 30*time.Second),
//	})
//	session := resolver.Resolve(ctx, httputil.BearerToken(r))
//	if session.HasPermission("manage_board") {
//		// ...
//	}
//
// A missing or invalid token yields an unauthenticated session, never an
// error. Handlers read the session with FromContext.
//
// # Identity
//
// Callers are identified by a single Identity{UID}. Legacy payloads that
// carry userId, uid or id are decoded once with IdentityFromFields.
//
// # Related Packages
//
//   - pkg/rbac: role registry implementing RoleSource
//   - pkg/middleware: Authenticate and Require* HTTP gates
//   - pkg/users: profile documents implementing ProfileSource
//   - pkg/claims: stored custom claims implementing ClaimsSource
package auth
