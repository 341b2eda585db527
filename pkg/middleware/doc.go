// Package middleware provides HTTP middleware for session resolution,
// permission gating and rate limiting.
//
// Authenticate resolves the bearer token of every request into an
// auth.Session. The Require* gates are the server-side form of the
// dashboard's permission-gating components: where the UI would hide or
// redirect, the gate answers 401 (no session) or 403 (insufficient role).
//
//	api := router.PathPrefix("/api").Subrouter()
//	api.Use(middleware.Authenticate(resolver))
//	board := api.PathPrefix("/board").Subrouter()
//	board.Use(middleware.RequirePermission("manage_board"))
//
// Denials are written to the audit logger found in the request context.
//
// RateLimit throttles callers by uid, or by client address when anonymous,
// using an in-process token bucket or a Redis counter shared by all
// instances. Redis errors fail open.
package middleware
