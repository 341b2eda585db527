// Package claims implements the privileged setUserRole function.
//
// An admin, super_admin or dev caller sets another user's role. The role is
// written to the target's custom claims, which the session resolver prefers
// over token claims, and copied onto the user profile.
//
// Failures are reported as one of four kinds:
//
//	unauthenticated     401
//	permission-denied   403
//	invalid-argument    400
//	internal            500
package claims
