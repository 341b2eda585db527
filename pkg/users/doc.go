// Package users manages user profile documents.
//
// Profiles live in the users collection keyed by the auth provider uid. The
// role fields on a profile (role, roleLevel, permissions) are copies taken
// from the role registry when the role is assigned; they are refreshed on
// every assignment and never recomputed on read.
//
// Service implements auth.ProfileSource so the session resolver reads
// profiles through it.
//
// Deleting a user removes the avatars/{uid} and covers/{uid} blob folders
// and the profile document. The auth provider account cannot be removed
// from here and is reported as retained.
package users
