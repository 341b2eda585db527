// Package rbac holds the role registry, the permission evaluator and role
// administration.
//
// # Role Registry
//
// Roles map an id to a label, a numeric level and a permission set. The
// sentinel permission "all" grants everything. The registry is seeded from
// DefaultRoles or a YAML seed file and is safe for concurrent use.
//
//	registry := rbac.NewRegistry(rbac.DefaultRoles())
//	registry.HasRolePermission("editor", "manage_content") // true
//	registry.HasMinimumLevel("editor", 4)                  // false
//	registry.GetRolesByPermission("manage_board")          // [admin dev manager super_admin]
//
// Evaluator functions are total: an unknown role id yields false or an
// empty result, never an error.
//
// # Derived Permissions
//
// Permissions are not stored. Permissions() inverts the role map into
// {code, description, roles} records; the result is memoized and rebuilt on
// every registry change.
//
// # Administration
//
// Admin mutates the registry. Every call requires the caller's resolved role
// to be exactly super_admin. super_admin and user cannot be deleted and the
// super_admin permission set cannot be edited.
//
//	admin := rbac.NewAdmin(registry, rbac.NewSQLStore(db), auditLogger, logger)
//	_, err := admin.CreateRole(ctx, session, rbac.Role{ID: "support", Level: 2})
//
// With a RoleStore configured, mutations are written through and Reload
// re-reads the table. Without one, edits live in memory until restart.
//
// # Seed File
//
//	roles:
//	  - id: support
//	    name: support
//	    label: Support
//	    level: 2
//	    permissions: [view_content, manage_customers]
//
// WatchSeedFile reloads the registry whenever the file is rewritten.
package rbac
