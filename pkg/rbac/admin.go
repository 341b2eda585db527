package rbac

import (
	"context"
	"fmt"
	"slices"

	"github.com/platinummonkey/adminboard/pkg/audit"
	"github.com/platinummonkey/adminboard/pkg/auth"
	"github.com/platinummonkey/adminboard/pkg/observability"
)

// Admin performs role administration on behalf of a super_admin caller
type Admin struct {
	registry *Registry
	store    RoleStore
	audit    audit.Logger
	logger   *observability.Logger
}

// NewAdmin creates a role administrator. store and auditLogger may be nil.
func NewAdmin(registry *Registry, store RoleStore, auditLogger audit.Logger, logger *observability.Logger) *Admin {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	a := &Admin{
		registry: registry,
		store:    store,
		audit:    auditLogger,
		logger:   logger.WithField("component", "rbac"),
	}
	if store == nil {
		a.logger.Warn("no role store configured; role changes are kept in memory and lost on restart")
	}
	return a
}

// Registry returns the administered registry
func (a *Admin) Registry() *Registry {
	return a.registry
}

func (a *Admin) authorize(ctx context.Context, caller *auth.Session, action string, roleID string) error {
	if caller != nil && caller.IsAuthenticated && caller.Role == RoleSuperAdmin {
		return nil
	}
	a.record(ctx, caller, audit.EventTypeAccessDenied, audit.StatusDenied, roleID,
		fmt.Sprintf("%s requires super_admin", action), nil)
	return ErrForbidden
}

func (a *Admin) record(ctx context.Context, caller *auth.Session, et audit.EventType, status audit.EventStatus, roleID, msg string, details map[string]interface{}) {
	actor := audit.Actor{}
	if caller != nil {
		actor = audit.Actor{UID: caller.UID(), Role: caller.Role}
	}
	audit.Record(ctx, a.audit, audit.Event{
		EventType:    et,
		Status:       status,
		Actor:        actor,
		ResourceType: audit.ResourceRole,
		ResourceID:   roleID,
		Message:      msg,
		Details:      details,
	})
}

// CreateRole adds a new role. It fails with ErrRoleExists if the id is
// taken.
func (a *Admin) CreateRole(ctx context.Context, caller *auth.Session, role Role) (Role, error) {
	if err := a.authorize(ctx, caller, "create role", role.ID); err != nil {
		return Role{}, err
	}
	if err := role.Validate(); err != nil {
		return Role{}, err
	}
	if _, exists := a.registry.Get(role.ID); exists {
		return Role{}, fmt.Errorf("%w: %s", ErrRoleExists, role.ID)
	}
	if role.Name == "" {
		role.Name = role.ID
	}
	if role.Label == "" {
		role.Label = role.Name
	}
	role.Permissions = normalizePermissions(role.Permissions)

	if a.store != nil {
		if err := a.store.UpsertRole(ctx, role); err != nil {
			return Role{}, err
		}
	}
	a.registry.put(role)
	a.record(ctx, caller, audit.EventTypeRoleCreate, audit.StatusSuccess, role.ID, "role created",
		map[string]interface{}{"level": role.Level, "permissions": role.Permissions})
	return role, nil
}

// UpdateRolePermissions replaces a role's permission set. super_admin's set
// can never be edited.
func (a *Admin) UpdateRolePermissions(ctx context.Context, caller *auth.Session, roleID string, permissions []string) (Role, error) {
	if err := a.authorize(ctx, caller, "update role permissions", roleID); err != nil {
		return Role{}, err
	}
	if roleID == RoleSuperAdmin {
		return Role{}, fmt.Errorf("%w: permissions of %s cannot be edited", ErrProtectedRole, roleID)
	}
	role, ok := a.registry.Get(roleID)
	if !ok {
		return Role{}, fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
	}

	before := role.Permissions
	role.Permissions = normalizePermissions(permissions)
	if a.store != nil {
		if err := a.store.UpsertRole(ctx, role); err != nil {
			return Role{}, err
		}
	}
	a.registry.put(role)
	a.record(ctx, caller, audit.EventTypeRoleUpdate, audit.StatusSuccess, roleID, "role permissions updated",
		map[string]interface{}{"before": before, "after": role.Permissions})
	return role, nil
}

// DeleteRole removes a role. super_admin and user can never be deleted.
func (a *Admin) DeleteRole(ctx context.Context, caller *auth.Session, roleID string) error {
	if err := a.authorize(ctx, caller, "delete role", roleID); err != nil {
		return err
	}
	if IsProtected(roleID) {
		return fmt.Errorf("%w: %s cannot be deleted", ErrProtectedRole, roleID)
	}
	if _, ok := a.registry.Get(roleID); !ok {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
	}
	if a.store != nil {
		if err := a.store.DeleteRole(ctx, roleID); err != nil {
			return err
		}
	}
	a.registry.remove(roleID)
	a.record(ctx, caller, audit.EventTypeRoleDelete, audit.StatusSuccess, roleID, "role deleted", nil)
	return nil
}

// CreatePermission always succeeds and changes nothing. Permissions are
// derived from roles.
func (a *Admin) CreatePermission(ctx context.Context, caller *auth.Session, p Permission) error {
	a.logger.WithField("code", p.Code).Debug("createPermission is a no-op")
	return nil
}

// UpdatePermission always succeeds and changes nothing
func (a *Admin) UpdatePermission(ctx context.Context, caller *auth.Session, p Permission) error {
	a.logger.WithField("code", p.Code).Debug("updatePermission is a no-op")
	return nil
}

// Reload replaces the registry with the store's contents. An empty store is
// seeded from the current registry so the first boot persists the seed.
func (a *Admin) Reload(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	roles, err := a.store.ListRoles(ctx)
	if err != nil {
		return err
	}
	if len(roles) == 0 {
		for _, role := range a.registry.List() {
			if err := a.store.UpsertRole(ctx, role); err != nil {
				return fmt.Errorf("failed to seed role store: %w", err)
			}
		}
		a.logger.Infof("seeded role store with %d roles", len(a.registry.List()))
		return nil
	}
	if !hasProtectedRoles(roles) {
		return fmt.Errorf("%w: stored roles are missing super_admin or user", ErrInvalidRole)
	}
	if rolesEqual(roles, a.registry.List()) {
		return nil
	}
	a.registry.Replace(roles)
	a.logger.WithField("version", a.registry.Version()).Info("role registry reloaded")
	audit.Record(ctx, a.audit, audit.Event{
		EventType:    audit.EventTypeRoleReload,
		ResourceType: audit.ResourceRole,
		Message:      "role registry reloaded from store",
		Details:      map[string]interface{}{"roles": len(roles)},
	})
	return nil
}

func hasProtectedRoles(roles []Role) bool {
	var su, user bool
	for _, r := range roles {
		su = su || r.ID == RoleSuperAdmin
		user = user || r.ID == RoleUser
	}
	return su && user
}

func rolesEqual(a, b []Role) bool {
	if len(a) != len(b) {
		return false
	}
	byID := make(map[string]Role, len(b))
	for _, r := range b {
		byID[r.ID] = r
	}
	for _, r := range a {
		o, ok := byID[r.ID]
		if !ok || o.Name != r.Name || o.Label != r.Label || o.Level != r.Level ||
			!slices.Equal(normalizePermissions(o.Permissions), normalizePermissions(r.Permissions)) {
			return false
		}
	}
	return true
}

// normalizePermissions drops blanks and duplicates, keeping first-seen order
func normalizePermissions(perms []string) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if p != "" && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}
