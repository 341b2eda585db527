package rbac

import (
	"slices"
	"sort"
	"sync"

	"github.com/platinummonkey/adminboard/pkg/observability"
)

// Registry is the process-wide role map
type Registry struct {
	mu      sync.RWMutex
	roles   map[string]Role
	derived []Permission
	version int64
	metrics *observability.Metrics
}

// NewRegistry creates a registry seeded with roles
func NewRegistry(roles []Role) *Registry {
	r := &Registry{}
	r.Replace(roles)
	return r
}

// SetMetrics enables permission-check and version metrics
func (r *Registry) SetMetrics(m *observability.Metrics) {
	r.mu.Lock()
	r.metrics = m
	r.mu.Unlock()
	if m != nil {
		m.RoleRegistryVersion.Set(float64(r.Version()))
	}
}

// Replace swaps the whole role set, as on reload
func (r *Registry) Replace(roles []Role) {
	next := make(map[string]Role, len(roles))
	for _, role := range roles {
		next[role.ID] = cloneRole(role)
	}
	r.mu.Lock()
	r.roles = next
	r.changedLocked()
	r.mu.Unlock()
}

func (r *Registry) put(role Role) {
	r.mu.Lock()
	r.roles[role.ID] = cloneRole(role)
	r.changedLocked()
	r.mu.Unlock()
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.roles, id)
	r.changedLocked()
	r.mu.Unlock()
}

func (r *Registry) changedLocked() {
	r.derived = DerivePermissions(r.listLocked())
	r.version++
	if r.metrics != nil {
		r.metrics.RoleRegistryVersion.Set(float64(r.version))
	}
}

// Version increases on every change
func (r *Registry) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Get returns a copy of the role
func (r *Registry) Get(id string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[id]
	if !ok {
		return Role{}, false
	}
	return cloneRole(role), true
}

// Lookup implements auth.RoleSource
func (r *Registry) Lookup(id string) (int, []string, bool) {
	role, ok := r.Get(id)
	if !ok {
		return 0, nil, false
	}
	return role.Level, role.Permissions, true
}

// List returns roles ordered by level, highest first, then id
func (r *Registry) List() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []Role {
	out := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, cloneRole(role))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Permissions returns the memoized derived permissions
func (r *Registry) Permissions() []Permission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Permission, len(r.derived))
	for i, p := range r.derived {
		out[i] = Permission{Code: p.Code, Description: p.Description, Roles: slices.Clone(p.Roles)}
	}
	return out
}

// HasRolePermission reports whether role grants permission directly or via
// "all". Unknown roles grant nothing.
func (r *Registry) HasRolePermission(roleID, permission string) bool {
	role, ok := r.Get(roleID)
	allowed := ok && grants(role.Permissions, permission)

	r.mu.RLock()
	m := r.metrics
	r.mu.RUnlock()
	if m != nil {
		result := "denied"
		if allowed {
			result = "allowed"
		}
		m.PermissionChecksTotal.WithLabelValues(permission, result).Inc()
	}
	return allowed
}

// HasMinimumLevel reports whether role.level >= required
func (r *Registry) HasMinimumLevel(roleID string, required int) bool {
	role, ok := r.Get(roleID)
	return ok && role.Level >= required
}

// HasAnyRole reports whether roleID is one of roles and known
func (r *Registry) HasAnyRole(roleID string, roles ...string) bool {
	if _, ok := r.Get(roleID); !ok {
		return false
	}
	return slices.Contains(roles, roleID)
}

// IsAtLeast reports whether roleID's level is >= other's level
func (r *Registry) IsAtLeast(roleID, other string) bool {
	a, ok := r.Get(roleID)
	if !ok {
		return false
	}
	b, ok := r.Get(other)
	if !ok {
		return false
	}
	return a.Level >= b.Level
}

// GetRolesByPermission returns ids of roles declaring code or "all"
func (r *Registry) GetRolesByPermission(code string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, role := range r.roles {
		if grants(role.Permissions, code) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// GetPermissionsByRole returns the role's declared permissions
func (r *Registry) GetPermissionsByRole(roleID string) []string {
	role, ok := r.Get(roleID)
	if !ok {
		return nil
	}
	return role.Permissions
}

// ExecuteWithPermission runs action when roleID grants permission. Otherwise
// it calls denied (when set) and returns ErrPermissionDenied.
func (r *Registry) ExecuteWithPermission(roleID, permission string, action func() error, denied func()) error {
	if !r.HasRolePermission(roleID, permission) {
		if denied != nil {
			denied()
		}
		return ErrPermissionDenied
	}
	return action()
}

// DerivePermissions inverts roles into per-permission records sorted by
// code. "all" is not a permission of its own and is skipped.
func DerivePermissions(roles []Role) []Permission {
	byCode := make(map[string][]string)
	for _, role := range roles {
		for _, code := range role.Permissions {
			if code == PermissionAll || code == "" {
				continue
			}
			if !slices.Contains(byCode[code], role.ID) {
				byCode[code] = append(byCode[code], role.ID)
			}
		}
	}

	out := make([]Permission, 0, len(byCode))
	for code, ids := range byCode {
		sort.Strings(ids)
		out = append(out, Permission{Code: code, Description: DescribePermission(code), Roles: ids})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func grants(perms []string, permission string) bool {
	return slices.Contains(perms, PermissionAll) || slices.Contains(perms, permission)
}

func cloneRole(r Role) Role {
	r.Permissions = slices.Clone(r.Permissions)
	return r
}
