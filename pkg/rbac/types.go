package rbac

import (
	"errors"
	"fmt"
	"regexp"
)

// PermissionAll is the sentinel granting every permission
const PermissionAll = "all"

// Built-in role ids
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleDev        = "dev"
	RoleManager    = "manager"
	RoleEditor     = "editor"
	RoleUser       = "user"
)

// Permission codes used by the built-in roles
const (
	PermManageUsers     = "manage_users"
	PermViewRoles       = "view_roles"
	PermManageContent   = "manage_content"
	PermManageCustomers = "manage_customers"
	PermManageInvoices  = "manage_invoices"
	PermManageEvents    = "manage_events"
	PermManageBoard     = "manage_board"
	PermViewReports     = "view_reports"
	PermViewContent     = "view_content"
)

var (
	ErrForbidden        = errors.New("only super_admin may administer roles")
	ErrRoleExists       = errors.New("role already exists")
	ErrRoleNotFound     = errors.New("role not found")
	ErrProtectedRole    = errors.New("role is protected")
	ErrInvalidRole      = errors.New("invalid role")
	ErrPermissionDenied = errors.New("permission denied")
)

// Role is a named permission bundle with a level for hierarchy comparisons
type Role struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Label       string   `json:"label" yaml:"label"`
	Level       int      `json:"level" yaml:"level"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// Permission is derived from the roles declaring it
type Permission struct {
	Code        string   `json:"code"`
	Description string   `json:"description"`
	Roles       []string `json:"roles"`
}

var roleIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// Validate checks id format and level range
func (r Role) Validate() error {
	if !roleIDPattern.MatchString(r.ID) {
		return fmt.Errorf("%w: id %q must be lowercase letters, digits or underscores", ErrInvalidRole, r.ID)
	}
	if r.Level < 0 || r.Level > 100 {
		return fmt.Errorf("%w: level %d out of range", ErrInvalidRole, r.Level)
	}
	return nil
}

// IsProtected reports whether id can never be deleted
func IsProtected(id string) bool {
	return id == RoleSuperAdmin || id == RoleUser
}

var permissionDescriptions = map[string]string{
	PermManageUsers:     "Create, edit and delete users",
	PermViewRoles:       "View roles and permissions",
	PermManageContent:   "Create, edit and delete posts and content",
	PermManageCustomers: "Create, edit and delete customers",
	PermManageInvoices:  "Create, edit and delete invoices",
	PermManageEvents:    "Create, edit and delete events",
	PermManageBoard:     "Edit the Kanban board",
	PermViewReports:     "View reports and analytics",
	PermViewContent:     "View content",
}

// DescribePermission returns a human readable description for code
func DescribePermission(code string) string {
	if d, ok := permissionDescriptions[code]; ok {
		return d
	}
	return code
}

// DefaultRoles returns the built-in role seed
func DefaultRoles() []Role {
	return []Role{
		{ID: RoleSuperAdmin, Name: RoleSuperAdmin, Label: "Super Admin", Level: 6, Permissions: []string{PermissionAll}},
		{ID: RoleAdmin, Name: RoleAdmin, Label: "Administrator", Level: 5, Permissions: []string{
			PermManageUsers, PermViewRoles, PermManageContent, PermManageCustomers,
			PermManageInvoices, PermManageEvents, PermManageBoard, PermViewReports, PermViewContent,
		}},
		{ID: RoleDev, Name: RoleDev, Label: "Developer", Level: 4, Permissions: []string{
			PermManageContent, PermManageBoard, PermManageEvents, PermViewReports, PermViewContent,
		}},
		{ID: RoleManager, Name: RoleManager, Label: "Manager", Level: 4, Permissions: []string{
			PermManageCustomers, PermManageInvoices, PermManageBoard, PermViewReports, PermViewContent,
		}},
		{ID: RoleEditor, Name: RoleEditor, Label: "Editor", Level: 3, Permissions: []string{PermManageContent}},
		{ID: RoleUser, Name: RoleUser, Label: "User", Level: 1, Permissions: []string{PermViewContent}},
	}
}
