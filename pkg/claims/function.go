package claims

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/adminboard/pkg/audit"
	"github.com/platinummonkey/adminboard/pkg/auth"
	"github.com/platinummonkey/adminboard/pkg/observability"
	"github.com/platinummonkey/adminboard/pkg/rbac"
)

// Kind classifies a function failure
type Kind string

const (
	KindUnauthenticated  Kind = "unauthenticated"
	KindPermissionDenied Kind = "permission-denied"
	KindInvalidArgument  Kind = "invalid-argument"
	KindInternal         Kind = "internal"
)

// Status maps a kind to its HTTP status code
func (k Kind) Status() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified function failure
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	cause   error
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// allowedRoles may call SetUserRole
var allowedRoles = []string{rbac.RoleAdmin, rbac.RoleSuperAdmin, rbac.RoleDev}

// RoleSyncer reads a user profile and copies a role onto it. Implemented
// by *users.Service.
type RoleSyncer interface {
	GetProfile(ctx context.Context, uid string) (*auth.Profile, error)
	SyncRole(ctx context.Context, uid, roleID, displayName string) (*auth.Profile, error)
}

// Roles reports whether a role id exists. Implemented by *rbac.Registry.
type Roles interface {
	Get(id string) (rbac.Role, bool)
}

// Request is the setUserRole payload
type Request struct {
	UserID      string `json:"userId"`
	Role        string `json:"role"`
	DisplayName string `json:"displayName,omitempty"`
}

// Response is returned on success
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Options configures a Function. Store and Roles are required.
type Options struct {
	Store  Store
	Roles  Roles
	Users  RoleSyncer
	Audit  audit.Logger
	Logger *observability.Logger
}

// Function serves setUserRole
type Function struct {
	store  Store
	roles  Roles
	users  RoleSyncer
	audit  audit.Logger
	logger *observability.Logger
}

// NewFunction creates the claims function
func NewFunction(opts Options) *Function {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	auditLogger := opts.Audit
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &Function{
		store:  opts.Store,
		roles:  opts.Roles,
		users:  opts.Users,
		audit:  auditLogger,
		logger: logger.WithField("component", "claims"),
	}
}

// Authorize checks that caller may set roles at all
func (f *Function) Authorize(ctx context.Context, caller *auth.Session, target string) error {
	if caller == nil || !caller.IsAuthenticated {
		return newError(KindUnauthenticated, "authentication required", nil)
	}
	if !caller.HasRole(allowedRoles...) {
		audit.Record(ctx, f.audit, audit.Event{
			EventType:    audit.EventTypeAccessDenied,
			Status:       audit.StatusDenied,
			Actor:        audit.Actor{UID: caller.UID(), Role: caller.Role},
			ResourceType: audit.ResourceClaims,
			ResourceID:   target,
			Message:      "setUserRole requires admin, super_admin or dev",
		})
		return newError(KindPermissionDenied, "only admin, super_admin or dev may set roles", nil)
	}
	return nil
}

// SetUserRole sets req.UserID's role claim and syncs the profile
func (f *Function) SetUserRole(ctx context.Context, caller *auth.Session, req Request) (*Response, error) {
	if err := f.Authorize(ctx, caller, req.UserID); err != nil {
		return nil, err
	}
	if req.UserID == "" || req.Role == "" {
		return nil, newError(KindInvalidArgument, "userId and role are required", nil)
	}
	if _, ok := f.roles.Get(req.Role); !ok {
		return nil, newError(KindInvalidArgument, fmt.Sprintf("unknown role %q", req.Role), rbac.ErrRoleNotFound)
	}
	if req.Role == rbac.RoleSuperAdmin && caller.Role != rbac.RoleSuperAdmin {
		return nil, newError(KindPermissionDenied, "only super_admin may grant super_admin", nil)
	}

	claims, err := f.store.CustomClaims(ctx, req.UserID)
	if err != nil {
		return nil, f.internal(err)
	}
	previous, _ := claims["role"].(string)
	current, err := f.currentRoles(ctx, req.UserID, previous)
	if err != nil {
		return nil, f.internal(err)
	}
	if caller.Role != rbac.RoleSuperAdmin && hasRole(current, rbac.RoleSuperAdmin) {
		audit.Record(ctx, f.audit, audit.Event{
			EventType:    audit.EventTypeAccessDenied,
			Status:       audit.StatusDenied,
			Actor:        audit.Actor{UID: caller.UID(), Role: caller.Role},
			ResourceType: audit.ResourceClaims,
			ResourceID:   req.UserID,
			Message:      "only super_admin may change a super_admin",
		})
		return nil, newError(KindPermissionDenied, "only super_admin may change a super_admin", nil)
	}
	claims["role"] = req.Role
	if err := f.store.SetClaims(ctx, req.UserID, claims, req.DisplayName); err != nil {
		return nil, f.internal(err)
	}
	if f.users != nil {
		if _, err := f.users.SyncRole(ctx, req.UserID, req.Role, req.DisplayName); err != nil {
			return nil, f.internal(err)
		}
	}

	audit.Record(ctx, f.audit, audit.Event{
		EventType:    audit.EventTypeClaimsSet,
		Status:       audit.StatusSuccess,
		Actor:        audit.Actor{UID: caller.UID(), Role: caller.Role},
		ResourceType: audit.ResourceClaims,
		ResourceID:   req.UserID,
		Details:      map[string]interface{}{"from": previous, "to": req.Role},
	})
	f.logger.WithFields(map[string]interface{}{
		"uid":  req.UserID,
		"role": req.Role,
	}).Info("custom claims updated")

	return &Response{
		Success: true,
		Message: fmt.Sprintf("role of %s set to %s", req.UserID, req.Role),
	}, nil
}

// currentRoles returns the target's stored claim role and profile role,
// whichever are set
func (f *Function) currentRoles(ctx context.Context, uid, claimRole string) ([]string, error) {
	var roles []string
	if claimRole != "" {
		roles = append(roles, claimRole)
	}
	if f.users == nil {
		return roles, nil
	}
	p, err := f.users.GetProfile(ctx, uid)
	if errors.Is(err, auth.ErrProfileNotFound) {
		return roles, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Role != "" {
		roles = append(roles, p.Role)
	}
	return roles, nil
}

func hasRole(roles []string, id string) bool {
	for _, r := range roles {
		if r == id {
			return true
		}
	}
	return false
}

func (f *Function) internal(err error) *Error {
	f.logger.WithError(err).Error("setUserRole failed")
	return newError(KindInternal, "failed to update user role", err)
}

// KindOf returns the kind of err, internal for unclassified errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
