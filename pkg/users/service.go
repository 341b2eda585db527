package users

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/adminboard/pkg/audit"
	"github.com/platinummonkey/adminboard/pkg/auth"
	"github.com/platinummonkey/adminboard/pkg/docstore"
	"github.com/platinummonkey/adminboard/pkg/observability"
	"github.com/platinummonkey/adminboard/pkg/rbac"
	"github.com/platinummonkey/adminboard/pkg/realtime"
	"github.com/platinummonkey/adminboard/pkg/storage"
)

var (
	ErrForbidden     = errors.New("not allowed to modify this user")
	ErrNotFound      = errors.New("user not found")
	ErrInvalidStatus = errors.New("invalid status")
)

// Invalidator drops cached copies of a profile after a write
type Invalidator interface {
	Invalidate(uid string)
}

// ClaimsStore holds the server-side role claim that sessions prefer over
// the profile role. Implemented by *claims.SQLStore.
type ClaimsStore interface {
	CustomClaims(ctx context.Context, uid string) (map[string]interface{}, error)
	SetClaims(ctx context.Context, uid string, claims map[string]interface{}, displayName string) error
}

// Options configures a Service. Store and Registry are required.
type Options struct {
	Store         docstore.Store
	Hub           *realtime.Hub
	Registry      *rbac.Registry
	Blobs         storage.BlobStore
	Audit         audit.Logger
	Cache         Invalidator
	// Claims keeps the stored role claim in step with AssignRole
	Claims        ClaimsStore
	Metrics       *observability.Metrics
	Logger        *observability.Logger
	DefaultStatus auth.Status
}

// Service reads and writes user profiles
type Service struct {
	users         *docstore.Collection
	registry      *rbac.Registry
	blobs         storage.BlobStore
	audit         audit.Logger
	cache         Invalidator
	claims        ClaimsStore
	metrics       *observability.Metrics
	logger        *observability.Logger
	defaultStatus auth.Status
}

// NewService creates a profile service
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	auditLogger := opts.Audit
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	status := opts.DefaultStatus
	if !status.Valid() {
		status = auth.StatusPending
	}
	return &Service{
		users:         docstore.NewCollection(opts.Store, opts.Hub, docstore.CollectionUsers),
		registry:      opts.Registry,
		blobs:         opts.Blobs,
		audit:         auditLogger,
		cache:         opts.Cache,
		claims:        opts.Claims,
		metrics:       opts.Metrics,
		logger:        logger.WithField("component", "users"),
		defaultStatus: status,
	}
}

// GetProfile loads one profile; unknown users yield auth.ErrProfileNotFound
func (s *Service) GetProfile(ctx context.Context, uid string) (*auth.Profile, error) {
	doc, err := s.users.Get(ctx, uid)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, auth.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeProfile(doc)
}

// List returns every profile, oldest first
func (s *Service) List(ctx context.Context) ([]*auth.Profile, error) {
	docs, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	return decodeProfiles(docs)
}

// ListByRole returns profiles holding role
func (s *Service) ListByRole(ctx context.Context, role string) ([]*auth.Profile, error) {
	docs, err := s.users.Search(ctx, "role", role)
	if err != nil {
		return nil, err
	}
	return decodeProfiles(docs)
}

// EnsureProfile returns the caller's profile, creating it on first sign-in
// with the default role and status
func (s *Service) EnsureProfile(ctx context.Context, claims *auth.Claims) (*auth.Profile, error) {
	if p, err := s.GetProfile(ctx, claims.UID); err == nil {
		return p, nil
	} else if !errors.Is(err, auth.ErrProfileNotFound) {
		return nil, err
	}

	level, perms, _ := s.registry.Lookup(auth.DefaultRole)
	now := time.Now().UTC()
	p := &auth.Profile{
		ID:          claims.UID,
		DisplayName: claims.Name,
		Email:       claims.Email,
		Role:        auth.DefaultRole,
		RoleLevel:   level,
		Permissions: perms,
		Status:      s.defaultStatus,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	doc, err := s.users.Create(ctx, claims.UID, p)
	if errors.Is(err, docstore.ErrConflict) {
		// concurrent first sign-in
		return s.GetProfile(ctx, claims.UID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create profile %s: %w", claims.UID, err)
	}
	s.logger.WithField("uid", claims.UID).Info("created user profile")
	return decodeProfile(doc)
}

// AssignRole sets uid's role and copies the role's level and permissions
// onto the profile. With a claims store the stored role claim is rewritten
// too, so the next session resolves to the new role. Requires manage_users;
// only super_admin may grant super_admin or change a super_admin.
func (s *Service) AssignRole(ctx context.Context, caller *auth.Session, uid, roleID string) (*auth.Profile, error) {
	if !caller.HasPermission(rbac.PermManageUsers) {
		return nil, s.deny(ctx, caller, uid, "missing permission: "+rbac.PermManageUsers)
	}
	if roleID == rbac.RoleSuperAdmin && caller.Role != rbac.RoleSuperAdmin {
		return nil, s.deny(ctx, caller, uid, "only super_admin may assign super_admin")
	}
	claims, claimRole, err := s.storedClaims(ctx, uid)
	if err != nil {
		return nil, err
	}
	if claimRole == rbac.RoleSuperAdmin && caller.Role != rbac.RoleSuperAdmin {
		return nil, s.deny(ctx, caller, uid, "only super_admin may change a super_admin")
	}

	var previous string
	p, err := s.mutate(ctx, uid, func(p *auth.Profile) error {
		if p.Role == rbac.RoleSuperAdmin && caller.Role != rbac.RoleSuperAdmin {
			return ErrForbidden
		}
		previous = p.Role
		return s.applyRole(p, roleID)
	})
	if errors.Is(err, ErrForbidden) {
		return nil, s.deny(ctx, caller, uid, "only super_admin may change a super_admin")
	}
	if err != nil {
		return nil, err
	}
	if claims != nil {
		claims["role"] = roleID
		if err := s.claims.SetClaims(ctx, uid, claims, ""); err != nil {
			return nil, fmt.Errorf("failed to update role claim of %s: %w", uid, err)
		}
	}

	audit.Record(ctx, s.audit, audit.Event{
		EventType:    audit.EventTypeUserRoleChange,
		Status:       audit.StatusSuccess,
		Actor:        audit.Actor{UID: caller.UID(), Role: caller.Role},
		ResourceType: audit.ResourceUser,
		ResourceID:   uid,
		Details:      map[string]interface{}{"from": previous, "to": roleID},
	})
	return p, nil
}

// SyncRole copies roleID onto uid's profile without an authorization check.
// The claims function calls it after authorizing the caller itself.
// A missing profile is created.
func (s *Service) SyncRole(ctx context.Context, uid, roleID, displayName string) (*auth.Profile, error) {
	if _, ok := s.registry.Get(roleID); !ok {
		return nil, fmt.Errorf("%w: %s", rbac.ErrRoleNotFound, roleID)
	}
	if _, err := s.EnsureProfile(ctx, &auth.Claims{UID: uid, Name: displayName}); err != nil {
		return nil, err
	}
	return s.mutate(ctx, uid, func(p *auth.Profile) error {
		if displayName != "" {
			p.DisplayName = displayName
		}
		return s.applyRole(p, roleID)
	})
}

// storedClaims returns uid's custom claims and their role, nil without a
// claims store
func (s *Service) storedClaims(ctx context.Context, uid string) (map[string]interface{}, string, error) {
	if s.claims == nil {
		return nil, "", nil
	}
	claims, err := s.claims.CustomClaims(ctx, uid)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load claims of %s: %w", uid, err)
	}
	if claims == nil {
		claims = map[string]interface{}{}
	}
	role, _ := claims["role"].(string)
	return claims, role, nil
}

func (s *Service) applyRole(p *auth.Profile, roleID string) error {
	level, perms, ok := s.registry.Lookup(roleID)
	if !ok {
		return fmt.Errorf("%w: %s", rbac.ErrRoleNotFound, roleID)
	}
	p.Role = roleID
	p.RoleLevel = level
	p.Permissions = perms
	return nil
}

// SetStatus moderates uid. Requires manage_users.
func (s *Service) SetStatus(ctx context.Context, caller *auth.Session, uid string, status auth.Status) (*auth.Profile, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if !caller.HasPermission(rbac.PermManageUsers) {
		return nil, s.deny(ctx, caller, uid, "missing permission: "+rbac.PermManageUsers)
	}

	var previous auth.Status
	p, err := s.mutate(ctx, uid, func(p *auth.Profile) error {
		previous = p.Status
		p.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	audit.Record(ctx, s.audit, audit.Event{
		EventType:    audit.EventTypeUserStatusChange,
		Status:       audit.StatusSuccess,
		Actor:        audit.Actor{UID: caller.UID(), Role: caller.Role},
		ResourceType: audit.ResourceUser,
		ResourceID:   uid,
		Details:      map[string]interface{}{"from": string(previous), "to": string(status)},
	})
	return p, nil
}

// ProfileUpdate holds the self-editable fields; nil leaves a field alone
type ProfileUpdate struct {
	DisplayName *string `json:"displayName"`
	PhoneNumber *string `json:"phoneNumber"`
	Bio         *string `json:"bio"`
	Country     *string `json:"country"`
	City        *string `json:"city"`
	Address     *string `json:"address"`
	Company     *string `json:"company"`
}

func (u ProfileUpdate) apply(p *auth.Profile) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&p.DisplayName, u.DisplayName)
	set(&p.PhoneNumber, u.PhoneNumber)
	set(&p.Bio, u.Bio)
	set(&p.Country, u.Country)
	set(&p.City, u.City)
	set(&p.Address, u.Address)
	set(&p.Company, u.Company)
}

// UpdateProfile edits profile fields. Callers may edit themselves; editing
// others requires manage_users. Role and status never change here.
func (s *Service) UpdateProfile(ctx context.Context, caller *auth.Session, uid string, update ProfileUpdate) (*auth.Profile, error) {
	if err := s.authorizeEdit(ctx, caller, uid); err != nil {
		return nil, err
	}
	return s.mutate(ctx, uid, func(p *auth.Profile) error {
		update.apply(p)
		return nil
	})
}

func (s *Service) authorizeEdit(ctx context.Context, caller *auth.Session, uid string) error {
	if !caller.IsAuthenticated {
		return ErrForbidden
	}
	if caller.UID() == uid || caller.HasPermission(rbac.PermManageUsers) {
		return nil
	}
	return s.deny(ctx, caller, uid, "cannot edit another user's profile")
}

// Upload kinds
const (
	KindAvatar = "avatars"
	KindCover  = "covers"
)

// UploadImage stores an avatar or cover at {kind}/{uid}/{uuid}.{ext} and
// points the profile at it
func (s *Service) UploadImage(ctx context.Context, caller *auth.Session, uid, kind, filename, contentType string, content io.Reader) (*auth.Profile, error) {
	if kind != KindAvatar && kind != KindCover {
		return nil, fmt.Errorf("unknown upload kind %q", kind)
	}
	if s.blobs == nil {
		return nil, errors.New("blob storage is not configured")
	}
	if err := s.authorizeEdit(ctx, caller, uid); err != nil {
		return nil, err
	}
	if _, err := s.GetProfile(ctx, uid); err != nil {
		if errors.Is(err, auth.ErrProfileNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	obj, err := s.blobs.Put(ctx, storage.UniqueName(kind+"/"+uid, filename), content, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", kind, err)
	}
	return s.mutate(ctx, uid, func(p *auth.Profile) error {
		if kind == KindAvatar {
			p.AvatarURL = obj.URL
		} else {
			p.CoverURL = obj.URL
		}
		return nil
	})
}

// DeleteResult reports what DeleteUser removed
type DeleteResult struct {
	UID                 string `json:"uid"`
	BlobsDeleted        int    `json:"blobsDeleted"`
	BlobFailures        int    `json:"blobFailures"`
	AuthAccountRetained bool   `json:"authAccountRetained"`
}

// DeleteUser removes uid's blob folders and profile. Requires manage_users;
// super_admin profiles can only be deleted by a super_admin. Blob failures
// are logged and counted, never fatal.
func (s *Service) DeleteUser(ctx context.Context, caller *auth.Session, uid string) (*DeleteResult, error) {
	if !caller.HasPermission(rbac.PermManageUsers) {
		return nil, s.deny(ctx, caller, uid, "missing permission: "+rbac.PermManageUsers)
	}
	target, err := s.GetProfile(ctx, uid)
	if errors.Is(err, auth.ErrProfileNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_, claimRole, err := s.storedClaims(ctx, uid)
	if err != nil {
		return nil, err
	}
	if (target.Role == rbac.RoleSuperAdmin || claimRole == rbac.RoleSuperAdmin) && caller.Role != rbac.RoleSuperAdmin {
		return nil, s.deny(ctx, caller, uid, "only super_admin may delete a super_admin")
	}

	result := &DeleteResult{UID: uid, AuthAccountRetained: true}
	if s.blobs != nil {
		result.BlobsDeleted, result.BlobFailures = s.deleteFolders(ctx, KindAvatar+"/"+uid, KindCover+"/"+uid)
	}

	if err := s.users.Delete(ctx, uid); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("failed to delete profile %s: %w", uid, err)
	}
	s.invalidate(uid)

	audit.Record(ctx, s.audit, audit.Event{
		EventType:    audit.EventTypeUserDelete,
		Status:       audit.StatusSuccess,
		Actor:        audit.Actor{UID: caller.UID(), Role: caller.Role},
		ResourceType: audit.ResourceUser,
		ResourceID:   uid,
		Message:      "auth provider account retained",
		Details: map[string]interface{}{
			"blobsDeleted": result.BlobsDeleted,
			"blobFailures": result.BlobFailures,
		},
	})
	return result, nil
}

// deleteFolders empties each folder concurrently
func (s *Service) deleteFolders(ctx context.Context, folders ...string) (deleted, failed int) {
	counts := make([]int, len(folders))
	errs := make([]error, len(folders))

	var g errgroup.Group
	for i, folder := range folders {
		i, folder := i, folder
		g.Go(func() error {
			counts[i], errs[i] = storage.DeletePrefix(ctx, s.blobs, folder)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		deleted += counts[i]
		if err != nil {
			failed++
			s.logger.WithError(err).WithField("folder", folders[i]).Warn("failed to delete user blobs")
			if s.metrics != nil {
				s.metrics.BlobCleanupFailuresTotal.WithLabelValues("user").Inc()
			}
		}
	}
	return deleted, failed
}

const maxMutateAttempts = 3

// mutate applies fn to the stored profile with a version check, retrying
// when a concurrent write wins
func (s *Service) mutate(ctx context.Context, uid string, fn func(*auth.Profile) error) (*auth.Profile, error) {
	var lastErr error
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		doc, err := s.users.Get(ctx, uid)
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		p, err := decodeProfile(doc)
		if err != nil {
			return nil, err
		}
		if err := fn(p); err != nil {
			return nil, err
		}
		p.UpdatedAt = time.Now().UTC()

		updated, err := s.users.Replace(ctx, uid, p, doc.Version)
		if errors.Is(err, docstore.ErrConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save profile %s: %w", uid, err)
		}
		s.invalidate(uid)
		return decodeProfile(updated)
	}
	return nil, lastErr
}

func (s *Service) invalidate(uid string) {
	if s.cache != nil {
		s.cache.Invalidate(uid)
	}
}

func (s *Service) deny(ctx context.Context, caller *auth.Session, uid, reason string) error {
	audit.Record(ctx, s.audit, audit.Event{
		EventType:    audit.EventTypeAccessDenied,
		Status:       audit.StatusDenied,
		Actor:        audit.Actor{UID: caller.UID(), Role: caller.Role},
		ResourceType: audit.ResourceUser,
		ResourceID:   uid,
		Message:      reason,
	})
	return fmt.Errorf("%w: %s", ErrForbidden, reason)
}

func decodeProfile(doc *docstore.Document) (*auth.Profile, error) {
	var p auth.Profile
	if err := doc.Decode(&p); err != nil {
		return nil, err
	}
	p.ID = doc.ID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = doc.CreatedAt
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = doc.UpdatedAt
	}
	return &p, nil
}

func decodeProfiles(docs []*docstore.Document) ([]*auth.Profile, error) {
	out := make([]*auth.Profile, 0, len(docs))
	for _, d := range docs {
		p, err := decodeProfile(d)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
