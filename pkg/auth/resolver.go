package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/adminboard/pkg/observability"
)

// ErrProfileNotFound is returned by a ProfileSource for unknown users
var ErrProfileNotFound = errors.New("profile not found")

// RoleSource looks up a role by id. Implemented by *rbac.Registry.
type RoleSource interface {
	Lookup(roleID string) (level int, permissions []string, ok bool)
}

// ProfileSource loads user profile documents
type ProfileSource interface {
	GetProfile(ctx context.Context, uid string) (*Profile, error)
}

// ProfileSourceFunc adapts a function to ProfileSource
type ProfileSourceFunc func(ctx context.Context, uid string) (*Profile, error)

func (f ProfileSourceFunc) GetProfile(ctx context.Context, uid string) (*Profile, error) {
	return f(ctx, uid)
}

// ClaimsSource returns custom claims set server-side for a user. Stored
// claims take precedence over the token's, which may predate the change.
type ClaimsSource interface {
	CustomClaims(ctx context.Context, uid string) (map[string]interface{}, error)
}

// CachedProfileSource memoizes profiles for a short TTL
type CachedProfileSource struct {
	source ProfileSource
	cache  *expirable.LRU[string, *Profile]
}

// NewCachedProfileSource wraps source with an expiring LRU cache
func NewCachedProfileSource(source ProfileSource, size int, ttl time.Duration) *CachedProfileSource {
	if size <= 0 {
		size = 1024
	}
	return &CachedProfileSource{
		source: source,
		cache:  expirable.NewLRU[string, *Profile](size, nil, ttl),
	}
}

func (c *CachedProfileSource) GetProfile(ctx context.Context, uid string) (*Profile, error) {
	if p, ok := c.cache.Get(uid); ok {
		return p, nil
	}
	p, err := c.source.GetProfile(ctx, uid)
	if err != nil {
		return nil, err
	}
	c.cache.Add(uid, p)
	return p, nil
}

// Invalidate drops a cached profile after it was written
func (c *CachedProfileSource) Invalidate(uid string) {
	c.cache.Remove(uid)
}

// ResolverOptions configures a Resolver. Verifier and Roles are required.
type ResolverOptions struct {
	Verifier Verifier
	Roles    RoleSource
	Profiles ProfileSource
	Claims   ClaimsSource
	Logger   *observability.Logger
}

// Resolver builds sessions from bearer tokens
type Resolver struct {
	verifier Verifier
	roles    RoleSource
	profiles ProfileSource
	claims   ClaimsSource
	logger   *observability.Logger
}

// NewResolver creates a session resolver
func NewResolver(opts ResolverOptions) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Resolver{
		verifier: opts.Verifier,
		roles:    opts.Roles,
		profiles: opts.Profiles,
		claims:   opts.Claims,
		logger:   logger.WithField("component", "auth"),
	}
}

// Resolve verifies token and returns the caller's session. Verification
// failures yield an unauthenticated session.
func (r *Resolver) Resolve(ctx context.Context, token string) *Session {
	if token == "" {
		return Unauthenticated()
	}
	claims, err := r.verifier.Verify(ctx, token)
	if err != nil {
		r.logger.WithError(err).Debug("token rejected")
		return Unauthenticated()
	}
	session, err := r.ResolveClaims(ctx, claims)
	if err != nil {
		r.logger.WithError(err).WithField("uid", claims.UID).Warn("failed to resolve session")
		return Unauthenticated()
	}
	return session
}

// ResolveClaims resolves a session for already verified claims
func (r *Resolver) ResolveClaims(ctx context.Context, claims *Claims) (*Session, error) {
	if claims == nil || claims.UID == "" {
		return Unauthenticated(), nil
	}

	claimRole := claims.Role
	if r.claims != nil {
		custom, err := r.claims.CustomClaims(ctx, claims.UID)
		if err != nil {
			return nil, fmt.Errorf("failed to load custom claims: %w", err)
		}
		if role, ok := custom["role"].(string); ok && role != "" {
			claimRole = role
		}
	}

	var profile *Profile
	if r.profiles != nil {
		p, err := r.profiles.GetProfile(ctx, claims.UID)
		switch {
		case err == nil:
			profile = p
		case errors.Is(err, ErrProfileNotFound):
		default:
			return nil, fmt.Errorf("failed to load profile: %w", err)
		}
	}

	role := claimRole
	if role == "" && profile != nil {
		role = profile.Role
	}
	if role == "" {
		role = DefaultRole
	}
	level, perms, ok := r.roles.Lookup(role)
	if !ok {
		r.logger.WithFields(map[string]interface{}{
			"uid":  claims.UID,
			"role": role,
		}).Warn("unknown role, falling back to default")
		role = DefaultRole
		level, perms, _ = r.roles.Lookup(role)
	}

	if profile == nil {
		profile = &Profile{
			ID:          claims.UID,
			Email:       claims.Email,
			DisplayName: claims.Name,
			Role:        role,
			Status:      StatusPending,
		}
	}

	return &Session{
		State:           StateAuthenticated,
		User:            profile,
		Role:            role,
		RoleLevel:       level,
		Permissions:     unionPermissions(perms, profile.CustomPermissions),
		IsAuthenticated: true,
	}, nil
}

func unionPermissions(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, p := range list {
			if _, dup := seen[p]; dup || p == "" {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
