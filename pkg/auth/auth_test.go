package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoles map[string]struct {
	level int
	perms []string
}

func (f fakeRoles) Lookup(id string) (int, []string, bool) {
	r, ok := f[id]
	return r.level, r.perms, ok
}

var testRoles = fakeRoles{
	"super_admin": {6, []string{"all"}},
	"editor":      {3, []string{"manage_content"}},
	"user":        {1, []string{"view_content"}},
}

type fakeProfiles struct {
	profiles map[string]*Profile
	calls    int
	err      error
}

func (f *fakeProfiles) GetProfile(ctx context.Context, uid string) (*Profile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.profiles[uid]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p, nil
}

type fakeClaims map[string]map[string]interface{}

func (f fakeClaims) CustomClaims(ctx context.Context, uid string) (map[string]interface{}, error) {
	return f[uid], nil
}

func TestHMACVerifier(t *testing.T) {
	v := NewHMACVerifier("s3cret", "adminboard", "dashboard", "role")

	token, err := v.Sign(Claims{UID: "u1", Email: "u1@example.com", Role: "editor"}, time.Minute)
	require.NoError(t, err)

	claims, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UID)
	assert.Equal(t, "u1@example.com", claims.Email)
	assert.Equal(t, "editor", claims.Role)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := NewHMACVerifier("other", "adminboard", "dashboard", "role").Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		expired, err := v.Sign(Claims{UID: "u1"}, -time.Minute)
		require.NoError(t, err)
		_, err = v.Verify(context.Background(), expired)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong audience", func(t *testing.T) {
		_, err := NewHMACVerifier("s3cret", "adminboard", "other", "role").Verify(context.Background(), token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing subject", func(t *testing.T) {
		noSub, err := v.Sign(Claims{}, time.Minute)
		require.NoError(t, err)
		_, err = v.Verify(context.Background(), noSub)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestOIDCVerifier_StaticKeys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	sign := func(claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	v := NewOIDCVerifierWithKeySet("https://issuer.example.com", "dashboard", "app_role", keys)

	token := sign(jwt.MapClaims{
		"iss":      "https://issuer.example.com",
		"aud":      "dashboard",
		"sub":      "u2",
		"email":    "u2@example.com",
		"app_role": "super_admin",
		"exp":      time.Now().Add(time.Hour).Unix(),
		"iat":      time.Now().Unix(),
	})
	claims, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u2", claims.UID)
	assert.Equal(t, "super_admin", claims.Role)

	other := sign(jwt.MapClaims{
		"iss": "https://evil.example.com",
		"aud": "dashboard",
		"sub": "u2",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = v.Verify(context.Background(), other)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolver_RoleResolution(t *testing.T) {
	v := NewHMACVerifier("s3cret", "", "", "role")
	profiles := &fakeProfiles{profiles: map[string]*Profile{
		"editor-profile": {ID: "editor-profile", Role: "editor", CustomPermissions: []string{"view_reports"}},
		"ghost-role":     {ID: "ghost-role", Role: "wizard"},
	}}
	r := NewResolver(ResolverOptions{Verifier: v, Roles: testRoles, Profiles: profiles})

	tok := func(c Claims) string {
		s, err := v.Sign(c, time.Minute)
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name      string
		claims    Claims
		wantRole  string
		wantLevel int
	}{
		{"claim wins over profile", Claims{UID: "editor-profile", Role: "super_admin"}, "super_admin", 6},
		{"profile role when no claim", Claims{UID: "editor-profile"}, "editor", 3},
		{"default when neither", Claims{UID: "nobody"}, "user", 1},
		{"unknown role falls back", Claims{UID: "ghost-role"}, "user", 1},
		{"unknown claim role falls back", Claims{UID: "nobody", Role: "root"}, "user", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := r.Resolve(context.Background(), tok(tt.claims))
			require.True(t, s.IsAuthenticated)
			assert.Equal(t, StateAuthenticated, s.State)
			assert.Equal(t, tt.wantRole, s.Role)
			assert.Equal(t, tt.wantLevel, s.RoleLevel)
			assert.Equal(t, tt.claims.UID, s.UID())
		})
	}

	s := r.Resolve(context.Background(), tok(Claims{UID: "editor-profile"}))
	assert.True(t, s.HasPermission("manage_content"))
	assert.True(t, s.HasPermission("view_reports"), "custom permissions are additive")
	assert.False(t, s.HasPermission("manage_users"))
	assert.True(t, s.HasMinimumLevel(3))
	assert.False(t, s.HasMinimumLevel(4))
}

func TestResolver_Unauthenticated(t *testing.T) {
	r := NewResolver(ResolverOptions{Verifier: NewHMACVerifier("s3cret", "", "", ""), Roles: testRoles})

	for _, token := range []string{"", "not-a-jwt"} {
		s := r.Resolve(context.Background(), token)
		assert.Equal(t, StateUnauthenticated, s.State)
		assert.False(t, s.IsAuthenticated)
		assert.False(t, s.HasPermission("view_content"))
	}
}

func TestResolver_ProfileBackendError(t *testing.T) {
	v := NewHMACVerifier("s3cret", "", "", "")
	r := NewResolver(ResolverOptions{
		Verifier: v,
		Roles:    testRoles,
		Profiles: &fakeProfiles{err: errors.New("connection refused")},
	})
	tok, err := v.Sign(Claims{UID: "u1"}, time.Minute)
	require.NoError(t, err)

	assert.False(t, r.Resolve(context.Background(), tok).IsAuthenticated)
}

func TestResolver_StoredClaimsOverrideToken(t *testing.T) {
	v := NewHMACVerifier("s3cret", "", "", "")
	r := NewResolver(ResolverOptions{
		Verifier: v,
		Roles:    testRoles,
		Claims:   fakeClaims{"u1": {"role": "editor"}},
	})
	tok, err := v.Sign(Claims{UID: "u1", Role: "user"}, time.Minute)
	require.NoError(t, err)

	s := r.Resolve(context.Background(), tok)
	assert.Equal(t, "editor", s.Role)
}

func TestCachedProfileSource(t *testing.T) {
	src := &fakeProfiles{profiles: map[string]*Profile{"u1": {ID: "u1", Role: "editor"}}}
	cached := NewCachedProfileSource(src, 10, time.Minute)

	for i := 0; i < 3; i++ {
		p, err := cached.GetProfile(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "editor", p.Role)
	}
	assert.Equal(t, 1, src.calls)

	cached.Invalidate("u1")
	_, err := cached.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	_, err = cached.GetProfile(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestSession_SignOut(t *testing.T) {
	s := &Session{
		State:           StateAuthenticated,
		User:            &Profile{ID: "u1"},
		Role:            "super_admin",
		RoleLevel:       6,
		Permissions:     []string{"all"},
		IsAuthenticated: true,
	}
	assert.True(t, s.HasPermission("anything"))

	s.SignOut()
	assert.Equal(t, Session{State: StateUnauthenticated}, *s)
	assert.False(t, s.HasPermission("anything"))
	assert.True(t, s.Identity().IsZero())
}

func TestIdentityFromFields(t *testing.T) {
	assert.Equal(t, "a", IdentityFromFields("a", "b", "c").UID)
	assert.Equal(t, "b", IdentityFromFields("", "b", "c").UID)
	assert.Equal(t, "c", IdentityFromFields("", "", "c").UID)
	assert.True(t, IdentityFromFields("", "", "").IsZero())
}

func TestFromContext(t *testing.T) {
	assert.Equal(t, StateUnauthenticated, FromContext(context.Background()).State)

	s := &Session{State: StateAuthenticated, User: &Profile{ID: "u9"}, IsAuthenticated: true}
	ctx := WithSession(context.Background(), s)
	assert.Same(t, s, FromContext(ctx))
	assert.Equal(t, StateLoading, NewSession().State)
}
