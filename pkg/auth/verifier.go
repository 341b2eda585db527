package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification
var ErrInvalidToken = errors.New("invalid token")

// Verifier checks an identity token and returns its claims
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// claimsFromMap extracts the fields the resolver needs. uid falls back to
// user_id for providers that don't put it in sub.
func claimsFromMap(m map[string]interface{}, roleClaim string) (*Claims, error) {
	str := func(key string) string {
		if v, ok := m[key].(string); ok {
			return v
		}
		return ""
	}
	c := &Claims{
		UID:   str("sub"),
		Email: str("email"),
		Name:  str("name"),
		Role:  str(roleClaim),
	}
	if c.UID == "" {
		c.UID = str("user_id")
	}
	if c.UID == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return c, nil
}

// HMACVerifier verifies HS256 tokens signed with a shared secret
type HMACVerifier struct {
	secret    []byte
	issuer    string
	audience  string
	roleClaim string
}

// NewHMACVerifier creates a verifier. Empty issuer or audience disables
// that check.
func NewHMACVerifier(secret, issuer, audience, roleClaim string) *HMACVerifier {
	if roleClaim == "" {
		roleClaim = "role"
	}
	return &HMACVerifier{
		secret:    []byte(secret),
		issuer:    issuer,
		audience:  audience,
		roleClaim: roleClaim,
	}
}

func (v *HMACVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claimsFromMap(claims, v.roleClaim)
}

// Sign issues an HS256 token for c. Used by the dev token command and tests.
func (v *HMACVerifier) Sign(c Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	mc := jwt.MapClaims{
		"sub": c.UID,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
	}
	if c.Email != "" {
		mc["email"] = c.Email
	}
	if c.Name != "" {
		mc["name"] = c.Name
	}
	if c.Role != "" {
		mc[v.roleClaim] = c.Role
	}
	if v.issuer != "" {
		mc["iss"] = v.issuer
	}
	if v.audience != "" {
		mc["aud"] = v.audience
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// OIDCVerifier verifies ID tokens from an OpenID Connect issuer
type OIDCVerifier struct {
	verifier  *oidc.IDTokenVerifier
	roleClaim string
}

// NewOIDCVerifier discovers the issuer and verifies tokens for audience
func NewOIDCVerifier(ctx context.Context, issuer, audience, roleClaim string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	return newOIDCVerifier(provider.Verifier(&oidc.Config{ClientID: audience}), roleClaim), nil
}

// NewOIDCVerifierWithKeySet skips discovery and verifies against keys
func NewOIDCVerifierWithKeySet(issuer, audience, roleClaim string, keys oidc.KeySet) *OIDCVerifier {
	return newOIDCVerifier(oidc.NewVerifier(issuer, keys, &oidc.Config{ClientID: audience}), roleClaim)
}

func newOIDCVerifier(v *oidc.IDTokenVerifier, roleClaim string) *OIDCVerifier {
	if roleClaim == "" {
		roleClaim = "role"
	}
	return &OIDCVerifier{verifier: v, roleClaim: roleClaim}
}

func (v *OIDCVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var m map[string]interface{}
	if err := idToken.Claims(&m); err != nil {
		return nil, fmt.Errorf("failed to decode claims: %w", err)
	}
	return claimsFromMap(m, v.roleClaim)
}
