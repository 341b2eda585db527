package claims

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/platinummonkey/adminboard/pkg/storage/sqldb"
)

// Store persists custom claims per user
type Store interface {
	CustomClaims(ctx context.Context, uid string) (map[string]interface{}, error)
	SetClaims(ctx context.Context, uid string, claims map[string]interface{}, displayName string) error
}

// SQLStore keeps claims in the auth_claims table
type SQLStore struct {
	db *sqldb.DB
}

// NewSQLStore creates a claims store
func NewSQLStore(db *sqldb.DB) *SQLStore {
	return &SQLStore{db: db}
}

// CustomClaims returns uid's claims, empty when none were set
func (s *SQLStore) CustomClaims(ctx context.Context, uid string) (map[string]interface{}, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT claims FROM auth_claims WHERE uid = $1`, uid).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load claims of %s: %w", uid, err)
	}
	claims := map[string]interface{}{}
	if err := json.Unmarshal([]byte(raw), &claims); err != nil {
		return nil, fmt.Errorf("failed to decode claims of %s: %w", uid, err)
	}
	return claims, nil
}

// SetClaims replaces uid's claims. An empty displayName keeps the stored one.
func (s *SQLStore) SetClaims(ctx context.Context, uid string, claims map[string]interface{}, displayName string) error {
	if claims == nil {
		claims = map[string]interface{}{}
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("failed to marshal claims: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_claims (uid, claims, display_name, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (uid) DO UPDATE SET
			claims = excluded.claims,
			display_name = CASE WHEN excluded.display_name = '' THEN auth_claims.display_name ELSE excluded.display_name END,
			updated_at = excluded.updated_at`,
		uid, string(raw), displayName, sqldb.NowMillis(),
	)
	if err != nil {
		return fmt.Errorf("failed to set claims of %s: %w", uid, err)
	}
	return nil
}
