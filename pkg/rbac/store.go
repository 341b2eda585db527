package rbac

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/platinummonkey/adminboard/pkg/storage/sqldb"
)

// RoleStore persists role mutations
type RoleStore interface {
	ListRoles(ctx context.Context) ([]Role, error)
	UpsertRole(ctx context.Context, role Role) error
	DeleteRole(ctx context.Context, id string) error
}

// SQLStore keeps roles in the roles table
type SQLStore struct {
	db *sqldb.DB
}

// NewSQLStore creates a new SQL role store
func NewSQLStore(db *sqldb.DB) *SQLStore {
	return &SQLStore{db: db}
}

// ListRoles returns every stored role
func (s *SQLStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, label, level, permissions FROM roles ORDER BY level DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var (
			role  Role
			perms string
		)
		if err := rows.Scan(&role.ID, &role.Name, &role.Label, &role.Level, &perms); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		if err := json.Unmarshal([]byte(perms), &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to decode permissions of role %s: %w", role.ID, err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UpsertRole inserts or replaces a role
func (s *SQLStore) UpsertRole(ctx context.Context, role Role) error {
	perms := role.Permissions
	if perms == nil {
		perms = []string{}
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, label, level, permissions, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			label = excluded.label,
			level = excluded.level,
			permissions = excluded.permissions,
			updated_at = excluded.updated_at`,
		role.ID, role.Name, role.Label, role.Level, string(raw), sqldb.NowMillis(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert role %s: %w", role.ID, err)
	}
	return nil
}

// DeleteRole removes a role; deleting an absent role is not an error
func (s *SQLStore) DeleteRole(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete role %s: %w", id, err)
	}
	return nil
}
