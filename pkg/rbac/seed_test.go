package rbac

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/adminboard/pkg/observability"
)

const validSeed = `
roles:
  - id: super_admin
    label: Super Admin
    level: 6
    permissions: [all]
  - id: support
    label: Support
    level: 2
    permissions: [view_content, manage_customers, view_content]
  - id: user
    level: 1
    permissions: [view_content]
`

func TestParseSeed(t *testing.T) {
	roles, err := ParseSeed([]byte(validSeed))
	require.NoError(t, err)
	require.Len(t, roles, 3)
	assert.Equal(t, "support", roles[1].Name)
	assert.Equal(t, []string{"view_content", "manage_customers"}, roles[1].Permissions)
	assert.Equal(t, "user", roles[2].Label)
}

func TestParseSeed_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing protected": "roles:\n  - id: editor\n    level: 3\n",
		"duplicate":         "roles:\n  - id: user\n    level: 1\n  - id: user\n    level: 1\n  - id: super_admin\n    level: 6\n",
		"bad id":            "roles:\n  - id: Not Valid\n    level: 1\n",
		"bad yaml":          "roles: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSeed([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestWatchSeedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validSeed), 0o644))

	roles, err := LoadSeedFile(path)
	require.NoError(t, err)
	registry := NewRegistry(roles)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchSeedFile(ctx, path, registry, observability.NopLogger()))

	updated := validSeed + "  - id: auditor\n    level: 2\n    permissions: [view_reports]\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	assert.Eventually(t, func() bool {
		_, ok := registry.Get("auditor")
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	// invalid content is ignored
	require.NoError(t, os.WriteFile(path, []byte("roles: ["), 0o644))
	time.Sleep(100 * time.Millisecond)
	_, ok := registry.Get("auditor")
	assert.True(t, ok)
}
