package rbac

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/adminboard/pkg/observability"
)

type seedFile struct {
	Roles []Role `yaml:"roles"`
}

// LoadSeedFile reads roles from a YAML file. The file must define
// super_admin and user.
func LoadSeedFile(path string) ([]Role, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates a YAML role seed
func ParseSeed(data []byte) ([]Role, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse role seed: %w", err)
	}

	seen := make(map[string]bool, len(seed.Roles))
	for i := range seed.Roles {
		role := &seed.Roles[i]
		if err := role.Validate(); err != nil {
			return nil, err
		}
		if seen[role.ID] {
			return nil, fmt.Errorf("%w: duplicate role %s", ErrInvalidRole, role.ID)
		}
		seen[role.ID] = true
		if role.Name == "" {
			role.Name = role.ID
		}
		if role.Label == "" {
			role.Label = role.Name
		}
		role.Permissions = normalizePermissions(role.Permissions)
	}
	if !hasProtectedRoles(seed.Roles) {
		return nil, fmt.Errorf("%w: seed must define %s and %s", ErrInvalidRole, RoleSuperAdmin, RoleUser)
	}
	return seed.Roles, nil
}

// WatchSeedFile reloads registry each time path is written until ctx is
// done. A file that fails to parse leaves the registry unchanged.
func WatchSeedFile(ctx context.Context, path string, registry *Registry, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// editors replace files by rename, so watch the directory
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	logger = logger.WithField("seed_file", path)
	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				roles, err := LoadSeedFile(path)
				if err != nil {
					logger.WithError(err).Warn("ignoring invalid role seed")
					continue
				}
				registry.Replace(roles)
				logger.WithField("version", registry.Version()).Info("role seed reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Error("role seed watcher error")
			}
		}
	}()
	return nil
}
