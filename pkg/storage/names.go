package storage

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// UniqueName returns {dir}/{uuid}{.ext}, keeping filename's extension
func UniqueName(dir, filename string) string {
	name := uuid.NewString() + strings.ToLower(path.Ext(filename))
	return path.Join(strings.Trim(dir, "/"), name)
}
