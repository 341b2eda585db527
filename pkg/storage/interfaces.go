package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned when a blob does not exist
var ErrNotFound = errors.New("object not found")

// Object describes a stored blob
type Object struct {
	Path        string    `json:"path"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size"`
	URL         string    `json:"url"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}

// BlobStore is the object storage used for every uploaded file.
// Delete is idempotent: deleting a missing path is not an error.
type BlobStore interface {
	Put(ctx context.Context, path string, content io.Reader, contentType string) (Object, error)
	Get(ctx context.Context, path string) (io.ReadCloser, Object, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
	// List returns every object under prefix, recursively
	List(ctx context.Context, prefix string) ([]Object, error)
	Bucket() string
	URL(path string) string
	HealthCheck(ctx context.Context) error
}

// Config for storage backends
type Config struct {
	// Database
	DatabaseDriver   string // "postgres" or "sqlite3"
	DatabaseURL      string
	DatabaseMaxConns int
	DatabaseMinConns int
	DatabaseTimeout  time.Duration

	// Blob storage
	BlobType       string // "s3", "filesystem", "memory"
	FilesystemRoot string
	PublicBaseURL  string

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		DatabaseDriver:   "sqlite3",
		DatabaseURL:      "file:adminboard.db?_foreign_keys=on",
		DatabaseMaxConns: 20,
		DatabaseMinConns: 2,
		DatabaseTimeout:  10 * time.Second,
		BlobType:         "filesystem",
		FilesystemRoot:   "/tmp/adminboard",
		PublicBaseURL:    "http://localhost:8080/blobs",
		S3Region:         "us-east-1",
		S3Bucket:         "adminboard",
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
	}
}

// CleanPath normalizes a blob path and rejects traversal
func CleanPath(p string) (string, error) {
	p = strings.TrimLeft(strings.TrimSpace(p), "/")
	if p == "" {
		return "", fmt.Errorf("empty blob path")
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." || seg == "." {
			return "", fmt.Errorf("invalid blob path: %s", p)
		}
	}
	return p, nil
}

// PathStyleURL builds {base}/{bucket}/{escaped path}
func PathStyleURL(base, bucket, path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + strings.Join(segs, "/")
}

// DeletePrefix lists everything under prefix and deletes each object in
// turn. It stops at the first failure and returns the count deleted so far.
func DeletePrefix(ctx context.Context, store BlobStore, prefix string) (int, error) {
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	deleted := 0
	for _, obj := range objects {
		if err := store.Delete(ctx, obj.Path); err != nil {
			return deleted, fmt.Errorf("failed to delete %s: %w", obj.Path, err)
		}
		deleted++
	}
	return deleted, nil
}
