package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FilesystemBlobStore stores blobs as files under rootDir/bucket
type FilesystemBlobStore struct {
	rootDir string
	bucket  string
	baseURL string
}

// NewFilesystemBlobStore creates the bucket directory if needed
func NewFilesystemBlobStore(rootDir, bucket, baseURL string) (*FilesystemBlobStore, error) {
	dir := filepath.Join(rootDir, bucket)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FilesystemBlobStore{rootDir: dir, bucket: bucket, baseURL: baseURL}, nil
}

func (s *FilesystemBlobStore) fullPath(p string) (string, string, error) {
	clean, err := CleanPath(p)
	if err != nil {
		return "", "", err
	}
	return clean, filepath.Join(s.rootDir, filepath.FromSlash(clean)), nil
}

func (s *FilesystemBlobStore) Put(ctx context.Context, p string, content io.Reader, contentType string) (Object, error) {
	clean, full, err := s.fullPath(p)
	if err != nil {
		return Object{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return Object{}, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return Object{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	n, copyErr := io.Copy(tmp, content)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp.Name())
		return Object{}, fmt.Errorf("failed to write blob: %w", errors.Join(copyErr, closeErr))
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return Object{}, fmt.Errorf("failed to move blob into place: %w", err)
	}

	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(clean))
	}
	return Object{Path: clean, ContentType: contentType, Size: n, URL: s.URL(clean)}, nil
}

func (s *FilesystemBlobStore) Get(ctx context.Context, p string) (io.ReadCloser, Object, error) {
	clean, full, err := s.fullPath(p)
	if err != nil {
		return nil, Object{}, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Object{}, ErrNotFound
	}
	if err != nil {
		return nil, Object{}, fmt.Errorf("failed to open blob: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Object{}, fmt.Errorf("failed to stat blob: %w", err)
	}
	return f, Object{
		Path:        clean,
		ContentType: mime.TypeByExtension(filepath.Ext(clean)),
		Size:        info.Size(),
		URL:         s.URL(clean),
		UpdatedAt:   info.ModTime().UTC(),
	}, nil
}

func (s *FilesystemBlobStore) Exists(ctx context.Context, p string) (bool, error) {
	_, full, err := s.fullPath(p)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat blob: %w", err)
	}
	return !info.IsDir(), nil
}

func (s *FilesystemBlobStore) Delete(ctx context.Context, p string) error {
	_, full, err := s.fullPath(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (s *FilesystemBlobStore) List(ctx context.Context, prefix string) ([]Object, error) {
	prefix = strings.Trim(prefix, "/")
	root := s.rootDir
	if prefix != "" {
		root = filepath.Join(s.rootDir, filepath.FromSlash(prefix))
	}

	var out []Object
	err := filepath.WalkDir(root, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.rootDir, full)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		p := filepath.ToSlash(rel)
		out = append(out, Object{
			Path:        p,
			ContentType: mime.TypeByExtension(filepath.Ext(p)),
			Size:        info.Size(),
			URL:         s.URL(p),
			UpdatedAt:   info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *FilesystemBlobStore) Bucket() string { return s.bucket }

func (s *FilesystemBlobStore) URL(p string) string { return PathStyleURL(s.baseURL, s.bucket, p) }

func (s *FilesystemBlobStore) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(s.rootDir); err != nil {
		return fmt.Errorf("filesystem health check failed: %w", err)
	}
	return nil
}
