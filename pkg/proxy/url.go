package proxy

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnsupportedURL is returned for URLs that name no bucket and path
var ErrUnsupportedURL = errors.New("unsupported blob URL")

// Target is the bucket and object path a blob URL points at
type Target struct {
	Bucket string
	Path   string
}

// ParseURL resolves raw to a bucket and path. basePath is the path prefix of
// this deployment's own path-style URLs ("/blobs"), stripped before the
// bucket segment is read.
func ParseURL(raw, basePath string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}
	if u.Host == "" {
		return Target{}, fmt.Errorf("%w: missing host", ErrUnsupportedURL)
	}
	host := strings.ToLower(u.Hostname())
	p := u.Path

	var t Target
	switch {
	case strings.HasPrefix(p, "/v0/b/"):
		// firebasestorage.googleapis.com/v0/b/{bucket}/o/{escaped path}
		rest := strings.TrimPrefix(p, "/v0/b/")
		bucket, object, ok := strings.Cut(rest, "/o/")
		if !ok {
			return Target{}, fmt.Errorf("%w: missing /o/ segment", ErrUnsupportedURL)
		}
		t = Target{Bucket: bucket, Path: object}
	case host == "storage.googleapis.com":
		t = splitPathStyle(p)
	case strings.HasSuffix(host, ".storage.googleapis.com"):
		t = Target{Bucket: strings.TrimSuffix(host, ".storage.googleapis.com"), Path: p}
	case isS3VirtualHost(host):
		bucket, _, _ := strings.Cut(host, ".s3")
		t = Target{Bucket: bucket, Path: p}
	default:
		if basePath = strings.TrimRight(basePath, "/"); basePath != "" {
			p = strings.TrimPrefix(p, basePath)
		}
		t = splitPathStyle(p)
	}

	t.Path = strings.TrimLeft(t.Path, "/")
	if t.Bucket == "" || t.Path == "" {
		return Target{}, fmt.Errorf("%w: %s", ErrUnsupportedURL, raw)
	}
	return t, nil
}

// isS3VirtualHost matches {bucket}.s3.amazonaws.com,
// {bucket}.s3.{region}.amazonaws.com and {bucket}.s3-{region}.amazonaws.com
func isS3VirtualHost(host string) bool {
	if !strings.HasSuffix(host, ".amazonaws.com") {
		return false
	}
	i := strings.Index(host, ".s3")
	if i <= 0 {
		return false
	}
	next := host[i+len(".s3"):]
	return strings.HasPrefix(next, ".") || strings.HasPrefix(next, "-")
}

func splitPathStyle(p string) Target {
	bucket, object, _ := strings.Cut(strings.TrimLeft(p, "/"), "/")
	return Target{Bucket: bucket, Path: object}
}
