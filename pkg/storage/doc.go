// Package storage holds the storage configuration and the BlobStore
// abstraction used for attachments, avatars, covers and event files.
//
// Implementations:
//
//	storage.NewMemoryBlobStore(bucket, baseURL)     // tests, local dev
//	storage.NewFilesystemBlobStore(root, bucket, baseURL)
//	s3blob.New(ctx, cfg, metrics)                   // S3 / MinIO
//
// Download URLs are path-style: {PublicBaseURL}/{bucket}/{path}. The
// storage proxy parses them back into bucket and path.
package storage
