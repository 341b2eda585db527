// Package proxy streams blobs to browsers that cannot fetch them directly
// because of CORS.
//
// GET /storage-proxy?url=<blob URL> accepts Firebase, GCS, virtual-host S3
// and path-style URLs, rejects buckets other than the configured one and
// streams the object back with permissive CORS headers. It is a
// development aid and carries no authorization of its own.
package proxy
