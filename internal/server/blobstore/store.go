// Package blobstore persists raw media bytes under opaque keys.
//
// Two backends are provided: S3Store for S3-compatible object storage
// (AWS, MinIO) and LocalStore for a directory on disk.
package blobstore

import (
	"context"
	"io"
	"time"
)

// Store is the blob store contract used by ingestion, the worker and the
// public file endpoint.
//
// Open returns common.ErrorNotFound for missing keys. Delete of a missing
// key succeeds.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Presigner is implemented by stores that can hand out time-limited
// direct download URLs.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
