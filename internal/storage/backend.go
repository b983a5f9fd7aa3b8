// Package storage defines the Backend interface for beatmap cache storage.
package storage

import (
	"context"
	"io"
	"io/fs"
	"time"
)

// ErrNotFound is matched (via errors.Is) by every backend error caused by a
// missing object. It aliases fs.ErrNotExist so that plain os errors from the
// local backend satisfy it without wrapping.
var ErrNotFound = fs.ErrNotExist

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Backend is the interface for cache storage backends.
// Implementations handle raw object I/O (local filesystem, S3, PostgreSQL).
type Backend interface {
	// GetObject returns the full object stored at key and its size.
	GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// PutObject stores content at key, replacing any previous object.
	PutObject(ctx context.Context, key string, body io.Reader, size int64) error

	// DeleteObject removes an object by key. Missing objects are not an error.
	DeleteObject(ctx context.Context, key string) error

	// ObjectExists checks if an object exists at the given key.
	ObjectExists(ctx context.Context, key string) (bool, error)

	// ListObjects returns every stored object.
	ListObjects(ctx context.Context) ([]ObjectInfo, error)

	// Type returns the backend type identifier ("local", "s3", "postgres").
	Type() string

	// Close releases any resources held by the backend.
	Close() error
}
