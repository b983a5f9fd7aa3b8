package beatmap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/beatmapanalyzer/beatmapanalyzer/internal/storage"
)

// Cache reads and writes map documents in a storage backend. Entries are
// keyed solely by beatmap ID and are never expired.
type Cache struct {
	backend storage.Backend
}

// NewCache creates a cache on top of backend.
func NewCache(backend storage.Backend) *Cache {
	return &Cache{backend: backend}
}

// Key returns the object key for id, e.g. "123.osu".
func Key(id ID) string {
	return fmt.Sprintf("%d.osu", id)
}

// Backend returns the underlying storage backend.
func (c *Cache) Backend() storage.Backend {
	return c.backend
}

// Read returns the cached document for id. A missing entry yields an error
// matching ErrNotCached; any other failure is returned wrapped.
func (c *Cache) Read(ctx context.Context, id ID) ([]byte, error) {
	rc, size, err := c.backend.GetObject(ctx, Key(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotCached, Key(id))
		}
		return nil, err
	}
	defer rc.Close()

	buf := bytes.NewBuffer(make([]byte, 0, max(size, 0)))
	if _, err := io.Copy(buf, rc); err != nil {
		return nil, fmt.Errorf("read %s: %w", Key(id), err)
	}
	return buf.Bytes(), nil
}

// Write stores data as the cache entry for id, replacing any previous entry.
func (c *Cache) Write(ctx context.Context, id ID, data []byte) error {
	return c.backend.PutObject(ctx, Key(id), bytes.NewReader(data), int64(len(data)))
}

// Delete removes the cache entry for id.
func (c *Cache) Delete(ctx context.Context, id ID) error {
	return c.backend.DeleteObject(ctx, Key(id))
}
