// Package postgres provides a PostgreSQL-backed cache backend.
// Map documents are stored as rows keyed by object key.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/beatmapanalyzer/beatmapanalyzer/internal/logging"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/metrics"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS beatmap_cache (
	key        TEXT PRIMARY KEY,
	content    BYTEA NOT NULL,
	size       BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Backend implements storage.Backend on a PostgreSQL table.
type Backend struct {
	db *sql.DB
}

// New opens the database, verifies connectivity and creates the cache table
// if needed.
func New(ctx context.Context, databaseURL string) (*Backend, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	logging.Info("postgres cache backend ready")

	return &Backend{db: db}, nil
}

// UpdateConnectionMetrics updates the database connection metrics.
func (b *Backend) UpdateConnectionMetrics() {
	metrics.SetDBConnectionsOpen(b.db.Stats().OpenConnections)
}

// GetObject loads a stored document. A missing row yields an error matching
// storage.ErrNotFound.
func (b *Backend) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	start := time.Now()

	var content []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT content FROM beatmap_cache WHERE key = $1`, key).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.RecordStorageOperation("postgres", "get", time.Since(start), true)
		return nil, 0, fmt.Errorf("get %s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		metrics.RecordStorageOperation("postgres", "get", time.Since(start), false)
		return nil, 0, fmt.Errorf("get %s: %w", key, err)
	}

	metrics.RecordStorageOperation("postgres", "get", time.Since(start), true)
	return io.NopCloser(bytes.NewReader(content)), int64(len(content)), nil
}

// PutObject upserts a document.
func (b *Backend) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	start := time.Now()

	content, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read body for %s: %w", key, err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO beatmap_cache (key, content, size, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE
		SET content = EXCLUDED.content, size = EXCLUDED.size, updated_at = now()`,
		key, content, len(content))
	if err != nil {
		metrics.RecordStorageOperation("postgres", "put", time.Since(start), false)
		return fmt.Errorf("put %s: %w", key, err)
	}

	metrics.RecordStorageOperation("postgres", "put", time.Since(start), true)
	logging.Debug("postgres put object", zap.String("key", key), zap.Int("size", len(content)))
	return nil
}

// DeleteObject removes a document.
func (b *Backend) DeleteObject(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM beatmap_cache WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ObjectExists checks if a document is stored under key.
func (b *Backend) ObjectExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := b.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM beatmap_cache WHERE key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return exists, nil
}

// ListObjects returns every stored document's key, size and modification time.
func (b *Backend) ListObjects(ctx context.Context) ([]storage.ObjectInfo, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT key, size, updated_at FROM beatmap_cache ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var objects []storage.ObjectInfo
	for rows.Next() {
		var info storage.ObjectInfo
		if err := rows.Scan(&info.Key, &info.Size, &info.ModTime); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		objects = append(objects, info)
	}
	return objects, rows.Err()
}

// Type returns "postgres".
func (b *Backend) Type() string { return "postgres" }

// Close closes the database connection.
func (b *Backend) Close() error {
	return b.db.Close()
}
