// Package local stores cached beatmaps as flat files in one directory.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/beatmapanalyzer/beatmapanalyzer/internal/metrics"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/storage"
)

// Backend implements storage.Backend on a single directory. Keys are plain
// file names; anything that would escape the directory is rejected.
type Backend struct {
	dir string
}

// New opens dir as a cache directory, creating it if needed.
func New(dir string) (*Backend, error) {
	if dir == "" {
		return nil, fmt.Errorf("local backend: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local backend: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("local backend: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local backend: %s is not a directory", dir)
	}
	return &Backend{dir: dir}, nil
}

// Path returns the file that holds key.
func (b *Backend) Path(key string) string {
	return filepath.Join(b.dir, key)
}

func (b *Backend) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, ".") || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return b.Path(key), nil
}

func observe(op string, start time.Time, ok bool) {
	metrics.RecordStorageOperation("local", op, time.Since(start), ok)
}

// GetObject opens the file for key. A missing file matches storage.ErrNotFound;
// a directory in its place does not.
func (b *Backend) GetObject(_ context.Context, key string) (io.ReadCloser, int64, error) {
	start := time.Now()
	path, err := b.path(key)
	if err != nil {
		observe("get", start, false)
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		// A miss is a normal outcome, not a backend failure.
		observe("get", start, os.IsNotExist(err))
		return nil, 0, fmt.Errorf("get %s: %w", key, err)
	}
	info, err := f.Stat()
	if err == nil && info.IsDir() {
		err = fmt.Errorf("get %s: is a directory", key)
	}
	if err != nil {
		f.Close()
		observe("get", start, false)
		return nil, 0, err
	}

	observe("get", start, true)
	return f, info.Size(), nil
}

// PutObject replaces the file for key. Content goes to a hidden temp file
// that is renamed into place, so readers see the old or new map, never half.
func (b *Backend) PutObject(_ context.Context, key string, body io.Reader, _ int64) error {
	start := time.Now()
	err := b.put(key, body)
	observe("put", start, err == nil)
	return err
}

func (b *Backend) put(key string, body io.Reader) error {
	path, err := b.path(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.dir, ".tmp-"+key+"-*")
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// DeleteObject removes the file for key. Deleting a missing key succeeds.
func (b *Backend) DeleteObject(_ context.Context, key string) error {
	start := time.Now()
	path, err := b.path(key)
	if err == nil {
		err = os.Remove(path)
		if os.IsNotExist(err) {
			err = nil
		}
	}
	observe("delete", start, err == nil)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (b *Backend) ObjectExists(_ context.Context, key string) (bool, error) {
	path, err := b.path(key)
	if err != nil {
		return false, err
	}
	switch _, err := os.Stat(path); {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
}

// ListObjects lists regular files. Hidden files, which include in-flight
// temp files, are skipped.
func (b *Backend) ListObjects(_ context.Context) ([]storage.ObjectInfo, error) {
	start := time.Now()
	entries, err := os.ReadDir(b.dir)
	observe("list", start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", b.dir, err)
	}

	var objects []storage.ObjectInfo
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed since ReadDir
		}
		objects = append(objects, storage.ObjectInfo{
			Key:     e.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return objects, nil
}

func (b *Backend) Type() string { return "local" }

func (b *Backend) Close() error { return nil }
