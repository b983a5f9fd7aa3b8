package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/beatmapanalyzer/beatmapanalyzer/internal/storage"
)

func newBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(filepath.Join(t.TempDir(), "maps"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestNew_RequiresDir(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty directory")
	}
}

func TestNew_RejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "maps")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(file); err == nil {
		t.Fatal("expected error when the cache path is a regular file")
	}
}

func TestLocal_RejectsEscapingKeys(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	for _, key := range []string{"", "../1.osu", "sub/1.osu", ".hidden", `a\b`} {
		if err := b.PutObject(ctx, key, bytes.NewReader(nil), 0); err == nil {
			t.Errorf("PutObject(%q) succeeded, want error", key)
		}
		if _, _, err := b.GetObject(ctx, key); err == nil || errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetObject(%q) = %v, want invalid key error", key, err)
		}
	}
}

func TestLocal_PutAndGet(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	content := []byte("osu file format v14\n")
	if err := b.PutObject(ctx, "123.osu", bytes.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	rc, size, err := b.GetObject(ctx, "123.osu")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	defer rc.Close()

	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, content) {
		t.Errorf("content mismatch: got %q, want %q", got, content)
	}
	if size != int64(len(content)) {
		t.Errorf("size = %d, want %d", size, len(content))
	}

	// Written at the deterministic path.
	if _, err := os.Stat(b.Path("123.osu")); err != nil {
		t.Errorf("expected file at %s: %v", b.Path("123.osu"), err)
	}
}

func TestLocal_Overwrite(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	b.PutObject(ctx, "1.osu", bytes.NewReader([]byte("old")), 3)
	b.PutObject(ctx, "1.osu", bytes.NewReader([]byte("newer")), 5)

	rc, _, err := b.GetObject(ctx, "1.osu")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != "newer" {
		t.Errorf("got %q, want newer", got)
	}
}

func TestLocal_GetMissing(t *testing.T) {
	b := newBackend(t)

	_, _, err := b.GetObject(context.Background(), "404.osu")
	if err == nil {
		t.Fatal("expected error for missing object")
	}
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("error %v does not match storage.ErrNotFound", err)
	}
}

func TestLocal_GetDirectoryIsNotNotFound(t *testing.T) {
	b := newBackend(t)
	if err := os.Mkdir(b.Path("5.osu"), 0755); err != nil {
		t.Fatal(err)
	}

	_, _, err := b.GetObject(context.Background(), "5.osu")
	if err == nil {
		t.Fatal("expected error reading a directory")
	}
	if errors.Is(err, storage.ErrNotFound) {
		t.Error("directory in place of a file must not be reported as not found")
	}
}

func TestLocal_ExistsDeleteList(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	for _, key := range []string{"1.osu", "2.osu"} {
		if err := b.PutObject(ctx, key, bytes.NewReader([]byte(key)), int64(len(key))); err != nil {
			t.Fatalf("PutObject %s: %v", key, err)
		}
	}
	// Leftover temp files are not objects.
	os.WriteFile(b.Path(".tmp-3.osu-123"), []byte("partial"), 0o644)

	objects, err := b.ListObjects(ctx)
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("ListObjects returned %d objects, want 2", len(objects))
	}

	ok, err := b.ObjectExists(ctx, "1.osu")
	if err != nil || !ok {
		t.Fatalf("ObjectExists(1.osu) = %v, %v", ok, err)
	}

	if err := b.DeleteObject(ctx, "1.osu"); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if err := b.DeleteObject(ctx, "1.osu"); err != nil {
		t.Errorf("deleting a missing object should succeed: %v", err)
	}

	ok, _ = b.ObjectExists(ctx, "1.osu")
	if ok {
		t.Error("object still exists after delete")
	}
}
