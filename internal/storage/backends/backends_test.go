package backends

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/beatmapanalyzer/beatmapanalyzer/internal/config"
)

func TestOpen_Local(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "maps")

	b, err := Open(context.Background(), &config.Config{CacheBackend: "local", CacheDir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	if b.Type() != "local" {
		t.Errorf("Type = %q, want local", b.Type())
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("cache dir not created: %v", err)
	}
}

func TestOpen_Unknown(t *testing.T) {
	if _, err := Open(context.Background(), &config.Config{CacheBackend: "memcached"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
