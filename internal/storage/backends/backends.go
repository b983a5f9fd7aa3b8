// Package backends constructs a storage.Backend from configuration.
package backends

import (
	"context"
	"fmt"

	"github.com/beatmapanalyzer/beatmapanalyzer/internal/config"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/storage"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/storage/local"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/storage/postgres"
	s3backend "github.com/beatmapanalyzer/beatmapanalyzer/internal/storage/s3"
)

// Open creates the cache backend selected by cfg.CacheBackend.
func Open(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.CacheBackend {
	case "local", "":
		return local.New(cfg.CacheDir)
	case "s3":
		return s3backend.NewBackend(ctx, s3backend.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			Prefix:    cfg.S3Prefix,
		})
	case "postgres":
		return postgres.New(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.CacheBackend)
	}
}
