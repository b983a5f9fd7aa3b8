// Package beatmap resolves beatmap documents from the local cache or the
// remote origin according to the map's publication status.
package beatmap

import (
	"context"
	"errors"
	"strconv"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/beatmapanalyzer/beatmapanalyzer/internal/logging"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/metrics"
)

// Resolver decides, per request, whether a map document is served from the
// cache or downloaded.
//
// Mutable maps (graveyard, WIP, pending) are always downloaded. Stable maps
// are read from the cache and downloaded only on a miss; a cached copy of a
// stable map is trusted indefinitely.
type Resolver struct {
	cache   *Cache
	fetcher *Fetcher
	group   *singleflight.Group // nil when deduplication is disabled
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithDeduplication collapses concurrent downloads of the same beatmap into a
// single request to the origin.
func WithDeduplication(enabled bool) ResolverOption {
	return func(r *Resolver) {
		if enabled {
			r.group = &singleflight.Group{}
		} else {
			r.group = nil
		}
	}
}

// NewResolver creates a resolver. Deduplication is off unless requested.
func NewResolver(cache *Cache, fetcher *Fetcher, opts ...ResolverOption) *Resolver {
	r := &Resolver{cache: cache, fetcher: fetcher}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the map document for id.
//
// Errors are a *FetchError when a download was attempted and failed, or a
// *CacheError when a stable map's cache entry exists but cannot be read.
func (r *Resolver) Resolve(ctx context.Context, id ID, status Status) (string, error) {
	logger := logging.WithContext(ctx).With(
		logging.BeatmapID(uint32(id)),
		zap.Stringer("status", status))

	if status.Mutable() {
		logger.Debug("mutable status, bypassing cache")
		data, err := r.fetch(ctx, id)
		if err != nil {
			metrics.RecordResolution("error")
			return "", err
		}
		metrics.RecordResolution("mutable")
		return string(data), nil
	}

	data, err := r.cache.Read(ctx, id)
	switch {
	case err == nil:
		if !utf8.Valid(data) {
			metrics.RecordResolution("error")
			return "", &CacheError{ID: id, Err: errors.New("cached document is not valid UTF-8")}
		}
		logger.Debug("served from cache", zap.Int("bytes", len(data)))
		metrics.RecordResolution("cache_hit")
		return string(data), nil

	case errors.Is(err, ErrNotCached):
		logger.Debug("cache miss, downloading")
		data, err := r.fetch(ctx, id)
		if err != nil {
			metrics.RecordResolution("error")
			return "", err
		}
		metrics.RecordResolution("cache_miss")
		return string(data), nil

	default:
		logger.Error("cache read failed", zap.Error(err))
		metrics.RecordResolution("error")
		return "", &CacheError{ID: id, Err: err}
	}
}

// fetch downloads id, sharing an in-flight download for the same id when
// deduplication is enabled. The shared download is detached from any single
// caller's cancellation; each caller still stops waiting when its own ctx ends.
func (r *Resolver) fetch(ctx context.Context, id ID) ([]byte, error) {
	if r.group == nil {
		return r.fetcher.Fetch(ctx, id)
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(strconv.FormatUint(uint64(id), 10), func() (interface{}, error) {
		return r.fetcher.Fetch(fetchCtx, id)
	})

	select {
	case <-ctx.Done():
		return nil, &FetchError{ID: id, Kind: KindTransport, Err: ctx.Err()}
	case res := <-ch:
		if res.Shared {
			metrics.RecordDeduplicatedFetch()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}
