// Beatmap Analyzer Server
//
// Features:
// - Beatmap details (metadata + star rating) and stream/jump analysis
// - Status-aware cache of .osu documents (local, S3 or PostgreSQL)
// - osu! API v2 catalog client with circuit breaker
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/beatmapanalyzer/beatmapanalyzer/internal/api"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/beatmap"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/catalog"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/config"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/logging"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/metrics"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/storage/backends"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("beatmap analyzer starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("cache_backend", cfg.CacheBackend))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, err := backends.Open(ctx, cfg)
	if err != nil {
		logging.Fatal("cache backend init failed", zap.Error(err))
	}
	defer backend.Close()

	cache := beatmap.NewCache(backend)
	fetcher := beatmap.NewFetcher(beatmap.FetcherConfig{
		BaseURL: cfg.OsuFileURL,
		Timeout: cfg.FetchTimeout,
	}, cache)
	resolver := beatmap.NewResolver(cache, fetcher, beatmap.WithDeduplication(cfg.FetchDedup))

	cat := catalog.New(catalog.Config{
		APIURL:       cfg.OsuAPIURL,
		TokenURL:     cfg.OsuTokenURL,
		ClientID:     cfg.OsuClientID,
		ClientSecret: cfg.OsuClientSecret,
		Timeout:      cfg.FetchTimeout,
	})

	srv := api.NewServer(cat, resolver, cfg.CORSOrigin)

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	if pg, ok := backend.(*postgres.Backend); ok {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					pg.UpdateConnectionMetrics()
				}
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logging.Info("shutting down...")
		shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Error("http shutdown", zap.Error(err))
		}
		if metricsServer != nil {
			metricsServer.Close()
		}
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logging.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logging.Info("server stopped")
}
