package beatmap

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/beatmapanalyzer/beatmapanalyzer/internal/logging"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/metrics"
)

// DefaultFileURL serves raw .osu documents as {DefaultFileURL}/{id}.
const DefaultFileURL = "https://osu.ppy.sh/osu"

// FetcherConfig holds fetcher configuration.
type FetcherConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client // overrides Timeout when set
}

// Fetcher downloads map documents from the origin and stores them in the
// cache before returning them. It never retries.
type Fetcher struct {
	baseURL    string
	httpClient *http.Client
	cache      *Cache
}

// NewFetcher creates a new fetcher writing into cache.
func NewFetcher(cfg FetcherConfig, cache *Cache) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultFileURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	return &Fetcher{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: httpClient,
		cache:      cache,
	}
}

// Fetch downloads the document for id, persists it to the cache and returns
// the downloaded bytes. If persisting fails the download is discarded and a
// KindPersistFailed error is returned.
func (f *Fetcher) Fetch(ctx context.Context, id ID) ([]byte, error) {
	start := time.Now()
	logger := logging.WithContext(ctx).With(logging.BeatmapID(uint32(id)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%d", f.baseURL, id), nil)
	if err != nil {
		return nil, &FetchError{ID: id, Kind: KindTransport, Err: err}
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		metrics.RecordRemoteFetch(0, 0, time.Since(start))
		return nil, &FetchError{ID: id, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		metrics.RecordRemoteFetch(resp.StatusCode, 0, time.Since(start))
		return nil, &FetchError{ID: id, Kind: KindRemoteRejected, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	metrics.RecordRemoteFetch(resp.StatusCode, int64(len(data)), time.Since(start))
	if err != nil {
		return nil, &FetchError{ID: id, Kind: KindTransport, Err: fmt.Errorf("read body: %w", err)}
	}

	// The origin answers unknown IDs with an empty 200.
	if len(data) == 0 {
		return nil, &FetchError{ID: id, Kind: KindRemoteRejected, Status: resp.StatusCode}
	}
	if !utf8.Valid(data) {
		return nil, &FetchError{ID: id, Kind: KindEncoding}
	}

	if err := f.cache.Write(ctx, id, data); err != nil {
		logger.Error("failed to persist beatmap", zap.Error(err))
		return nil, &FetchError{ID: id, Kind: KindPersistFailed, Err: err}
	}

	logger.Info("beatmap downloaded",
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)))
	return data, nil
}
