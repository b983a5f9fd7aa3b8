// Package client is a Go client for the beatmap analyzer HTTP API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/beatmapanalyzer/beatmapanalyzer/pkg/protocol"
)

// Client talks to a beatmap analyzer server. Requests are never retried.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu       sync.RWMutex
	online   bool
	lastPing time.Time
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
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
		},
		online: true,
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsOnline reports whether the last request reached the server.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online = online
	c.lastPing = time.Now()
}

// Ping checks if the server is reachable and healthy.
func (c *Client) Ping(ctx context.Context) error {
	var h protocol.HealthResponse
	if err := c.getJSON(ctx, "/health", &h); err != nil {
		return err
	}
	if h.Status != "ok" {
		return fmt.Errorf("server unhealthy: %q", h.Status)
	}
	return nil
}

// Details fetches metadata and difficulty statistics for a beatmap.
func (c *Client) Details(ctx context.Context, id uint32) (*protocol.DetailsResponse, error) {
	var d protocol.DetailsResponse
	if err := c.getJSON(ctx, "/api/beatmaps/"+strconv.FormatUint(uint64(id), 10)+"/details", &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Analyze runs one analysis mode ("stream", "jump" or "all") and returns
// its results. A single-mode response is returned as a one-element slice.
func (c *Client) Analyze(ctx context.Context, id uint32, mode string) ([]protocol.AnalysisResult, error) {
	path := "/api/beatmaps/" + strconv.FormatUint(uint64(id), 10) + "/analyze/" + url.PathEscape(mode)

	var raw json.RawMessage
	if err := c.getJSON(ctx, path, &raw); err != nil {
		return nil, err
	}

	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		var results []protocol.AnalysisResult
		if err := json.Unmarshal(raw, &results); err != nil {
			return nil, fmt.Errorf("decode analysis: %w", err)
		}
		return results, nil
	}
	var one protocol.AnalysisResult
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return []protocol.AnalysisResult{one}, nil
}

// DetailsResult holds the outcome of one beatmap in DetailsConcurrent.
type DetailsResult struct {
	ID      uint32
	Details *protocol.DetailsResponse
	Err     error
}

// DetailsConcurrent requests details for every id with at most maxConcurrent
// requests in flight. Results are delivered in completion order and the
// channel is closed when all ids are done.
func (c *Client) DetailsConcurrent(ctx context.Context, ids []uint32, maxConcurrent int) <-chan DetailsResult {
	results := make(chan DetailsResult, len(ids))
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	go func() {
		defer close(results)

		var g errgroup.Group
		g.SetLimit(maxConcurrent)
		for _, id := range ids {
			if ctx.Err() != nil {
				results <- DetailsResult{ID: id, Err: ctx.Err()}
				continue
			}
			g.Go(func() error {
				d, err := c.Details(ctx, id)
				results <- DetailsResult{ID: id, Details: d, Err: err}
				return nil
			})
		}
		g.Wait()
	}()

	return results
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return err
	}
	defer resp.Body.Close()
	c.setOnline(true)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var er protocol.ErrorResponse
		json.Unmarshal(body, &er)
		return &APIError{StatusCode: resp.StatusCode, Message: er.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
