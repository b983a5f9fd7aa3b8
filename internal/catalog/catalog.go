// Package catalog looks up beatmap metadata from the osu! API v2.
//
// The client authenticates with the OAuth2 client-credentials grant and is
// guarded by a circuit breaker so that an unavailable API fails fast instead
// of holding request goroutines for the full timeout.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/beatmapanalyzer/beatmapanalyzer/internal/beatmap"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/logging"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/metrics"
)

const breakerName = "osu-api"

// Lookup fetches catalog metadata for a beatmap.
type Lookup interface {
	Beatmap(ctx context.Context, id beatmap.ID) (*Beatmap, error)
}

// Beatmap is the subset of the osu! API beatmap object used by the service.
type Beatmap struct {
	ID           uint32  `json:"id"`
	BeatmapsetID uint32  `json:"beatmapset_id"`
	Mode         string  `json:"mode"`
	Ranked       int     `json:"ranked"`
	StatusName   string  `json:"status"`
	Version      string  `json:"version"`
	StarRating   float64 `json:"difficulty_rating"`
	BPM          float64 `json:"bpm"`
	AR           float32 `json:"ar"`
	OD           float32 `json:"accuracy"`
	HP           float32 `json:"drain"`
	CS           float32 `json:"cs"`
	TotalLength  int     `json:"total_length"`

	Beatmapset struct {
		ID      uint32 `json:"id"`
		Title   string `json:"title"`
		Artist  string `json:"artist"`
		Creator string `json:"creator"`
	} `json:"beatmapset"`
}

// Status returns the publication status. The numeric "ranked" field is
// authoritative; the status name is only consulted if it is out of range.
func (b *Beatmap) Status() beatmap.Status {
	s := beatmap.Status(b.Ranked)
	if s >= beatmap.StatusGraveyard && s <= beatmap.StatusLoved {
		return s
	}
	if parsed, err := beatmap.ParseStatus(b.StatusName); err == nil {
		return parsed
	}
	// Unknown status: treat as mutable so the cache is never trusted.
	return beatmap.StatusPending
}

// Error reports a failed catalog lookup.
type Error struct {
	ID     beatmap.ID
	Status int // HTTP status from the API, 0 if no response
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("catalog lookup for beatmap %d: status %d: %v", e.ID, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("catalog lookup for beatmap %d: status %d", e.ID, e.Status)
	default:
		return fmt.Sprintf("catalog lookup for beatmap %d: %v", e.ID, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Config holds catalog client configuration.
type Config struct {
	APIURL       string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration

	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration
	// BreakerFailures is the number of consecutive failures that opens it.
	BreakerFailures uint32
}

// Client is an osu! API v2 client. It is safe for concurrent use.
type Client struct {
	apiURL     string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[*Beatmap]
}

// New creates a catalog client. Tokens are requested lazily on the first
// lookup and refreshed automatically.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}

	base := &http.Client{Timeout: cfg.Timeout}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       []string{"public"},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := cc.Client(tokenCtx)
	httpClient.Timeout = cfg.Timeout

	metrics.SetCircuitBreakerState(breakerName, 0)
	cb := gobreaker.NewCircuitBreaker[*Beatmap](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// A 4xx for a single id says nothing about the API's health.
		IsSuccessful: func(err error) bool {
			var ce *Error
			if errors.As(err, &ce) && ce.Status >= 400 && ce.Status < 500 {
				return true
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
			metrics.SetCircuitBreakerState(name, stateValue(to))
		},
	})

	return &Client{
		apiURL:     strings.TrimSuffix(cfg.APIURL, "/"),
		httpClient: httpClient,
		cb:         cb,
	}
}

// Beatmap returns metadata for id. All failures are *Error.
func (c *Client) Beatmap(ctx context.Context, id beatmap.ID) (*Beatmap, error) {
	start := time.Now()
	bm, err := c.cb.Execute(func() (*Beatmap, error) {
		return c.get(ctx, id)
	})
	metrics.RecordCatalogRequest(err == nil, time.Since(start))
	if err != nil {
		var ce *Error
		if !errors.As(err, &ce) {
			// Open or half-open breaker rejected the call.
			err = &Error{ID: id, Err: err}
		}
		logging.WithContext(ctx).Warn("catalog lookup failed",
			logging.BeatmapID(uint32(id)), zap.Error(err))
		return nil, err
	}
	return bm, nil
}

func (c *Client) get(ctx context.Context, id beatmap.ID) (*Beatmap, error) {
	url := c.apiURL + "/beatmaps/" + strconv.FormatUint(uint64(id), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{ID: id, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{ID: id, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var apiErr struct {
			Error string `json:"error"`
		}
		var cause error
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			cause = errors.New(apiErr.Error)
		}
		return nil, &Error{ID: id, Status: resp.StatusCode, Err: cause}
	}

	var bm Beatmap
	if err := json.NewDecoder(resp.Body).Decode(&bm); err != nil {
		return nil, &Error{ID: id, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &bm, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
