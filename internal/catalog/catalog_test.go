package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/beatmapanalyzer/beatmapanalyzer/internal/beatmap"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/logging"
)

func TestMain(m *testing.M) {
	logging.InitNop()
	os.Exit(m.Run())
}

const beatmapJSON = `{
	"id": 129891,
	"beatmapset_id": 39804,
	"mode": "osu",
	"ranked": 1,
	"status": "ranked",
	"version": "FOUR DIMENSIONS",
	"difficulty_rating": 7.02,
	"bpm": 222.22,
	"ar": 9,
	"accuracy": 8,
	"drain": 6,
	"cs": 4,
	"beatmapset": {"id": 39804, "title": "Freedom Dive", "artist": "xi", "creator": "Nakagawa-Kanon"}
}`

type fakeAPI struct {
	*httptest.Server
	tokens   atomic.Int32
	lookups  atomic.Int32
	status   atomic.Int32
	lastAuth atomic.Value
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	f.status.Store(http.StatusOK)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokens.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.Form.Get("grant_type") != "client_credentials" || r.Form.Get("client_id") != "1234" {
			http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok",
			"token_type":   "Bearer",
			"expires_in":   86400,
		})
	})
	mux.HandleFunc("GET /api/v2/beatmaps/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.lookups.Add(1)
		f.lastAuth.Store(r.Header.Get("Authorization"))
		status := int(f.status.Load())
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"nope"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(beatmapJSON))
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeAPI) client(breakerFailures uint32) *Client {
	return New(Config{
		APIURL:          f.URL + "/api/v2",
		TokenURL:        f.URL + "/oauth/token",
		ClientID:        "1234",
		ClientSecret:    "secret",
		Timeout:         5 * time.Second,
		BreakerTimeout:  time.Hour,
		BreakerFailures: breakerFailures,
	})
}

func TestBeatmap(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client(5)

	bm, err := c.Beatmap(context.Background(), 129891)
	if err != nil {
		t.Fatalf("Beatmap: %v", err)
	}
	if bm.Beatmapset.Title != "Freedom Dive" || bm.Beatmapset.Artist != "xi" {
		t.Errorf("unexpected set metadata: %+v", bm.Beatmapset)
	}
	if bm.BeatmapsetID != 39804 || bm.Version != "FOUR DIMENSIONS" {
		t.Errorf("unexpected beatmap: %+v", bm)
	}
	if bm.Status() != beatmap.StatusRanked {
		t.Errorf("Status() = %v, want ranked", bm.Status())
	}
	if got := api.lastAuth.Load(); got != "Bearer tok" {
		t.Errorf("Authorization = %v", got)
	}

	// The token is cached across lookups.
	if _, err := c.Beatmap(context.Background(), 129891); err != nil {
		t.Fatalf("second Beatmap: %v", err)
	}
	if n := api.tokens.Load(); n != 1 {
		t.Errorf("token requests = %d, want 1", n)
	}
}

func TestBeatmap_NotFound(t *testing.T) {
	api := newFakeAPI(t)
	api.status.Store(http.StatusNotFound)
	c := api.client(2)

	// 4xx responses do not count against the breaker.
	for i := 0; i < 4; i++ {
		_, err := c.Beatmap(context.Background(), 1)
		var ce *Error
		if !errors.As(err, &ce) {
			t.Fatalf("expected *Error, got %T: %v", err, err)
		}
		if ce.Status != http.StatusNotFound {
			t.Errorf("status = %d, want 404", ce.Status)
		}
	}
	if n := api.lookups.Load(); n != 4 {
		t.Errorf("lookups = %d, want 4", n)
	}
}

func TestBeatmap_BreakerOpens(t *testing.T) {
	api := newFakeAPI(t)
	api.status.Store(http.StatusServiceUnavailable)
	c := api.client(2)

	for i := 0; i < 2; i++ {
		if _, err := c.Beatmap(context.Background(), 1); err == nil {
			t.Fatal("expected error")
		}
	}

	_, err := c.Beatmap(context.Background(), 1)
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected open breaker, got %v", err)
	}
	if n := api.lookups.Load(); n != 2 {
		t.Errorf("lookups = %d, want 2 (third call short-circuited)", n)
	}
}

func TestBeatmap_BadCredentials(t *testing.T) {
	api := newFakeAPI(t)
	c := New(Config{
		APIURL:   api.URL + "/api/v2",
		TokenURL: api.URL + "/oauth/token",
		ClientID: "999",
	})

	_, err := c.Beatmap(context.Background(), 1)
	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if n := api.lookups.Load(); n != 0 {
		t.Errorf("lookups = %d, want 0", n)
	}
}

func TestStatus_Fallback(t *testing.T) {
	tests := []struct {
		ranked int
		name   string
		want   beatmap.Status
	}{
		{ranked: -2, want: beatmap.StatusGraveyard},
		{ranked: 4, want: beatmap.StatusLoved},
		{ranked: 99, name: "qualified", want: beatmap.StatusQualified},
		{ranked: 99, name: "mystery", want: beatmap.StatusPending},
	}
	for _, tt := range tests {
		bm := &Beatmap{Ranked: tt.ranked, StatusName: tt.name}
		if got := bm.Status(); got != tt.want {
			t.Errorf("Status(%d, %q) = %v, want %v", tt.ranked, tt.name, got, tt.want)
		}
	}
}
