package beatmap

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beatmapanalyzer/beatmapanalyzer/internal/logging"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/storage"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/storage/local"
)

const sampleDoc = "osu file format v14\n\n[General]\nMode: 0\n"

func TestMain(m *testing.M) {
	logging.InitNop()
	os.Exit(m.Run())
}

// spyBackend counts calls and can inject failures.
type spyBackend struct {
	storage.Backend
	gets   atomic.Int32
	puts   atomic.Int32
	getErr error
	putErr error
}

func (s *spyBackend) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	s.gets.Add(1)
	if s.getErr != nil {
		return nil, 0, s.getErr
	}
	return s.Backend.GetObject(ctx, key)
}

func (s *spyBackend) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	s.puts.Add(1)
	if s.putErr != nil {
		return s.putErr
	}
	return s.Backend.PutObject(ctx, key, body, size)
}

// origin is a fake beatmap file server.
type origin struct {
	*httptest.Server
	hits     atomic.Int32
	status   int
	body     string
	override http.HandlerFunc // replaces the canned response when set
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{status: http.StatusOK, body: sampleDoc}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if o.override != nil {
			o.override(w, r)
			return
		}
		o.hits.Add(1)
		w.WriteHeader(o.status)
		io.WriteString(w, o.body)
	}))
	t.Cleanup(o.Close)
	return o
}

type fixture struct {
	dir      string
	backend  *spyBackend
	cache    *Cache
	origin   *origin
	resolver *Resolver
}

func newFixture(t *testing.T, opts ...ResolverOption) *fixture {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "maps")
	lb, err := local.New(dir)
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	spy := &spyBackend{Backend: lb}
	cache := NewCache(spy)
	o := newOrigin(t)
	fetcher := NewFetcher(FetcherConfig{BaseURL: o.URL, Timeout: 5 * time.Second}, cache)
	return &fixture{
		dir:      dir,
		backend:  spy,
		cache:    cache,
		origin:   o,
		resolver: NewResolver(cache, fetcher, opts...),
	}
}

func (f *fixture) seed(t *testing.T, id ID, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(f.dir, Key(id)), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

var (
	mutableStatuses = []Status{StatusGraveyard, StatusWIP, StatusPending}
	stableStatuses  = []Status{StatusRanked, StatusLoved, StatusQualified, StatusApproved}
)

func TestResolve_MutableBypassesCache(t *testing.T) {
	for _, status := range mutableStatuses {
		t.Run(status.String(), func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, 42, "stale cached copy")
			f.origin.body = "fresh upstream copy"

			doc, err := f.resolver.Resolve(context.Background(), 42, status)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if doc != "fresh upstream copy" {
				t.Errorf("got %q, want the upstream document", doc)
			}
			if n := f.origin.hits.Load(); n != 1 {
				t.Errorf("origin hits = %d, want 1", n)
			}
			if n := f.backend.gets.Load(); n != 0 {
				t.Errorf("cache reads = %d, want 0", n)
			}
		})
	}
}

func TestResolve_MutableFetchErrorReturnedDirectly(t *testing.T) {
	f := newFixture(t)
	f.origin.status = http.StatusNotFound

	_, err := f.resolver.Resolve(context.Background(), 7, StatusWIP)
	fe, ok := AsFetchError(err)
	if !ok {
		t.Fatalf("expected FetchError, got %T: %v", err, err)
	}
	if fe.Kind != KindRemoteRejected || fe.Status != http.StatusNotFound {
		t.Errorf("got kind %v status %d", fe.Kind, fe.Status)
	}
}

func TestResolve_StableCacheHit(t *testing.T) {
	for _, status := range stableStatuses {
		t.Run(status.String(), func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, 123, sampleDoc)

			doc, err := f.resolver.Resolve(context.Background(), 123, status)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if doc != sampleDoc {
				t.Errorf("got %q, want cached bytes unchanged", doc)
			}
			if n := f.origin.hits.Load(); n != 0 {
				t.Errorf("origin hits = %d, want 0", n)
			}
		})
	}
}

func TestResolve_StableMissFetchesThenCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.resolver.Resolve(ctx, 123, StatusRanked)
	if err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if doc != sampleDoc {
		t.Errorf("first Resolve = %q", doc)
	}
	if _, err := os.Stat(filepath.Join(f.dir, "123.osu")); err != nil {
		t.Fatalf("cache entry not written: %v", err)
	}

	f.origin.body = "changed upstream"
	doc, err = f.resolver.Resolve(ctx, 123, StatusRanked)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if doc != sampleDoc {
		t.Errorf("second Resolve = %q, want the cached copy", doc)
	}
	if n := f.origin.hits.Load(); n != 1 {
		t.Errorf("origin hits = %d, want 1", n)
	}
}

func TestResolve_StableCacheIOErrorIsFatal(t *testing.T) {
	f := newFixture(t)
	f.backend.getErr = errors.New("permission denied")

	_, err := f.resolver.Resolve(context.Background(), 9, StatusRanked)
	var ce *CacheError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CacheError, got %T: %v", err, err)
	}
	if n := f.origin.hits.Load(); n != 0 {
		t.Errorf("origin hits = %d, want 0 (no fallback on I/O error)", n)
	}
}

func TestResolve_StableWrappedNotFoundFallsBack(t *testing.T) {
	f := newFixture(t)
	f.backend.getErr = &os.PathError{Op: "open", Path: "9.osu", Err: os.ErrNotExist}

	if _, err := f.resolver.Resolve(context.Background(), 9, StatusLoved); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if n := f.origin.hits.Load(); n != 1 {
		t.Errorf("origin hits = %d, want 1", n)
	}
}

func TestResolve_StableInvalidUTF8CacheEntry(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 5, "\xff\xfe\xfd")

	_, err := f.resolver.Resolve(context.Background(), 5, StatusRanked)
	var ce *CacheError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CacheError, got %T: %v", err, err)
	}
}

func TestResolve_Deduplication(t *testing.T) {
	f := newFixture(t, WithDeduplication(true))

	release := make(chan struct{})
	var hits atomic.Int32
	f.origin.override = func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		io.WriteString(w, sampleDoc)
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := f.resolver.Resolve(context.Background(), 77, StatusRanked)
			if err == nil && doc != sampleDoc {
				err = errors.New("unexpected document")
			}
			errs <- err
		}()
	}

	// Give every caller time to miss the cache and join the download.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Resolve: %v", err)
		}
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("origin hits = %d, want 1", n)
	}
}

func TestResolve_DedupCallerCancellation(t *testing.T) {
	f := newFixture(t, WithDeduplication(true))

	release := make(chan struct{})
	f.origin.override = func(w http.ResponseWriter, r *http.Request) {
		<-release
		io.WriteString(w, sampleDoc)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.resolver.Resolve(ctx, 78, StatusRanked)
	fe, ok := AsFetchError(err)
	if !ok || !errors.Is(fe, context.DeadlineExceeded) {
		t.Fatalf("expected deadline FetchError, got %v", err)
	}

	// The detached download still completes for later callers.
	close(release)
	doc, err := f.resolver.Resolve(context.Background(), 78, StatusRanked)
	if err != nil {
		t.Fatalf("Resolve after release: %v", err)
	}
	if doc != sampleDoc {
		t.Errorf("got %q", doc)
	}
}

func TestCache_RoundTripMatchesFetch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.origin.body = "osu file format v14\r\n[Metadata]\r\nTitle:日本語\r\n"

	fetcher := NewFetcher(FetcherConfig{BaseURL: f.origin.URL}, f.cache)
	fetched, err := fetcher.Fetch(ctx, 321)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	cached, err := f.cache.Read(ctx, 321)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(fetched, cached) {
		t.Errorf("cached bytes differ from fetched bytes:\n%q\n%q", fetched, cached)
	}
}

func TestCache_ReadMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.cache.Read(context.Background(), 1)
	if !errors.Is(err, ErrNotCached) {
		t.Fatalf("expected ErrNotCached, got %v", err)
	}
}
