// Package main provides a CLI tool for inspecting and warming the beatmap cache.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/beatmapanalyzer/beatmapanalyzer/internal/beatmap"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/config"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/logging"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/storage"
	"github.com/beatmapanalyzer/beatmapanalyzer/internal/storage/backends"
	"github.com/beatmapanalyzer/beatmapanalyzer/pkg/client"
)

func main() {
	backendType := flag.String("backend", "", "Cache backend: local, s3, postgres (default: $CACHE_BACKEND or local)")
	cacheDir := flag.String("dir", "", "Cache directory for the local backend (default: $CACHE_DIR or maps)")
	serverURL := flag.String("server", "http://localhost:8080", "Server URL (for prefetch)")
	concurrent := flag.Int("concurrent", 5, "Concurrent requests (for prefetch)")
	verbose := flag.Bool("v", false, "Log fetcher activity to stderr")

	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "help":
		printUsage()
		return
	case "prefetch":
		cmdPrefetch(*serverURL, *concurrent, cmdArgs)
		return
	}

	if *verbose {
		logging.Init(logging.Config{Level: "debug", Format: "console"})
	} else {
		logging.InitNop()
	}

	cfg, err := config.LoadCacheOnly()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *backendType != "" {
		cfg.CacheBackend = *backendType
	}
	if *cacheDir != "" {
		cfg.CacheDir = *cacheDir
	}

	ctx := context.Background()
	backend, err := backends.Open(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
		os.Exit(1)
	}
	defer backend.Close()

	c := beatmap.NewCache(backend)

	switch cmd {
	case "list", "ls":
		cmdList(ctx, c)
	case "stats":
		cmdStats(ctx, c, cfg)
	case "fetch":
		cmdFetch(ctx, c, cfg, cmdArgs)
	case "evict", "rm":
		cmdEvict(ctx, c, cmdArgs)
	case "json":
		cmdJSON(ctx, c)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Beatmap Cache CLI

Usage: cache-cli [flags] <command> [args]

Flags:
  -backend <type>    Cache backend: local, s3, postgres (default: $CACHE_BACKEND)
  -dir <dir>         Local cache directory (default: $CACHE_DIR or maps)
  -server <url>      Server URL for prefetch (default: http://localhost:8080)
  -concurrent <n>    Concurrent requests for prefetch (default: 5)
  -v                 Log fetcher activity

Commands:
  list, ls            List cached beatmaps
  stats               Show cache statistics
  fetch <id>...       Download beatmaps from the file origin into the cache
  evict, rm <id>...   Remove beatmaps from the cache
  prefetch <id>...    Warm the server's cache by requesting details
  json                Export cache info as JSON
  help                Show this help message

Examples:
  cache-cli -dir /var/cache/maps list
  cache-cli stats
  cache-cli fetch 75 129891
  cache-cli -backend s3 rm 75
  cache-cli -server http://localhost:8080 -concurrent 8 prefetch 75 129891`)
}

type entry struct {
	ID      beatmap.ID
	Key     string
	Size    int64
	ModTime time.Time
}

// entries lists cached beatmaps. Objects whose keys are not beatmap keys
// are skipped.
func entries(ctx context.Context, c *beatmap.Cache) []entry {
	objs, err := c.Backend().ListObjects(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing cache: %v\n", err)
		os.Exit(1)
	}

	out := make([]entry, 0, len(objs))
	for _, o := range objs {
		id, ok := keyID(o)
		if !ok {
			continue
		}
		out = append(out, entry{ID: id, Key: o.Key, Size: o.Size, ModTime: o.ModTime})
	}

	// Most recently written first
	sort.Slice(out, func(i, j int) bool {
		return out[i].ModTime.After(out[j].ModTime)
	})
	return out
}

func keyID(o storage.ObjectInfo) (beatmap.ID, bool) {
	name, ok := strings.CutSuffix(o.Key, ".osu")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(name, 10, 32)
	if err != nil {
		return 0, false
	}
	return beatmap.ID(n), true
}

func cmdList(ctx context.Context, c *beatmap.Cache) {
	list := entries(ctx, c)
	if len(list) == 0 {
		fmt.Println("Cache is empty")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BEATMAP ID\tSIZE\tCACHED")
	fmt.Fprintln(w, "----------\t----\t------")

	for _, e := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\n",
			e.ID,
			formatSize(e.Size),
			formatTime(e.ModTime))
	}
	w.Flush()
}

func cmdStats(ctx context.Context, c *beatmap.Cache, cfg *config.Config) {
	list := entries(ctx, c)

	var size, largest int64
	var oldest, newest time.Time
	for _, e := range list {
		size += e.Size
		largest = max(largest, e.Size)
		if oldest.IsZero() || e.ModTime.Before(oldest) {
			oldest = e.ModTime
		}
		if e.ModTime.After(newest) {
			newest = e.ModTime
		}
	}

	fmt.Println("Cache Statistics")
	fmt.Println("----------------")
	fmt.Printf("Backend:      %s\n", c.Backend().Type())
	if c.Backend().Type() == "local" {
		fmt.Printf("Directory:    %s\n", cfg.CacheDir)
	}
	fmt.Printf("Beatmaps:     %d\n", len(list))
	fmt.Printf("Used:         %s\n", formatSize(size))
	if len(list) > 0 {
		fmt.Printf("Average:      %s\n", formatSize(size/int64(len(list))))
		fmt.Printf("Largest:      %s\n", formatSize(largest))
		fmt.Printf("Oldest:       %s\n", formatTime(oldest))
		fmt.Printf("Newest:       %s\n", formatTime(newest))
	}
}

func parseIDs(cmd string, args []string) []beatmap.ID {
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: cache-cli %s <id>...\n", cmd)
		os.Exit(1)
	}

	ids := make([]beatmap.ID, 0, len(args))
	for _, a := range args {
		n, err := strconv.ParseUint(strings.TrimSuffix(a, ".osu"), 10, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid beatmap id: %q\n", a)
			os.Exit(1)
		}
		ids = append(ids, beatmap.ID(n))
	}
	return ids
}

func cmdFetch(ctx context.Context, c *beatmap.Cache, cfg *config.Config, args []string) {
	ids := parseIDs("fetch", args)

	fetcher := beatmap.NewFetcher(beatmap.FetcherConfig{
		BaseURL: cfg.OsuFileURL,
		Timeout: cfg.FetchTimeout,
	}, c)

	failed := 0
	for _, id := range ids {
		data, err := fetcher.Fetch(ctx, id)
		if err != nil {
			fmt.Printf("  ✗ %d: %v\n", id, err)
			failed++
			continue
		}
		fmt.Printf("  ✓ %d (%s) -> %s\n", id, formatSize(int64(len(data))), beatmap.Key(id))
	}

	fmt.Println()
	fmt.Printf("Fetch complete: %d success, %d failed\n", len(ids)-failed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func cmdEvict(ctx context.Context, c *beatmap.Cache, args []string) {
	for _, id := range parseIDs("evict", args) {
		if err := c.Delete(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "Error evicting %d: %v\n", id, err)
			os.Exit(1)
		}
		fmt.Printf("Evicted: %s\n", beatmap.Key(id))
	}
}

type jsonEntry struct {
	ID       uint32 `json:"id"`
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	CachedAt string `json:"cached_at"`
}

func cmdJSON(ctx context.Context, c *beatmap.Cache) {
	list := entries(ctx, c)

	data := struct {
		Backend string      `json:"backend"`
		Size    int64       `json:"size"`
		Count   int         `json:"count"`
		Entries []jsonEntry `json:"entries"`
	}{
		Backend: c.Backend().Type(),
		Count:   len(list),
		Entries: make([]jsonEntry, 0, len(list)),
	}

	for _, e := range list {
		data.Size += e.Size
		data.Entries = append(data.Entries, jsonEntry{
			ID:       uint32(e.ID),
			Key:      e.Key,
			Size:     e.Size,
			CachedAt: e.ModTime.Format(time.RFC3339),
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

func cmdPrefetch(serverURL string, concurrent int, args []string) {
	ids := parseIDs("prefetch", args)

	fmt.Printf("Connecting to %s...\n", serverURL)

	cl := client.New(client.Config{
		BaseURL: serverURL,
		Timeout: 60 * time.Second,
	})

	ctx := context.Background()
	if err := cl.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Server unavailable: %v\n", err)
		os.Exit(1)
	}

	raw := make([]uint32, len(ids))
	for i, id := range ids {
		raw[i] = uint32(id)
	}

	fmt.Printf("Prefetching %d beatmaps with %d concurrent requests...\n\n", len(raw), concurrent)

	successCount := 0
	failCount := 0
	for result := range cl.DetailsConcurrent(ctx, raw, concurrent) {
		if result.Err != nil {
			fmt.Printf("  ✗ %d: %v\n", result.ID, result.Err)
			failCount++
			continue
		}
		d := result.Details
		fmt.Printf("  ✓ %d %s - %s [%s] (%.2f★)\n",
			result.ID, d.Artist, d.Title, d.Version, d.Statistics.StarRating)
		successCount++
	}

	fmt.Println()
	fmt.Printf("Prefetch complete: %d success, %d failed\n", successCount, failCount)
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04:05")
}
