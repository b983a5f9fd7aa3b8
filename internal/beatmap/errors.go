package beatmap

import (
	"errors"
	"fmt"
)

// ErrNotCached is returned by Cache.Read when no cache entry exists.
var ErrNotCached = errors.New("beatmap not cached")

// FetchKind classifies a failed download.
type FetchKind int

const (
	// KindRemoteRejected: the origin answered with a non-success status.
	KindRemoteRejected FetchKind = iota + 1
	// KindTransport: DNS, connect, timeout or body read failure.
	KindTransport
	// KindPersistFailed: the download succeeded but writing the cache entry failed.
	KindPersistFailed
	// KindEncoding: the downloaded document is not valid UTF-8.
	KindEncoding
)

func (k FetchKind) String() string {
	switch k {
	case KindRemoteRejected:
		return "remote_rejected"
	case KindTransport:
		return "transport"
	case KindPersistFailed:
		return "persist_failed"
	case KindEncoding:
		return "encoding"
	default:
		return "unknown"
	}
}

// FetchError is returned by Fetcher.Fetch.
type FetchError struct {
	ID     ID
	Kind   FetchKind
	Status int // HTTP status, set for KindRemoteRejected
	Err    error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindRemoteRejected:
		return fmt.Sprintf("download beatmap %d: origin returned status %d", e.ID, e.Status)
	case KindPersistFailed:
		return fmt.Sprintf("download beatmap %d: persist to cache: %v", e.ID, e.Err)
	case KindEncoding:
		return fmt.Sprintf("download beatmap %d: document is not valid UTF-8", e.ID)
	default:
		return fmt.Sprintf("download beatmap %d: %v", e.ID, e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// CacheError is a cache read failure other than a miss. The resolver treats
// it as fatal and does not fall back to downloading.
type CacheError struct {
	ID  ID
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("read cached beatmap %d: %v", e.ID, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// AsFetchError checks if an error is a FetchError and returns it.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
