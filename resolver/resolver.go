package resolver

import (
	"context"
	"errors"

	"entrybeat/playback"
)

var (
	// ErrNoMatches is returned when a query or URL yields nothing playable
	ErrNoMatches = errors.New("no matches")

	// ErrLoadFailed is returned when a source exists but cannot be loaded
	ErrLoadFailed = errors.New("load failed")
)

// Resolver turns a URL, search query or uploaded file path into a playable track
type Resolver interface {
	Resolve(ctx context.Context, query string) (*playback.Track, error)
}

// Result is the outcome of an asynchronous resolution
type Result struct {
	Track *playback.Track
	Err   error
}

// Async resolves query on its own goroutine. The returned channel receives exactly one
// Result and is then closed.
func Async(ctx context.Context, r Resolver, query string) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		track, err := r.Resolve(ctx, query)
		ch <- Result{Track: track, Err: err}
	}()
	return ch
}

// Mux sends uploaded file paths to the local backend and everything else to the remote one
type Mux struct {
	Local  Resolver
	Remote Resolver
	// IsLocal reports whether a query names an uploaded file
	IsLocal func(query string) bool
}

func (m *Mux) Resolve(ctx context.Context, query string) (*playback.Track, error) {
	if !playback.IsURL(query) && m.IsLocal != nil && m.IsLocal(query) {
		return m.Local.Resolve(ctx, query)
	}
	return m.Remote.Resolve(ctx, query)
}
