package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"entrybeat/assets"
	"entrybeat/playback"
)

// Local resolves uploaded mp3 clips through the predecoded clip cache
type Local struct {
	cache *assets.ClipCache
}

// NewLocal creates a local backend reading from cache
func NewLocal(cache *assets.ClipCache) *Local {
	return &Local{cache: cache}
}

// Owns reports whether path lies inside the uploads directory
func (l *Local) Owns(path string) bool {
	rel, err := filepath.Rel(l.cache.Dir(), filepath.Clean(path))
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (l *Local) Resolve(ctx context.Context, path string) (*playback.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clip, err := l.cache.Get(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoMatches, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return playback.NewTrack(path, path, title, clip.Duration(), playback.KindFile), nil
}
