package playback

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind tells the sink how to decode a track
type Kind int

const (
	// KindStream is a remote stream decoded by ffmpeg
	KindStream Kind = iota
	// KindFile is a local mp3 clip decoded in process
	KindFile
)

// Track is a playable audio reference with a mutable playback position
type Track struct {
	ID        uuid.UUID
	Source    string
	StreamURL string
	Title     string
	Duration  time.Duration
	Kind      Kind

	position atomic.Int64
}

// NewTrack creates a track with a fresh identity
func NewTrack(source, streamURL, title string, duration time.Duration, kind Kind) *Track {
	return &Track{
		ID:        uuid.New(),
		Source:    source,
		StreamURL: streamURL,
		Title:     title,
		Duration:  duration,
		Kind:      kind,
	}
}

// Position returns the current playback position
func (t *Track) Position() time.Duration {
	return time.Duration(t.position.Load())
}

// SetPosition moves the playback position
func (t *Track) SetPosition(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.position.Store(int64(d))
}

// Advance moves the position forward by d and returns the new position
func (t *Track) Advance(d time.Duration) time.Duration {
	return time.Duration(t.position.Add(int64(d)))
}

// Clone returns an independent copy with the same identity and position
func (t *Track) Clone() *Track {
	c := &Track{
		ID:        t.ID,
		Source:    t.Source,
		StreamURL: t.StreamURL,
		Title:     t.Title,
		Duration:  t.Duration,
		Kind:      t.Kind,
	}
	c.position.Store(t.position.Load())
	return c
}

// Bounded reports whether the track has a known total duration
func (t *Track) Bounded() bool {
	return t.Duration > 0
}

// IsURL reports whether s is an http or https URL
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
