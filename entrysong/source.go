package entrysong

import (
	"os"
	"path/filepath"
	"time"

	"entrybeat/playback"
	"entrybeat/store"
)

// Overrides is the part of the override store the controller needs
type Overrides interface {
	Get(key string) (store.OverrideConfig, bool)
	Set(key string, cfg store.OverrideConfig) error
	Remove(key string) error
}

// Source is the clip to play for one user and its playback window
type Source struct {
	// Location is a URL or a path under the uploads directory
	Location string
	Start    time.Duration
	Duration time.Duration
}

// IsURL reports whether the clip is fetched remotely
func (s Source) IsURL() bool {
	return playback.IsURL(s.Location)
}

// Finder locates entry clips from the override store and the uploads directory
type Finder struct {
	overrides       Overrides
	uploadsDir      string
	defaultDuration time.Duration
}

// NewFinder creates a finder
func NewFinder(overrides Overrides, uploadsDir string, defaultDuration time.Duration) *Finder {
	return &Finder{
		overrides:       overrides,
		uploadsDir:      uploadsDir,
		defaultDuration: defaultDuration,
	}
}

// Find returns the entry clip of a user. A configured URL is used as is; a configured file
// must exist under the uploads directory. Otherwise the uploaded "<key>.mp3" is played from
// the start for the default duration. ok is false when none of these exist.
func (f *Finder) Find(username, discriminator string) (Source, bool) {
	key := Key(username, discriminator)

	if cfg, ok := f.overrides.Get(key); ok {
		window := func(loc string) Source {
			return Source{
				Location: loc,
				Start:    time.Duration(cfg.StartSec) * time.Second,
				Duration: time.Duration(cfg.DurationSec) * time.Second,
			}
		}
		if playback.IsURL(cfg.Source) {
			return window(cfg.Source), true
		}
		if path := f.upload(cfg.Source); exists(path) {
			return window(path), true
		}
	}

	if path := f.upload(FallbackFile(username, discriminator)); exists(path) {
		return Source{Location: path, Duration: f.defaultDuration}, true
	}
	return Source{}, false
}

// ConfiguredSource returns the store value setentrytime should keep: the configured source,
// or the uploaded file name when only the upload exists.
func (f *Finder) ConfiguredSource(username, discriminator string) (string, bool) {
	key := Key(username, discriminator)
	if cfg, ok := f.overrides.Get(key); ok {
		return cfg.Source, true
	}
	name := FallbackFile(username, discriminator)
	if exists(f.upload(name)) {
		return name, true
	}
	return "", false
}

func (f *Finder) upload(name string) string {
	return filepath.Join(f.uploadsDir, filepath.Base(name))
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
