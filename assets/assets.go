package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
)

// SampleRate is the rate every clip is resampled to before caching
const SampleRate beep.SampleRate = 48000

// frameSamples is one 20ms frame per channel
const frameSamples = 960

// Clip is a decoded uploaded mp3 held in memory
type Clip struct {
	Buffer *beep.Buffer
	Format beep.Format
}

// Duration returns the clip length
func (c *Clip) Duration() time.Duration {
	return c.Format.SampleRate.D(c.Buffer.Len())
}

// Frames returns a PCM frame source starting at from
func (c *Clip) Frames(from time.Duration) *ClipFrames {
	start := min(c.Format.SampleRate.N(from), c.Buffer.Len())
	return &ClipFrames{
		streamer: c.Buffer.Streamer(start, c.Buffer.Len()),
		samples:  make([][2]float64, frameSamples),
	}
}

// ClipFrames yields interleaved stereo s16 frames from a Clip
type ClipFrames struct {
	streamer beep.Streamer
	samples  [][2]float64
}

func (f *ClipFrames) ProvidePCMFrame() ([]int16, error) {
	n, ok := f.streamer.Stream(f.samples)
	if !ok || n == 0 {
		return nil, io.EOF
	}

	frame := make([]int16, frameSamples*2)
	for i := 0; i < n; i++ {
		frame[i*2] = toInt16(f.samples[i][0])
		frame[i*2+1] = toInt16(f.samples[i][1])
	}
	return frame, nil
}

func (f *ClipFrames) Close() {}

func toInt16(v float64) int16 {
	switch {
	case v >= 1:
		return 32767
	case v <= -1:
		return -32768
	}
	return int16(v * 32767)
}

// ClipCache decodes uploaded clips on first use and keeps them until the file changes
type ClipCache struct {
	mu     sync.RWMutex
	dir    string
	clips  map[string]*Clip
	logger *slog.Logger
}

// NewClipCache creates an empty cache for the clips under dir
func NewClipCache(dir string) *ClipCache {
	return &ClipCache{
		dir:    dir,
		clips:  make(map[string]*Clip),
		logger: slog.With("component", "clip-cache"),
	}
}

// Dir returns the watched uploads directory
func (c *ClipCache) Dir() string {
	return c.dir
}

// Get returns the decoded clip at path, decoding it when it is not cached.
// A missing file yields an error matching os.ErrNotExist.
func (c *ClipCache) Get(path string) (*Clip, error) {
	path = filepath.Clean(path)

	c.mu.RLock()
	clip, ok := c.clips[path]
	c.mu.RUnlock()
	if ok {
		return clip, nil
	}

	clip, err := decode(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.clips[path] = clip
	c.mu.Unlock()

	c.logger.Debug("Decoded clip",
		slog.String("path", path),
		slog.Duration("duration", clip.Duration()))
	return clip, nil
}

// Invalidate drops the cached decode of path
func (c *ClipCache) Invalidate(path string) {
	path = filepath.Clean(path)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.clips[path]; ok {
		delete(c.clips, path)
		c.logger.Debug("Invalidated clip", slog.String("path", path))
	}
}

// Len returns the number of cached clips
func (c *ClipCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clips)
}

// Watch invalidates cached clips when their files change until ctx is done
func (c *ClipCache) Watch(ctx context.Context) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create uploads directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.dir, err)
	}
	c.logger.Info("Watching uploads", slog.String("dir", c.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				c.Invalidate(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("Uploads watcher error", slog.Any("error", err))
		}
	}
}

func decode(path string) (*Clip, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open clip %s: %w", path, err)
	}

	streamer, format, err := mp3.Decode(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to decode MP3 %s: %w", path, err)
	}
	defer streamer.Close()

	var source beep.Streamer = streamer
	if format.SampleRate != SampleRate {
		source = beep.Resample(4, format.SampleRate, SampleRate, streamer)
	}

	target := beep.Format{SampleRate: SampleRate, NumChannels: 2, Precision: 2}
	buffer := beep.NewBuffer(target)
	buffer.Append(source)
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("failed to decode MP3 %s: %w", path, err)
	}
	if buffer.Len() == 0 {
		return nil, errors.New("clip is empty")
	}

	return &Clip{Buffer: buffer, Format: target}, nil
}
