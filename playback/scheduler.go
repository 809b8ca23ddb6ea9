package playback

import (
	"log/slog"
	"sync"

	"entrybeat/metrics"

	"github.com/disgoorg/snowflake/v2"
)

// interruption is an entry clip cycle started by Interrupt
type interruption struct {
	token    uint64
	snapshot *Track
	clip     *Track
}

// Scheduler owns the queue and the active slot of one tenant.
// Every mutation, including restore token handling, goes through mu.
type Scheduler struct {
	mu       sync.Mutex
	tenantID snowflake.ID
	player   Player
	logger   *slog.Logger

	queue  []*Track
	active *Track
	volume int

	token        uint64
	interruption *interruption
}

// NewScheduler creates an idle scheduler driving player
func NewScheduler(tenantID snowflake.ID, player Player, volume int) *Scheduler {
	if volume < 0 || volume > MaxVolume {
		volume = DefaultVolume
	}
	s := &Scheduler{
		tenantID: tenantID,
		player:   player,
		logger:   slog.With("component", "scheduler", slog.String("guild", tenantID.String())),
		volume:   volume,
	}
	player.SetVolume(volume)
	return s
}

// EnqueueOrStart starts track when nothing is active, otherwise appends it to the queue.
// A track whose start fails is queued as well. It returns true when the track started.
func (s *Scheduler) EnqueueOrStart(track *Track) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil && !s.inWindow() {
		err := s.start(track)
		if err == nil {
			s.active = track
			return true
		}
		s.logger.Warn("Failed to start track, queueing it",
			slog.String("title", track.Title),
			slog.Any("error", err))
	}

	s.queue = append(s.queue, track)
	metrics.QueueLength.WithLabelValues(s.tenantID.String()).Set(float64(len(s.queue)))
	return false
}

// Advance starts the next queued track or goes idle when the queue is empty.
// A track that fails to start is dropped and the one after it is not tried.
func (s *Scheduler) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
}

// Skip ends the active track and advances. Skipping an entry clip restores the
// interrupted track right away.
func (s *Scheduler) Skip() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inWindow() {
		in := s.interruption
		s.token++
		s.interruption = nil
		s.logger.Debug("Entry clip skipped, restoring early")
		s.restore(in.snapshot)
		return
	}

	if s.active != nil {
		metrics.TrackEnds.WithLabelValues(Skipped.String()).Inc()
	}
	s.advance()
}

// Stop halts playback, clears the queue and cancels any pending restoration
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token++
	s.interruption = nil
	s.player.Stop()
	if s.active != nil {
		metrics.TrackEnds.WithLabelValues(StoppedExplicitly.String()).Inc()
	}
	s.active = nil
	s.queue = nil
	metrics.QueueLength.WithLabelValues(s.tenantID.String()).Set(0)
}

// OnTrackEnded is the sink callback. Ends of tracks that are no longer active are ignored.
func (s *Scheduler) OnTrackEnded(track *Track, reason EndReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if track == nil || track != s.active {
		s.logger.Debug("Ignoring end of inactive track", slog.String("reason", reason.String()))
		return
	}
	metrics.TrackEnds.WithLabelValues(reason.String()).Inc()

	// the restoration timer resumes playback after an entry clip
	if s.inWindow() && track == s.interruption.clip {
		s.active = nil
		return
	}

	if reason.MayStartNext() {
		s.advance()
		return
	}
	s.active = nil
}

// SetVolume changes the volume; out of range levels are rejected without change
func (s *Scheduler) SetVolume(level int) error {
	if level < 0 || level > MaxVolume {
		return ErrInvalidVolume
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = level
	s.player.SetVolume(level)
	return nil
}

// Volume returns the current volume level
func (s *Scheduler) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Queue returns copies of the queued tracks in play order
func (s *Scheduler) Queue() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracks := make([]*Track, len(s.queue))
	for i, t := range s.queue {
		tracks[i] = t.Clone()
	}
	return tracks
}

// Active returns a copy of the active track, or nil when idle
func (s *Scheduler) Active() *Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return nil
	}
	return s.active.Clone()
}

// Token returns the current restore token generation
func (s *Scheduler) Token() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Interrupt starts an entry clip cycle: it invalidates earlier restorations and
// snapshots the active track. When an entry clip is already playing, the snapshot
// of the cycle it belongs to is carried over instead of snapshotting the clip.
func (s *Scheduler) Interrupt() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token++

	next := &interruption{token: s.token}
	switch {
	case s.inWindow():
		next.snapshot = s.interruption.snapshot
		next.clip = s.interruption.clip
	case s.active != nil:
		next.snapshot = s.active.Clone()
	}

	s.interruption = next
	return s.token
}

// Abandon ends the cycle identified by token without playing a new clip, e.g. when
// resolution failed. An earlier clip still in its window is restored right away;
// otherwise playback is left as it is. It returns false when the token is stale.
func (s *Scheduler) Abandon(token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.token || s.interruption == nil {
		return false
	}
	in := s.interruption
	s.interruption = nil
	if in.clip != nil {
		s.restore(in.snapshot)
	}
	return true
}

// PlayInterruption force-starts clip in place of the active track, bypassing the queue
func (s *Scheduler) PlayInterruption(token uint64, clip *Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.token || s.interruption == nil {
		return ErrStaleToken
	}
	if err := s.start(clip); err != nil {
		return err
	}
	if s.active != nil {
		metrics.TrackEnds.WithLabelValues(Replaced.String()).Inc()
	}
	s.active = clip
	s.interruption.clip = clip
	return nil
}

// Restore ends the entry clip cycle identified by token and resumes the snapshot at its
// captured position. It returns false when the token is stale.
func (s *Scheduler) Restore(token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.token || s.interruption == nil {
		return false
	}
	in := s.interruption
	s.interruption = nil
	s.restore(in.snapshot)
	return true
}

// inWindow reports whether an entry clip started and its restoration is still pending
func (s *Scheduler) inWindow() bool {
	return s.interruption != nil && s.interruption.clip != nil
}

func (s *Scheduler) restore(snapshot *Track) {
	if snapshot == nil {
		if s.active != nil {
			s.player.Stop()
			metrics.TrackEnds.WithLabelValues(Replaced.String()).Inc()
			s.active = nil
		}
		if len(s.queue) > 0 {
			s.advance()
		}
		return
	}

	// the clip never started, the interrupted track is still playing
	if s.active != nil && s.active.ID == snapshot.ID {
		return
	}

	if s.active != nil {
		metrics.TrackEnds.WithLabelValues(Replaced.String()).Inc()
	}
	if err := s.start(snapshot); err != nil {
		s.logger.Warn("Failed to restore interrupted track",
			slog.String("title", snapshot.Title),
			slog.Any("error", err))
		s.player.Stop()
		s.active = nil
		s.advance()
		return
	}
	s.active = snapshot
	s.logger.Debug("Restored interrupted track",
		slog.String("title", snapshot.Title),
		slog.Duration("position", snapshot.Position()))
}

func (s *Scheduler) advance() {
	defer func() {
		metrics.QueueLength.WithLabelValues(s.tenantID.String()).Set(float64(len(s.queue)))
	}()

	if len(s.queue) == 0 {
		if s.active != nil {
			s.player.Stop()
			s.active = nil
		}
		return
	}

	next := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]

	if err := s.start(next); err != nil {
		s.logger.Warn("Failed to start next track, dropping it",
			slog.String("title", next.Title),
			slog.Any("error", err))
		if s.active != nil {
			s.player.Stop()
			s.active = nil
		}
		return
	}
	s.active = next
}

func (s *Scheduler) start(track *Track) error {
	if err := s.player.Start(track); err != nil {
		metrics.TrackEnds.WithLabelValues(LoadFailed.String()).Inc()
		return err
	}
	metrics.TracksStarted.Inc()
	return nil
}
