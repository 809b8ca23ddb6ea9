package entrysong

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"entrybeat/playback"
	"entrybeat/resolver"
	"entrybeat/store"

	"github.com/disgoorg/snowflake/v2"
)

const guild snowflake.ID = 42

type fakeSink struct {
	mu        sync.Mutex
	connected bool
	connects  []snowflake.ID
	current   *playback.Track
	started   []*playback.Track
	connErr   error
}

func (s *fakeSink) Start(track *playback.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = track
	s.started = append(s.started, track)
	return nil
}

func (s *fakeSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

func (s *fakeSink) SetVolume(int) {}

func (s *fakeSink) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSink) Connect(_ context.Context, channelID snowflake.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connErr != nil {
		return s.connErr
	}
	s.connected = true
	s.connects = append(s.connects, channelID)
	return nil
}

func (s *fakeSink) Disconnect(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

func (s *fakeSink) playing() *playback.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

type clipInfo struct {
	title    string
	duration time.Duration
	err      error
	block    bool
}

type fakeResolver struct {
	clips map[string]clipInfo
}

func (r *fakeResolver) Resolve(ctx context.Context, location string) (*playback.Track, error) {
	info, ok := r.clips[location]
	if !ok {
		return nil, resolver.ErrNoMatches
	}
	if info.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if info.err != nil {
		return nil, info.err
	}
	return playback.NewTrack(location, location, info.title, info.duration, playback.KindStream), nil
}

type harness struct {
	sink       *fakeSink
	registry   *playback.Registry
	overrides  *store.OverrideStore
	resolver   *fakeResolver
	clock      *fakeClock
	controller *Controller
	uploads    string
}

func newHarness(t *testing.T, policy ReconnectPolicy) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		sink:      &fakeSink{},
		overrides: store.NewOverrideStore(filepath.Join(dir, "entry-songs.json")),
		resolver:  &fakeResolver{clips: make(map[string]clipInfo)},
		clock:     &fakeClock{},
		uploads:   filepath.Join(dir, "uploads"),
	}
	if err := os.MkdirAll(h.uploads, 0o755); err != nil {
		t.Fatal(err)
	}
	h.registry = playback.NewRegistry(func(snowflake.ID, playback.EndFunc) playback.Sink {
		return h.sink
	}, playback.DefaultVolume)
	h.controller = NewController(h.registry, h.overrides, h.resolver, h.clock, Config{
		UploadsDir:      h.uploads,
		DefaultDuration: 7 * time.Second,
		Reconnect:       policy,
	})
	t.Cleanup(h.controller.Close)
	return h
}

func (h *harness) setOverride(t *testing.T, user, source string, start, duration int) {
	t.Helper()
	err := h.overrides.Set(Key(user, "0"), store.OverrideConfig{Source: source, StartSec: start, DurationSec: duration})
	if err != nil {
		t.Fatal(err)
	}
}

// playing starts a long track and moves it to position
func (h *harness) playing(title string, position time.Duration) *playback.Track {
	track := playback.NewTrack("https://example.com/"+title, "", title, 10*time.Minute, playback.KindStream)
	h.registry.Get(guild).Scheduler.EnqueueOrStart(track)
	track.SetPosition(position)
	return track
}

func (h *harness) join(user string) {
	h.controller.OnJoin(context.Background(), Join{TenantID: guild, ChannelID: 7, Username: user, Discriminator: "0"})
	h.controller.Wait()
}

func (h *harness) active() *playback.Track {
	return h.registry.Get(guild).Scheduler.Active()
}

func TestEntrySongRestoresInterruptedTrack(t *testing.T) {
	h := newHarness(t, ReconnectIfDisconnected)
	h.setOverride(t, "alice", "https://example.com/clip", 5, 3)
	h.resolver.clips["https://example.com/clip"] = clipInfo{title: "clip", duration: time.Minute}
	x := h.playing("x", 42*time.Second)

	h.join("alice")

	clip := h.sink.playing()
	if clip == nil || clip.Title != "clip" {
		t.Fatalf("sink playing %v, want clip", clip)
	}
	if clip.Position() != 5*time.Second {
		t.Errorf("clip position = %v, want 5s", clip.Position())
	}
	timers := h.clock.scheduled()
	if len(timers) != 1 || timers[0].d != 3*time.Second {
		t.Fatalf("restoration timers = %v, want one of 3s", timers)
	}

	h.clock.fire()

	restored := h.active()
	if restored == nil || restored.ID != x.ID {
		t.Fatalf("active after restore = %v, want x", restored)
	}
	if restored.Position() != 42*time.Second {
		t.Errorf("restored position = %v, want 42s", restored.Position())
	}
	if got := h.sink.playing(); got == nil || got.Position() != 42*time.Second {
		t.Errorf("sink resumed at %v, want 42s", got)
	}
}

func TestEntrySongOnIdleTenant(t *testing.T) {
	h := newHarness(t, ReconnectIfDisconnected)
	h.setOverride(t, "alice", "https://example.com/clip", 0, 7)
	h.resolver.clips["https://example.com/clip"] = clipInfo{title: "clip", duration: time.Minute}

	h.join("alice")

	if len(h.sink.connects) != 1 || h.sink.connects[0] != 7 {
		t.Errorf("connects = %v, want [7]", h.sink.connects)
	}
	if a := h.active(); a == nil || a.Title != "clip" {
		t.Fatalf("active = %v, want clip", a)
	}

	h.clock.fire()
	if a := h.active(); a != nil {
		t.Errorf("active = %q after restore, want idle", a.Title)
	}
}

func TestSecondJoinSupersedesFirstRestoration(t *testing.T) {
	h := newHarness(t, ReconnectIfDisconnected)
	h.setOverride(t, "alice", "https://example.com/a", 0, 7)
	h.setOverride(t, "bob", "https://example.com/b", 0, 7)
	h.resolver.clips["https://example.com/a"] = clipInfo{title: "clip-a", duration: time.Minute}
	h.resolver.clips["https://example.com/b"] = clipInfo{title: "clip-b", duration: time.Minute}
	x := h.playing("x", 30*time.Second)

	h.join("alice")
	h.join("bob")

	timers := h.clock.scheduled()
	if len(timers) != 2 {
		t.Fatalf("scheduled %d timers, want 2", len(timers))
	}

	// the first restoration firing late must not touch the second clip
	timers[0].f()
	if a := h.active(); a == nil || a.Title != "clip-b" {
		t.Fatalf("active = %v after stale restoration, want clip-b", a)
	}

	timers[1].f()
	restored := h.active()
	if restored == nil || restored.ID != x.ID || restored.Position() != 30*time.Second {
		t.Errorf("active = %v after restoration, want x at 30s", restored)
	}
}

func TestLateRestorationOfOlderCycle(t *testing.T) {
	h := newHarness(t, ReconnectIfDisconnected)
	x := h.playing("x", 30*time.Second)
	tenant := h.registry.Get(guild)
	scheduler := tenant.Scheduler

	t1 := scheduler.Interrupt()
	if err := scheduler.PlayInterruption(t1, playback.NewTrack("a", "", "clip-a", time.Minute, playback.KindStream)); err != nil {
		t.Fatal(err)
	}
	t2 := scheduler.Interrupt()
	if err := scheduler.PlayInterruption(t2, playback.NewTrack("b", "", "clip-b", time.Minute, playback.KindStream)); err != nil {
		t.Fatal(err)
	}

	// the first cycle arms its restoration after the second one did
	h.controller.scheduleRestore(tenant, t2, 7*time.Second, h.controller.logger)
	h.controller.scheduleRestore(tenant, t1, 7*time.Second, h.controller.logger)

	if n := h.clock.fire(); n != 1 {
		t.Fatalf("fired %d restorations, want 1", n)
	}
	restored := h.active()
	if restored == nil || restored.ID != x.ID || restored.Position() != 30*time.Second {
		t.Fatalf("active = %v, want x at 30s", restored)
	}

	// out of the clip window, the queue works again
	if scheduler.EnqueueOrStart(playback.NewTrack("y", "", "y", time.Minute, playback.KindStream)) {
		t.Errorf("EnqueueOrStart() started y over x")
	}
	scheduler.Skip()
	if a := h.active(); a == nil || a.Title != "y" {
		t.Errorf("active = %v after skip, want y", a)
	}
}

func TestStopCancelsRestoration(t *testing.T) {
	h := newHarness(t, ReconnectIfDisconnected)
	h.setOverride(t, "alice", "https://example.com/clip", 0, 7)
	h.resolver.clips["https://example.com/clip"] = clipInfo{title: "clip", duration: time.Minute}
	h.playing("x", 30*time.Second)

	h.join("alice")
	h.controller.Cancel(guild)
	h.registry.Get(guild).Scheduler.Stop()

	if n := h.clock.fire(); n != 0 {
		t.Errorf("%d restorations fired after cancel", n)
	}
	if a := h.active(); a != nil {
		t.Errorf("active = %q after stop, want idle", a.Title)
	}
}

func TestRemoveEntrySong(t *testing.T) {
	h := newHarness(t, ReconnectIfDisconnected)
	if h.controller.RemoveEntrySong("alice", "0") {
		t.Errorf("RemoveEntrySong() without an entry song = true")
	}

	h.setOverride(t, "alice", "https://example.com/a", 0, 7)
	if err := os.WriteFile(filepath.Join(h.uploads, FallbackFile("alice", "0")), []byte("mp3"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !h.controller.RemoveEntrySong("alice", "0") {
		t.Fatalf("RemoveEntrySong() = false")
	}
	if _, ok := h.overrides.Get("alice#0"); ok {
		t.Errorf("override still stored")
	}
	src, ok := h.controller.EntrySong("alice", "0")
	if !ok || src.Location != filepath.Join(h.uploads, "alice#0.mp3") {
		t.Errorf("EntrySong() = %+v, %v, want the uploaded clip", src, ok)
	}
}

func TestEntrySongStartPastEnd(t *testing.T) {
	h := newHarness(t, ReconnectIfDisconnected)
	h.setOverride(t, "alice", "https://example.com/short", 12, 5)
	h.resolver.clips["https://example.com/short"] = clipInfo{title: "short", duration: 10 * time.Second}
	x := h.playing("x", time.Minute)

	h.join("alice")

	if h.sink.playing() != x || len(h.sink.started) != 1 {
		t.Errorf("interrupted track was replaced or restarted")
	}
	if len(h.clock.scheduled()) != 0 {
		t.Errorf("restoration scheduled for an abandoned clip")
	}
}

func TestEntrySongUnknownDurationSkipsOffsetCheck(t *testing.T) {
	h := newHarness(t, ReconnectIfDisconnected)
	h.setOverride(t, "alice", "https://example.com/live", 120, 5)
	h.resolver.clips["https://example.com/live"] = clipInfo{title: "live"}

	h.join("alice")

	if a := h.active(); a == nil || a.Title != "live" {
		t.Errorf("active = %v, want live", a)
	}
}

func TestEntrySongNoSource(t *testing.T) {
	h := newHarness(t, ReconnectIfDisconnected)

	h.join("nobody")

	if h.registry.Len() != 0 {
		t.Errorf("tenant created for a user without entry song")
	}
	if len(h.sink.connects) != 0 {
		t.Errorf("connected for a user without entry song")
	}
}

func TestEntrySongResolutionFailure(t *testing.T) {
	tests := []struct {
		name string
		info clipInfo
	}{
		{name: "load failed", info: clipInfo{err: resolver.ErrLoadFailed}},
		{name: "no matches", info: clipInfo{err: resolver.ErrNoMatches}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, ReconnectIfDisconnected)
			h.setOverride(t, "alice", "https://example.com/broken", 0, 7)
			h.resolver.clips["https://example.com/broken"] = tt.info
			x := h.playing("x", 10*time.Second)
			h.registry.Get(guild).Scheduler.EnqueueOrStart(playback.NewTrack("y", "", "y", time.Minute, playback.KindStream))

			h.join("alice")

			if h.sink.playing() != x || len(h.sink.started) != 1 {
				t.Errorf("playback changed after failed resolution")
			}
			if q := h.registry.Get(guild).Scheduler.Queue(); len(q) != 1 || q[0].Title != "y" {
				t.Errorf("queue changed after failed resolution")
			}
			if x.Position() != 10*time.Second {
				t.Errorf("position = %v, want 10s", x.Position())
			}
		})
	}
}

func TestFailedSecondJoinRestoresFirstCycle(t *testing.T) {
	h := newHarness(t, ReconnectIfDisconnected)
	h.setOverride(t, "alice", "https://example.com/a", 0, 7)
	h.setOverride(t, "bob", "https://example.com/broken", 0, 7)
	h.resolver.clips["https://example.com/a"] = clipInfo{title: "clip-a", duration: time.Minute}
	h.resolver.clips["https://example.com/broken"] = clipInfo{err: resolver.ErrLoadFailed}
	x := h.playing("x", 30*time.Second)

	h.join("alice")
	h.join("bob")

	if a := h.active(); a == nil || a.ID != x.ID {
		t.Errorf("active = %v, want x restored", a)
	}
}

func TestSupersededResolutionIsCancelled(t *testing.T) {
	h := newHarness(t, ReconnectIfDisconnected)
	h.setOverride(t, "alice", "https://example.com/slow", 0, 7)
	h.setOverride(t, "bob", "https://example.com/b", 0, 7)
	h.resolver.clips["https://example.com/slow"] = clipInfo{block: true}
	h.resolver.clips["https://example.com/b"] = clipInfo{title: "clip-b", duration: time.Minute}

	h.controller.OnJoin(context.Background(), Join{TenantID: guild, ChannelID: 7, Username: "alice", Discriminator: "0"})
	h.join("bob")

	if a := h.active(); a == nil || a.Title != "clip-b" {
		t.Errorf("active = %v, want clip-b", a)
	}
}

func TestBotJoinIgnored(t *testing.T) {
	h := newHarness(t, ReconnectIfDisconnected)
	h.setOverride(t, "robot", "https://example.com/clip", 0, 7)
	h.resolver.clips["https://example.com/clip"] = clipInfo{title: "clip", duration: time.Minute}

	h.controller.OnJoin(context.Background(), Join{TenantID: guild, ChannelID: 7, Username: "robot", Discriminator: "0", Bot: true})
	h.controller.Wait()

	if h.registry.Len() != 0 {
		t.Errorf("bot join created a tenant")
	}
}

func TestReconnectPolicy(t *testing.T) {
	tests := []struct {
		policy       ReconnectPolicy
		wantConnects int
	}{
		{policy: ReconnectIfDisconnected, wantConnects: 0},
		{policy: ReconnectAlways, wantConnects: 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			h := newHarness(t, tt.policy)
			h.sink.connected = true
			h.setOverride(t, "alice", "https://example.com/clip", 0, 7)
			h.resolver.clips["https://example.com/clip"] = clipInfo{title: "clip", duration: time.Minute}

			h.join("alice")

			if len(h.sink.connects) != tt.wantConnects {
				t.Errorf("connects = %d, want %d", len(h.sink.connects), tt.wantConnects)
			}
		})
	}
}

func TestConnectFailureIsNoOp(t *testing.T) {
	h := newHarness(t, ReconnectIfDisconnected)
	h.sink.connErr = errors.New("missing permissions")
	h.setOverride(t, "alice", "https://example.com/clip", 0, 7)
	h.resolver.clips["https://example.com/clip"] = clipInfo{title: "clip", duration: time.Minute}

	h.join("alice")

	if h.active() != nil || len(h.clock.scheduled()) != 0 {
		t.Errorf("entry song played without a voice connection")
	}
}

func TestFallbackUpload(t *testing.T) {
	h := newHarness(t, ReconnectIfDisconnected)
	path := filepath.Join(h.uploads, "carol#0.mp3")
	if err := os.WriteFile(path, []byte("mp3"), 0o644); err != nil {
		t.Fatal(err)
	}
	h.resolver.clips[path] = clipInfo{title: "carol", duration: time.Minute}

	h.join("carol")

	if a := h.active(); a == nil || a.Title != "carol" {
		t.Fatalf("active = %v, want uploaded clip", a)
	}
	if timers := h.clock.scheduled(); len(timers) != 1 || timers[0].d != 7*time.Second {
		t.Errorf("fallback clip window = %v, want 7s", timers)
	}
}

func TestFinder(t *testing.T) {
	h := newHarness(t, ReconnectIfDisconnected)
	for _, name := range []string{"dave#0.mp3", "custom.mp3"} {
		if err := os.WriteFile(filepath.Join(h.uploads, name), []byte("mp3"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	h.setOverride(t, "erin", "custom.mp3", 3, 4)
	h.setOverride(t, "dave", "missing.mp3", 3, 4)
	h.setOverride(t, "frank", "https://example.com/f", 1, 2)

	tests := []struct {
		user     string
		wantOK   bool
		wantLoc  string
		wantWin  [2]time.Duration
		isRemote bool
	}{
		{user: "erin", wantOK: true, wantLoc: filepath.Join(h.uploads, "custom.mp3"), wantWin: [2]time.Duration{3 * time.Second, 4 * time.Second}},
		{user: "dave", wantOK: true, wantLoc: filepath.Join(h.uploads, "dave#0.mp3"), wantWin: [2]time.Duration{0, 7 * time.Second}},
		{user: "frank", wantOK: true, wantLoc: "https://example.com/f", wantWin: [2]time.Duration{time.Second, 2 * time.Second}, isRemote: true},
		{user: "gina", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			src, ok := h.controller.EntrySong(tt.user, "0")
			if ok != tt.wantOK {
				t.Fatalf("EntrySong() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if src.Location != tt.wantLoc || src.Start != tt.wantWin[0] || src.Duration != tt.wantWin[1] {
				t.Errorf("EntrySong() = %+v, want %s %v", src, tt.wantLoc, tt.wantWin)
			}
			if src.IsURL() != tt.isRemote {
				t.Errorf("IsURL() = %v, want %v", src.IsURL(), tt.isRemote)
			}
		})
	}
}

func TestSetEntrySong(t *testing.T) {
	h := newHarness(t, ReconnectIfDisconnected)

	if _, err := h.controller.SetEntrySong("alice", "0", "ftp://example.com/a"); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("SetEntrySong(ftp) error = %v, want ErrInvalidURL", err)
	}

	cfg, err := h.controller.SetEntrySong("alice", "0", "https://example.com/a")
	if err != nil {
		t.Fatalf("SetEntrySong() error = %v", err)
	}
	want := store.OverrideConfig{Source: "https://example.com/a", StartSec: 0, DurationSec: 7}
	if cfg != want {
		t.Errorf("SetEntrySong() = %+v, want %+v", cfg, want)
	}
	if got, _ := h.overrides.Get("alice#0"); got != want {
		t.Errorf("stored %+v, want %+v", got, want)
	}
}

func TestSetEntryTime(t *testing.T) {
	h := newHarness(t, ReconnectIfDisconnected)

	tests := []struct {
		name     string
		start    int
		duration int
		wantErr  error
	}{
		{name: "negative start", start: -1, duration: 5, wantErr: ErrInvalidRange},
		{name: "zero duration", start: 0, duration: 0, wantErr: ErrInvalidRange},
		{name: "nothing configured", start: 1, duration: 5, wantErr: ErrNoEntrySong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.controller.SetEntryTime("alice", "0", tt.start, tt.duration); !errors.Is(err, tt.wantErr) {
				t.Errorf("SetEntryTime() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("keeps the configured source", func(t *testing.T) {
		h.setOverride(t, "alice", "https://example.com/a", 0, 7)
		cfg, err := h.controller.SetEntryTime("alice", "0", 10, 4)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Source != "https://example.com/a" || cfg.StartSec != 10 || cfg.DurationSec != 4 {
			t.Errorf("SetEntryTime() = %+v", cfg)
		}
	})

	t.Run("falls back to the uploaded file", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(h.uploads, "bob#0.mp3"), []byte("mp3"), 0o644); err != nil {
			t.Fatal(err)
		}
		cfg, err := h.controller.SetEntryTime("bob", "0", 2, 3)
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Source != "bob#0.mp3" {
			t.Errorf("source = %q, want bob#0.mp3", cfg.Source)
		}
	})
}

func TestParseReconnectPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    ReconnectPolicy
		wantErr bool
	}{
		{in: "", want: ReconnectIfDisconnected},
		{in: "if-disconnected", want: ReconnectIfDisconnected},
		{in: "always", want: ReconnectAlways},
		{in: "sometimes", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseReconnectPolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseReconnectPolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}
