package entrysong

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"entrybeat/metrics"
	"entrybeat/playback"
	"entrybeat/resolver"
	"entrybeat/store"

	"github.com/disgoorg/snowflake/v2"
)

var (
	// ErrInvalidURL is returned when an entry song is not an http or https URL
	ErrInvalidURL = errors.New("entry song must be an http or https URL")

	// ErrInvalidRange is returned for a negative start or a duration below one second
	ErrInvalidRange = errors.New("start must be >= 0 and duration >= 1")

	// ErrNoEntrySong is returned when a user has neither a configured nor an uploaded clip
	ErrNoEntrySong = errors.New("no entry song configured or uploaded")
)

// ReconnectPolicy decides whether a join moves an already connected bot
type ReconnectPolicy string

const (
	// ReconnectIfDisconnected connects only when the tenant has no voice connection
	ReconnectIfDisconnected ReconnectPolicy = "if-disconnected"
	// ReconnectAlways follows every joining user into their channel
	ReconnectAlways ReconnectPolicy = "always"
)

// ParseReconnectPolicy validates a policy name
func ParseReconnectPolicy(s string) (ReconnectPolicy, error) {
	switch p := ReconnectPolicy(s); p {
	case ReconnectIfDisconnected, ReconnectAlways:
		return p, nil
	case "":
		return ReconnectIfDisconnected, nil
	default:
		return "", fmt.Errorf("unknown reconnect policy %q", s)
	}
}

// Join is a user entering a voice channel
type Join struct {
	TenantID      snowflake.ID
	ChannelID     snowflake.ID
	Username      string
	Discriminator string
	Bot           bool
}

// Config holds the controller settings
type Config struct {
	UploadsDir      string
	DefaultDuration time.Duration
	Reconnect       ReconnectPolicy
}

type resolution struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Controller plays a user's entry clip over the tenant's playback when they join voice and
// restores the interrupted track once the clip window is over.
type Controller struct {
	registry        *playback.Registry
	overrides       Overrides
	finder          *Finder
	resolver        resolver.Resolver
	timers          *Timers
	reconnect       ReconnectPolicy
	defaultDuration time.Duration
	logger          *slog.Logger

	mu        sync.Mutex
	resolving map[snowflake.ID]*resolution
	wg        sync.WaitGroup
}

// NewController creates a controller
func NewController(registry *playback.Registry, overrides Overrides, r resolver.Resolver, clock Clock, cfg Config) *Controller {
	if cfg.DefaultDuration < time.Second {
		cfg.DefaultDuration = 7 * time.Second
	}
	if cfg.Reconnect == "" {
		cfg.Reconnect = ReconnectIfDisconnected
	}
	return &Controller{
		registry:        registry,
		overrides:       overrides,
		finder:          NewFinder(overrides, cfg.UploadsDir, cfg.DefaultDuration),
		resolver:        r,
		timers:          NewTimers(clock),
		reconnect:       cfg.Reconnect,
		defaultDuration: cfg.DefaultDuration,
		logger:          slog.With("component", "entrysong"),
		resolving:       make(map[snowflake.ID]*resolution),
	}
}

// OnJoin handles a user joining a voice channel. It returns once the clip resolution has
// been started; the clip itself starts asynchronously.
func (c *Controller) OnJoin(ctx context.Context, j Join) {
	logger := c.logger.With(
		slog.String("guild", j.TenantID.String()),
		slog.String("user", j.Username))

	if j.Bot {
		logger.Debug("Ignoring bot join")
		return
	}

	src, ok := c.finder.Find(j.Username, j.Discriminator)
	if !ok {
		logger.Debug("No entry song for user")
		return
	}

	tenant := c.registry.Get(j.TenantID)
	if err := c.connect(ctx, tenant, j.ChannelID); err != nil {
		logger.Warn("Failed to join voice for entry song", slog.Any("error", err))
		metrics.EntrySongs.WithLabelValues(metrics.OutcomeFailed).Inc()
		return
	}

	token, res := c.interrupt(ctx, tenant)

	logger.Debug("Resolving entry song",
		slog.String("source", src.Location),
		slog.Duration("start", src.Start),
		slog.Duration("duration", src.Duration),
		slog.Uint64("token", token))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.endResolution(j.TenantID, res)
		c.play(res.ctx, tenant, token, src, logger)
	}()
}

func (c *Controller) connect(ctx context.Context, tenant *playback.Tenant, channelID snowflake.ID) error {
	if c.reconnect != ReconnectAlways && tenant.Sink.Connected() {
		return nil
	}
	return tenant.Sink.Connect(ctx, channelID)
}

func (c *Controller) play(ctx context.Context, tenant *playback.Tenant, token uint64, src Source, logger *slog.Logger) {
	scheduler := tenant.Scheduler

	clip, err := c.resolver.Resolve(ctx, src.Location)
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("Entry song resolution superseded", slog.Uint64("token", token))
			metrics.EntrySongs.WithLabelValues(metrics.OutcomeStale).Inc()
			return
		}
		logger.Debug("Failed to load entry song", slog.Any("error", err))
		metrics.EntrySongs.WithLabelValues(metrics.OutcomeFailed).Inc()
		scheduler.Abandon(token)
		return
	}

	// unknown durations skip the offset check
	if clip.Bounded() && src.Start >= clip.Duration {
		logger.Debug("Entry song start is past the end of the clip",
			slog.Duration("start", src.Start),
			slog.Duration("clip", clip.Duration))
		metrics.EntrySongs.WithLabelValues(metrics.OutcomeAbandoned).Inc()
		scheduler.Abandon(token)
		return
	}
	clip.SetPosition(src.Start)

	if err := scheduler.PlayInterruption(token, clip); err != nil {
		if errors.Is(err, playback.ErrStaleToken) {
			logger.Debug("Entry song superseded before it started", slog.Uint64("token", token))
			metrics.EntrySongs.WithLabelValues(metrics.OutcomeStale).Inc()
			return
		}
		logger.Debug("Failed to start entry song", slog.Any("error", err))
		metrics.EntrySongs.WithLabelValues(metrics.OutcomeFailed).Inc()
		scheduler.Abandon(token)
		return
	}
	metrics.EntrySongs.WithLabelValues(metrics.OutcomePlayed).Inc()

	c.scheduleRestore(tenant, token, src.Duration, logger)
}

// scheduleRestore arms the end of the clip window of cycle token. A cycle that lost the race
// against a newer one leaves the newer restoration in place.
func (c *Controller) scheduleRestore(tenant *playback.Tenant, token uint64, d time.Duration, logger *slog.Logger) {
	scheduler := tenant.Scheduler
	scheduled := c.timers.Schedule(tenant.ID, token, d, func() {
		if !scheduler.Restore(token) {
			logger.Debug("Skipping stale restoration", slog.Uint64("token", token))
			metrics.EntrySongs.WithLabelValues(metrics.OutcomeStale).Inc()
			return
		}
		logger.Debug("Entry song window over, playback restored")
		metrics.EntrySongs.WithLabelValues(metrics.OutcomeRestored).Inc()
	})
	if !scheduled {
		// a newer cycle already owns the restoration
		logger.Debug("Skipping stale restoration", slog.Uint64("token", token))
		metrics.EntrySongs.WithLabelValues(metrics.OutcomeStale).Inc()
	}
}

// interrupt starts a new entry clip cycle on tenant and cancels the resolution still running
// for the previous one. Both happen under mu so that the surviving resolution always holds
// the newest token. The resolution is detached from the event context so that returning
// from OnJoin does not abort it.
func (c *Controller) interrupt(parent context.Context, tenant *playback.Tenant) (uint64, *resolution) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	r := &resolution{ctx: ctx, cancel: cancel}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.resolving[tenant.ID]; ok {
		prev.cancel()
	}
	c.resolving[tenant.ID] = r
	return tenant.Scheduler.Interrupt(), r
}

func (c *Controller) endResolution(tenant snowflake.ID, r *resolution) {
	c.mu.Lock()
	if c.resolving[tenant] == r {
		delete(c.resolving, tenant)
	}
	c.mu.Unlock()
	r.cancel()
}

// SetEntrySong makes url the user's entry clip, played from the start for the default duration
func (c *Controller) SetEntrySong(username, discriminator, url string) (store.OverrideConfig, error) {
	if !playback.IsURL(url) {
		return store.OverrideConfig{}, ErrInvalidURL
	}
	cfg := store.OverrideConfig{
		Source:      url,
		StartSec:    0,
		DurationSec: int(c.defaultDuration / time.Second),
	}
	return cfg, c.save(Key(username, discriminator), cfg)
}

// SetEntryTime changes the playback window of the user's configured or uploaded clip
func (c *Controller) SetEntryTime(username, discriminator string, startSec, durationSec int) (store.OverrideConfig, error) {
	if startSec < 0 || durationSec < 1 {
		return store.OverrideConfig{}, ErrInvalidRange
	}
	source, ok := c.finder.ConfiguredSource(username, discriminator)
	if !ok {
		return store.OverrideConfig{}, ErrNoEntrySong
	}
	cfg := store.OverrideConfig{Source: source, StartSec: startSec, DurationSec: durationSec}
	return cfg, c.save(Key(username, discriminator), cfg)
}

// RemoveEntrySong drops the user's configured entry song. An uploaded clip, if any, still
// plays. It returns false when nothing was configured.
func (c *Controller) RemoveEntrySong(username, discriminator string) bool {
	key := Key(username, discriminator)
	if _, ok := c.overrides.Get(key); !ok {
		return false
	}
	if err := c.overrides.Remove(key); err != nil {
		c.logger.Warn("Entry song removed in memory only",
			slog.String("key", key),
			slog.Any("error", err))
	}
	return true
}

// Cancel abandons the entry song work of a tenant: the running resolution and the pending
// restoration. Used when playback is stopped.
func (c *Controller) Cancel(tenant snowflake.ID) {
	c.mu.Lock()
	if r, ok := c.resolving[tenant]; ok {
		r.cancel()
		delete(c.resolving, tenant)
	}
	c.mu.Unlock()

	c.timers.Cancel(tenant)
}

// EntrySong returns the clip that would play for the user right now
func (c *Controller) EntrySong(username, discriminator string) (Source, bool) {
	return c.finder.Find(username, discriminator)
}

// save stores cfg; a failed write is logged by the store and the in-memory value still applies
func (c *Controller) save(key string, cfg store.OverrideConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := c.overrides.Set(key, cfg); err != nil {
		c.logger.Warn("Entry song kept in memory only",
			slog.String("key", key),
			slog.Any("error", err))
	}
	return nil
}

// Wait blocks until every running resolution has finished
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels running resolutions and pending restorations
func (c *Controller) Close() {
	c.mu.Lock()
	for id, r := range c.resolving {
		r.cancel()
		delete(c.resolving, id)
	}
	c.mu.Unlock()

	c.timers.StopAll()
	c.wg.Wait()
}
