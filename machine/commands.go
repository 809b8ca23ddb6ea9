package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"entrybeat/entrysong"
	"entrybeat/playback"
	"entrybeat/resolver"
	"entrybeat/store"

	"github.com/disgoorg/snowflake/v2"
)

// queuePreview is the number of queued tracks listed by the queue command
const queuePreview = 10

// Reply is the text answered to a slash command
type Reply struct {
	Content   string
	Ephemeral bool
}

func reply(format string, args ...any) Reply {
	return Reply{Content: fmt.Sprintf(format, args...)}
}

func ephemeral(format string, args ...any) Reply {
	return Reply{Content: fmt.Sprintf(format, args...), Ephemeral: true}
}

// Invoker is the user running a command
type Invoker struct {
	GuildID       *snowflake.ID
	Username      string
	Discriminator string
	// VoiceChannel is the channel the user is connected to, if any
	VoiceChannel *snowflake.ID
}

var (
	replyGuildOnly = ephemeral("❌ This command can only be used in a server.")
	replyNoVoice   = ephemeral("Join a voice channel first!")
)

// Commands implements the slash commands independently of the Discord event types
type Commands struct {
	registry   *playback.Registry
	resolver   resolver.Resolver
	entrySongs *entrysong.Controller
	uploads    *store.UploadChannelStore
	logger     *slog.Logger
}

// NewCommands creates the command handlers
func NewCommands(registry *playback.Registry, r resolver.Resolver, entrySongs *entrysong.Controller, uploads *store.UploadChannelStore) *Commands {
	return &Commands{
		registry:   registry,
		resolver:   r,
		entrySongs: entrySongs,
		uploads:    uploads,
		logger:     slog.With("component", "commands"),
	}
}

// Play resolves query and starts or queues the result, joining the caller's channel when
// the bot is not connected yet.
func (c *Commands) Play(ctx context.Context, inv Invoker, query string) Reply {
	if inv.GuildID == nil {
		return replyGuildOnly
	}
	if inv.VoiceChannel == nil {
		return replyNoVoice
	}

	tenant := c.registry.Get(*inv.GuildID)
	if !tenant.Sink.Connected() {
		if err := tenant.Sink.Connect(ctx, *inv.VoiceChannel); err != nil {
			c.logger.Error("Failed to join voice channel",
				slog.String("guild", inv.GuildID.String()),
				slog.Any("error", err))
			return reply("❌ Could not join your voice channel: %v", err)
		}
	}

	var res resolver.Result
	select {
	case res = <-resolver.Async(ctx, c.resolver, query):
	case <-ctx.Done():
		return reply("Load failed: %v", ctx.Err())
	}
	if res.Err != nil {
		c.logger.Debug("Failed to resolve query",
			slog.String("query", query),
			slog.Any("error", res.Err))
		if errors.Is(res.Err, resolver.ErrNoMatches) {
			return reply("Could not find a stream for that query.")
		}
		return reply("Load failed: %v", res.Err)
	}

	if tenant.Scheduler.EnqueueOrStart(res.Track) {
		return reply("▶️ Playing: **%s**", res.Track.Title)
	}
	return reply("▶️ Queued: **%s**", res.Track.Title)
}

func (c *Commands) Skip(inv Invoker) Reply {
	if inv.GuildID == nil {
		return replyGuildOnly
	}
	c.registry.Get(*inv.GuildID).Scheduler.Skip()
	return reply("⏭ Skipping to the next track.")
}

// Stop halts playback, clears the queue and leaves the voice channel
func (c *Commands) Stop(ctx context.Context, inv Invoker) Reply {
	if inv.GuildID == nil {
		return replyGuildOnly
	}
	if tenant, ok := c.registry.Lookup(*inv.GuildID); ok {
		c.entrySongs.Cancel(tenant.ID)
		tenant.Scheduler.Stop()
		tenant.Sink.Disconnect(ctx)
	}
	return reply("⏹ Stopped and disconnected.")
}

func (c *Commands) Queue(inv Invoker) Reply {
	if inv.GuildID == nil {
		return replyGuildOnly
	}
	var queue []*playback.Track
	if tenant, ok := c.registry.Lookup(*inv.GuildID); ok {
		queue = tenant.Scheduler.Queue()
	}
	if len(queue) == 0 {
		return ephemeral("The queue is empty.")
	}

	var sb strings.Builder
	sb.WriteString("**Queue**\n")
	for i, track := range queue {
		if i == queuePreview {
			sb.WriteString("...")
			break
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, track.Title)
	}
	return reply("%s", sb.String())
}

// Volume shows the volume when level is nil and sets it otherwise
func (c *Commands) Volume(inv Invoker, level *int) Reply {
	if inv.GuildID == nil {
		return replyGuildOnly
	}
	scheduler := c.registry.Get(*inv.GuildID).Scheduler
	if level == nil {
		return reply("🔊 Current volume: **%d%%**", scheduler.Volume())
	}
	if err := scheduler.SetVolume(*level); err != nil {
		return ephemeral("⚠️ Volume must be between 0 and %d.", playback.MaxVolume)
	}
	return reply("✅ Volume set to **%d%%**.", *level)
}

// Join connects to the caller's voice channel
func (c *Commands) Join(ctx context.Context, inv Invoker) Reply {
	if inv.GuildID == nil {
		return replyGuildOnly
	}
	if inv.VoiceChannel == nil {
		return replyNoVoice
	}
	if err := c.registry.Get(*inv.GuildID).Sink.Connect(ctx, *inv.VoiceChannel); err != nil {
		c.logger.Error("Failed to join voice channel",
			slog.String("guild", inv.GuildID.String()),
			slog.Any("error", err))
		return reply("❌ Could not join your voice channel: %v", err)
	}
	return reply("🔊 Joined <#%s>.", *inv.VoiceChannel)
}

func (c *Commands) Leave(ctx context.Context, inv Invoker) Reply {
	if inv.GuildID == nil {
		return replyGuildOnly
	}
	tenant, ok := c.registry.Lookup(*inv.GuildID)
	if !ok || !tenant.Sink.Connected() {
		return ephemeral("I'm not in a voice channel.")
	}
	tenant.Sink.Disconnect(ctx)
	return reply("👋 Left the voice channel.")
}

func (c *Commands) SetEntrySong(inv Invoker, url string) Reply {
	cfg, err := c.entrySongs.SetEntrySong(inv.Username, inv.Discriminator, url)
	if err != nil {
		if errors.Is(err, entrysong.ErrInvalidURL) {
			return ephemeral("❌ The entry song must be an http or https URL.")
		}
		return ephemeral("❌ Could not set the entry song: %v", err)
	}
	return reply("🎵 Entry song set for **%s** (%ds to %ds).",
		inv.Username, cfg.StartSec, cfg.StartSec+cfg.DurationSec)
}

func (c *Commands) SetEntryTime(inv Invoker, startSec, durationSec int) Reply {
	cfg, err := c.entrySongs.SetEntryTime(inv.Username, inv.Discriminator, startSec, durationSec)
	switch {
	case errors.Is(err, entrysong.ErrInvalidRange):
		return ephemeral("❌ Start must be 0 or more and duration at least 1 second.")
	case errors.Is(err, entrysong.ErrNoEntrySong):
		return ephemeral("❌ Set an entry song or upload a clip first.")
	case err != nil:
		return ephemeral("❌ Could not set the entry time: %v", err)
	}
	return reply("⏱ Entry song will play from %ds for %ds.", cfg.StartSec, cfg.DurationSec)
}

func (c *Commands) RemoveEntrySong(inv Invoker) Reply {
	if !c.entrySongs.RemoveEntrySong(inv.Username, inv.Discriminator) {
		return ephemeral("You have no configured entry song.")
	}
	if _, ok := c.entrySongs.EntrySong(inv.Username, inv.Discriminator); ok {
		return reply("🗑 Entry song removed, your uploaded clip plays instead.")
	}
	return reply("🗑 Entry song removed.")
}

// SetUploadChannel designates the guild's clip upload channel, or clears it when channelID is nil
func (c *Commands) SetUploadChannel(inv Invoker, channelID *snowflake.ID) Reply {
	if inv.GuildID == nil {
		return replyGuildOnly
	}
	if channelID == nil {
		c.uploads.Remove(*inv.GuildID)
		return reply("📥 Upload channel cleared.")
	}
	c.uploads.Set(*inv.GuildID, *channelID)
	return reply("📥 Upload channel set to <#%s>.", *channelID)
}

// EntrySong describes the caller's current entry clip
func (c *Commands) EntrySong(inv Invoker) Reply {
	var sb strings.Builder
	src, ok := c.entrySongs.EntrySong(inv.Username, inv.Discriminator)
	if !ok {
		sb.WriteString("You have no entry song.")
	} else {
		fmt.Fprintf(&sb, "🎵 `%s` from %s for %s.", displaySource(src), src.Start, src.Duration)
	}
	if inv.GuildID != nil {
		if ch, ok := c.uploads.Get(*inv.GuildID); ok {
			fmt.Fprintf(&sb, "\nUploads go to <#%s>.", ch)
		}
	}
	return ephemeral("%s", sb.String())
}

func displaySource(src entrysong.Source) string {
	if src.IsURL() {
		return src.Location
	}
	return filepath.Base(src.Location)
}
