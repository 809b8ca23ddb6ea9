package machine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"entrybeat/config"
	"entrybeat/entrysong"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/snowflake/v2"
)

// commandTimeout bounds a single command, yt-dlp lookups included
const commandTimeout = time.Minute

// DiscordManager handles all Discord bot operations
type DiscordManager struct {
	config     *config.Config
	client     bot.Client
	logger     *slog.Logger
	commands   *Commands
	entrySongs *entrysong.Controller
	ctx        context.Context
}

// NewDiscordManager creates a new DiscordManager instance
func NewDiscordManager(cfg *config.Config, commands *Commands, entrySongs *entrysong.Controller) *DiscordManager {
	return &DiscordManager{
		config:     cfg,
		logger:     slog.With("component", "discord"),
		commands:   commands,
		entrySongs: entrySongs,
		ctx:        context.Background(),
	}
}

// Client returns the bot client, nil before Initialize
func (d *DiscordManager) Client() bot.Client {
	return d.client
}

// Initialize sets up the Discord bot client
func (d *DiscordManager) Initialize() error {
	d.logger.Info("Initializing Discord client")

	client, err := disgo.New(d.config.Discord.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(gateway.IntentGuilds|gateway.IntentGuildVoiceStates),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagVoiceStates),
		),
		// opening a voice connection waits for gateway events
		bot.WithEventManagerConfigOpts(bot.WithAsyncEventsEnabled()),
		bot.WithEventListenerFunc(d.commandListener),
		bot.WithEventListenerFunc(d.voiceJoinListener),
		bot.WithEventListenerFunc(d.voiceMoveListener),
	)
	if err != nil {
		return fmt.Errorf("failed to create Discord client: %w", err)
	}

	d.client = client

	// Register commands
	if _, err = client.Rest().SetGlobalCommands(client.ApplicationID(), commandDefinitions()); err != nil {
		return fmt.Errorf("failed to register Discord commands: %w", err)
	}

	d.logger.Info("Discord client initialized successfully")
	return nil
}

// Start opens the Discord gateway connection
func (d *DiscordManager) Start(ctx context.Context) error {
	d.ctx = ctx
	if err := d.client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to connect to Discord gateway: %w", err)
	}
	return nil
}

// Stop closes the Discord connection
func (d *DiscordManager) Stop() {
	if d.client != nil {
		d.client.Close(context.Background())
	}
}

// commandDefinitions returns the Discord slash commands
func commandDefinitions() []discord.ApplicationCommandCreate {
	return []discord.ApplicationCommandCreate{
		discord.SlashCommandCreate{
			Name:        "play",
			Description: "Plays a URL or search result in your voice channel",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:        "query",
					Description: "URL or search terms",
					Required:    true,
				},
			},
		},
		discord.SlashCommandCreate{Name: "skip", Description: "Skips the current track"},
		discord.SlashCommandCreate{Name: "stop", Description: "Stops playback, clears the queue and leaves"},
		discord.SlashCommandCreate{Name: "queue", Description: "Shows the queue"},
		discord.SlashCommandCreate{
			Name:        "volume",
			Description: "Shows or sets the volume",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionInt{
					Name:        "level",
					Description: "Volume from 0 to 150",
				},
			},
		},
		discord.SlashCommandCreate{Name: "join", Description: "Joins your voice channel"},
		discord.SlashCommandCreate{Name: "leave", Description: "Leaves the voice channel"},
		discord.SlashCommandCreate{
			Name:        "setentrysong",
			Description: "Sets the clip played when you join voice",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:        "url",
					Description: "http or https URL of the clip",
					Required:    true,
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        "setentrytime",
			Description: "Sets which part of your entry song is played",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionInt{
					Name:        "start",
					Description: "Start offset in seconds",
					Required:    true,
				},
				discord.ApplicationCommandOptionInt{
					Name:        "duration",
					Description: "Play time in seconds",
					Required:    true,
				},
			},
		},
		discord.SlashCommandCreate{
			Name:        "setuploadchannel",
			Description: "Sets the channel where entry clips are uploaded",
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionChannel{
					Name:         "channel",
					Description:  "Text channel for uploads, omit to clear it",
					ChannelTypes: []discord.ChannelType{discord.ChannelTypeGuildText},
				},
			},
		},
		discord.SlashCommandCreate{Name: "removeentrysong", Description: "Removes your entry song"},
		discord.SlashCommandCreate{Name: "entrysong", Description: "Shows your entry song"},
	}
}

// commandListener handles Discord slash commands
func (d *DiscordManager) commandListener(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	inv := d.invoker(event)

	ctx, cancel := context.WithTimeout(d.ctx, commandTimeout)
	defer cancel()

	d.logger.Debug("Received command",
		slog.String("command", data.CommandName()),
		slog.String("user", inv.Username))

	var r Reply
	switch data.CommandName() {
	case "play":
		d.respondDeferred(event, func() Reply { return d.commands.Play(ctx, inv, data.String("query")) })
		return
	case "skip":
		r = d.commands.Skip(inv)
	case "stop":
		r = d.commands.Stop(ctx, inv)
	case "queue":
		r = d.commands.Queue(inv)
	case "volume":
		var level *int
		if v, ok := data.OptInt("level"); ok {
			level = &v
		}
		r = d.commands.Volume(inv, level)
	case "join":
		d.respondDeferred(event, func() Reply { return d.commands.Join(ctx, inv) })
		return
	case "leave":
		r = d.commands.Leave(ctx, inv)
	case "setentrysong":
		r = d.commands.SetEntrySong(inv, data.String("url"))
	case "setentrytime":
		r = d.commands.SetEntryTime(inv, data.Int("start"), data.Int("duration"))
	case "setuploadchannel":
		var channelID *snowflake.ID
		if id, ok := data.OptSnowflake("channel"); ok {
			channelID = &id
		}
		r = d.commands.SetUploadChannel(inv, channelID)
	case "removeentrysong":
		r = d.commands.RemoveEntrySong(inv)
	case "entrysong":
		r = d.commands.EntrySong(inv)
	default:
		return
	}

	err := event.CreateMessage(discord.NewMessageCreateBuilder().
		SetContent(r.Content).
		SetEphemeral(r.Ephemeral).
		Build())
	if err != nil {
		d.logger.Error("Failed to send Discord response", slog.Any("error", err))
	}
}

// respondDeferred acknowledges the interaction first for commands that can outlast its deadline
func (d *DiscordManager) respondDeferred(event *events.ApplicationCommandInteractionCreate, run func() Reply) {
	if err := event.DeferCreateMessage(false); err != nil {
		d.logger.Error("Failed to defer Discord response", slog.Any("error", err))
		return
	}
	r := run()
	_, err := event.Client().Rest().UpdateInteractionResponse(event.ApplicationID(), event.Token(),
		discord.NewMessageUpdateBuilder().SetContent(r.Content).Build())
	if err != nil {
		d.logger.Error("Failed to update Discord response", slog.Any("error", err))
	}
}

// invoker collects the caller's identity and current voice channel
func (d *DiscordManager) invoker(event *events.ApplicationCommandInteractionCreate) Invoker {
	user := event.User()
	inv := Invoker{
		GuildID:       event.GuildID(),
		Username:      user.Username,
		Discriminator: user.Discriminator,
	}
	if inv.GuildID == nil {
		return inv
	}
	if vs, ok := event.Client().Caches().VoiceState(*inv.GuildID, user.ID); ok && vs.ChannelID != nil {
		inv.VoiceChannel = vs.ChannelID
	}
	return inv
}

func (d *DiscordManager) voiceJoinListener(event *events.GuildVoiceJoin) {
	d.onVoiceEnter(event.VoiceState.GuildID, event.VoiceState.ChannelID, event.Member.User)
}

func (d *DiscordManager) voiceMoveListener(event *events.GuildVoiceMove) {
	d.onVoiceEnter(event.VoiceState.GuildID, event.VoiceState.ChannelID, event.Member.User)
}

func (d *DiscordManager) onVoiceEnter(guildID snowflake.ID, channelID *snowflake.ID, user discord.User) {
	if channelID == nil {
		return
	}
	d.entrySongs.OnJoin(d.ctx, entrysong.Join{
		TenantID:      guildID,
		ChannelID:     *channelID,
		Username:      user.Username,
		Discriminator: user.Discriminator,
		Bot:           user.Bot,
	})
}
