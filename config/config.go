package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"entrybeat/playback"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Discord configuration
	Discord DiscordConfig `mapstructure:"discord"`

	// Audio decoding and playback
	Audio AudioConfig `mapstructure:"audio"`

	// Entry song behaviour
	EntrySong EntrySongConfig `mapstructure:"entrysong"`

	// Track resolution
	Resolver ResolverConfig `mapstructure:"resolver"`

	// Metrics endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// DiscordConfig holds Discord-specific configuration
type DiscordConfig struct {
	Token string `mapstructure:"token"`
}

// AudioConfig holds audio-specific configuration
type AudioConfig struct {
	FFmpegExec    string `mapstructure:"ffmpeg_exec"`
	UploadsDir    string `mapstructure:"uploads_dir"`
	DefaultVolume int    `mapstructure:"default_volume"`
}

// EntrySongConfig holds entry song configuration
type EntrySongConfig struct {
	StorePath       string        `mapstructure:"store_path"`
	DefaultDuration time.Duration `mapstructure:"default_duration"`
	Reconnect       string        `mapstructure:"reconnect"` // if-disconnected or always
}

// ResolverConfig holds yt-dlp configuration
type ResolverConfig struct {
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// MetricsConfig holds the Prometheus listener configuration
type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the endpoint
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// SetDefaults registers the default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("audio.ffmpeg_exec", "ffmpeg")
	v.SetDefault("audio.uploads_dir", "uploads")
	v.SetDefault("audio.default_volume", playback.DefaultVolume)
	v.SetDefault("entrysong.store_path", "data/entry-songs.json")
	v.SetDefault("entrysong.default_duration", "7s")
	v.SetDefault("entrysong.reconnect", "if-disconnected")
	v.SetDefault("resolver.requests_per_minute", 30)
	v.SetDefault("resolver.timeout", "30s")
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	SetDefaults(viper.GetViper())

	// Read config file
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.entrybeat")
	viper.AddConfigPath("/etc/entrybeat")

	// Allow environment variables
	viper.SetEnvPrefix("ENTRYBEAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		slog.Debug("No config file found, using defaults and environment variables")
	} else {
		slog.Info("Using config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return &ConfigError{Field: "discord.token", Message: "Discord token is required"}
	}
	if c.Audio.FFmpegExec == "" {
		return &ConfigError{Field: "audio.ffmpeg_exec", Message: "ffmpeg executable is required"}
	}
	if c.Audio.UploadsDir == "" {
		return &ConfigError{Field: "audio.uploads_dir", Message: "uploads directory is required"}
	}
	if c.Audio.DefaultVolume < 0 || c.Audio.DefaultVolume > playback.MaxVolume {
		return &ConfigError{Field: "audio.default_volume", Message: fmt.Sprintf("volume must be within 0..%d, got %d", playback.MaxVolume, c.Audio.DefaultVolume)}
	}
	if c.EntrySong.StorePath == "" {
		return &ConfigError{Field: "entrysong.store_path", Message: "entry song store path is required"}
	}
	if c.EntrySong.DefaultDuration < time.Second {
		return &ConfigError{Field: "entrysong.default_duration", Message: "default duration must be at least 1s"}
	}
	switch c.EntrySong.Reconnect {
	case "", "if-disconnected", "always":
	default:
		return &ConfigError{Field: "entrysong.reconnect", Message: "reconnect must be if-disconnected or always"}
	}
	if c.Resolver.RequestsPerMinute < 0 {
		return &ConfigError{Field: "resolver.requests_per_minute", Message: "requests per minute must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
