package main

import (
	"testing"
	"time"

	"entrybeat/config"
)

func validConfig() *config.Config {
	return &config.Config{
		Discord: config.DiscordConfig{
			Token: "test-token",
		},
		Audio: config.AudioConfig{
			FFmpegExec:    "ffmpeg",
			UploadsDir:    "uploads",
			DefaultVolume: 75,
		},
		EntrySong: config.EntrySongConfig{
			StorePath:       "data/entry-songs.json",
			DefaultDuration: 7 * time.Second,
			Reconnect:       "if-disconnected",
		},
		Resolver: config.ResolverConfig{
			RequestsPerMinute: 30,
			Timeout:           30 * time.Second,
		},
		Logging: config.LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *config.Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *config.Config) {},
			wantErr: false,
		},
		{
			name:    "missing discord token",
			modify:  func(c *config.Config) { c.Discord.Token = "" },
			wantErr: true,
		},
		{
			name:    "volume above maximum",
			modify:  func(c *config.Config) { c.Audio.DefaultVolume = 151 },
			wantErr: true,
		},
		{
			name:    "sub-second entry duration",
			modify:  func(c *config.Config) { c.EntrySong.DefaultDuration = 500 * time.Millisecond },
			wantErr: true,
		},
		{
			name:    "unknown reconnect policy",
			modify:  func(c *config.Config) { c.EntrySong.Reconnect = "never" },
			wantErr: true,
		},
		{
			name:    "missing store path",
			modify:  func(c *config.Config) { c.EntrySong.StorePath = "" },
			wantErr: true,
		},
		{
			name:    "metrics disabled",
			modify:  func(c *config.Config) { c.Metrics.Addr = "" },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
