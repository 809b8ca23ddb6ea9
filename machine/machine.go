package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"entrybeat/assets"
	"entrybeat/config"
	"entrybeat/entrysong"
	"entrybeat/ffmpeg"
	"entrybeat/metrics"
	"entrybeat/playback"
	"entrybeat/resolver"
	"entrybeat/store"

	"github.com/disgoorg/snowflake/v2"
)

const monitorInterval = 30 * time.Second

// Machine represents the main application state
type Machine struct {
	config     *config.Config
	overrides  *store.OverrideStore
	uploads    *store.UploadChannelStore
	clips      *assets.ClipCache
	registry   *playback.Registry
	entrySongs *entrysong.Controller
	discord    *DiscordManager
	monitor    *TenantMonitor
	metrics    *http.Server
	logger     *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	errorChan  chan error
}

// New creates a new Machine instance
func New(cfg *config.Config) (*Machine, error) {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Machine{
		config:    cfg,
		overrides: store.NewOverrideStore(cfg.EntrySong.StorePath),
		uploads:   store.NewUploadChannelStore(),
		clips:     assets.NewClipCache(cfg.Audio.UploadsDir),
		logger:    slog.With("component", "machine"),
		ctx:       ctx,
		cancel:    cancel,
		errorChan: make(chan error, 10),
	}

	policy, err := entrysong.ParseReconnectPolicy(cfg.EntrySong.Reconnect)
	if err != nil {
		cancel()
		return nil, err
	}

	local := resolver.NewLocal(m.clips)
	mux := &resolver.Mux{
		Local:   local,
		Remote:  resolver.NewYtDlp(cfg.Resolver.RequestsPerMinute, cfg.Resolver.Timeout),
		IsLocal: local.Owns,
	}

	// Initialize components
	m.registry = playback.NewRegistry(m.newSink, cfg.Audio.DefaultVolume)
	m.entrySongs = entrysong.NewController(m.registry, m.overrides, mux, entrysong.RealClock, entrysong.Config{
		UploadsDir:      cfg.Audio.UploadsDir,
		DefaultDuration: cfg.EntrySong.DefaultDuration,
		Reconnect:       policy,
	})
	m.discord = NewDiscordManager(cfg, NewCommands(m.registry, mux, m.entrySongs, m.uploads), m.entrySongs)
	m.monitor = NewTenantMonitor(m.registry, monitorInterval, &m.wg)

	if cfg.Metrics.Addr != "" {
		router := http.NewServeMux()
		router.Handle("/metrics", metrics.Handler())
		m.metrics = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return m, nil
}

func (m *Machine) newSink(guildID snowflake.ID, onEnd playback.EndFunc) playback.Sink {
	return NewVoiceSink(m.ctx, guildID, m.discord.Client, m.clips, onEnd,
		ffmpeg.WithExec(m.config.Audio.FFmpegExec))
}

// Initialize sets up the machine components
func (m *Machine) Initialize() error {
	m.logger.Info("Initializing machine...")

	// an unreadable store must not keep the bot offline
	m.overrides.LoadOrEmpty()
	m.logger.Info("Loaded entry songs", slog.Int("count", m.overrides.Len()))

	// Initialize Discord client
	if err := m.discord.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize Discord: %w", err)
	}

	m.logger.Info("Machine initialized successfully")
	return nil
}

// Start begins all machine operations
func (m *Machine) Start() error {
	m.logger.Info("Starting machine operations...")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.clips.Watch(m.ctx); err != nil {
			m.logger.Error("Uploads watcher stopped", slog.Any("error", err))
		}
	}()

	if m.metrics != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.logger.Info("Serving metrics", slog.String("addr", m.metrics.Addr))
			if err := m.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.reportError(fmt.Errorf("metrics server failed: %w", err))
			}
		}()
	}

	m.monitor.Start(m.ctx)

	// Start Discord gateway
	if err := m.discord.Start(m.ctx); err != nil {
		return fmt.Errorf("failed to connect to Discord gateway: %w", err)
	}

	m.logger.Info("Machine started successfully")
	return nil
}

// Stop gracefully shuts down the machine
func (m *Machine) Stop() error {
	m.logger.Info("Stopping machine...")

	// Cancel context to stop all operations
	m.cancel()

	m.monitor.Stop()
	m.entrySongs.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m.registry.Each(func(t *playback.Tenant) {
		t.Scheduler.Stop()
		t.Sink.Disconnect(shutdownCtx)
	})

	if m.metrics != nil {
		if err := m.metrics.Shutdown(shutdownCtx); err != nil {
			m.logger.Warn("Failed to stop metrics server", slog.Any("error", err))
		}
	}

	// Close Discord connection
	m.discord.Stop()

	// Wait for all goroutines to finish
	m.wg.Wait()

	m.logger.Info("Machine stopped")
	return nil
}

// Error returns the error channel for monitoring errors
func (m *Machine) Error() <-chan error {
	return m.errorChan
}

func (m *Machine) reportError(err error) {
	m.logger.Error("Machine error", slog.Any("error", err))
	select {
	case m.errorChan <- err:
	default:
	}
}
