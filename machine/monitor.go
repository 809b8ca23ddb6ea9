package machine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"entrybeat/metrics"
	"entrybeat/playback"
)

// TenantMonitor periodically publishes per-guild playback gauges
type TenantMonitor struct {
	registry *playback.Registry
	interval time.Duration
	logger   *slog.Logger
	wg       *sync.WaitGroup
	cancel   context.CancelFunc
}

// NewTenantMonitor creates a new TenantMonitor instance
func NewTenantMonitor(registry *playback.Registry, interval time.Duration, wg *sync.WaitGroup) *TenantMonitor {
	return &TenantMonitor{
		registry: registry,
		interval: interval,
		logger:   slog.With("component", "tenant-monitor"),
		wg:       wg,
		cancel:   func() {},
	}
}

// Start begins monitoring until ctx is done or Stop is called
func (s *TenantMonitor) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.logger.Info("Starting tenant monitoring")

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.collect()
			case <-ctx.Done():
				s.logger.Info("Tenant monitoring stopped")
				return
			}
		}
	}()
}

// Stop stops tenant monitoring
func (s *TenantMonitor) Stop() {
	s.cancel()
}

func (s *TenantMonitor) collect() {
	var playing, connected int
	s.registry.Each(func(t *playback.Tenant) {
		if t.Scheduler.Active() != nil {
			playing++
		}
		if t.Sink.Connected() {
			connected++
		}
	})
	metrics.Tenants.Set(float64(s.registry.Len()))
	s.logger.Debug("Tenant status",
		slog.Int("tenants", s.registry.Len()),
		slog.Int("playing", playing),
		slog.Int("connected", connected))
}
