package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "entrybeat"

var (
	// TracksStarted counts successful track starts, entry clips and restorations included
	TracksStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tracks_started_total",
		Help:      "Tracks that became active.",
	})

	// TrackEnds counts track ends by reason
	TrackEnds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "track_ends_total",
		Help:      "Tracks that stopped being active, by end reason.",
	}, []string{"reason"})

	// QueueLength is the number of queued tracks per guild
	QueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_length",
		Help:      "Queued tracks per guild.",
	}, []string{"guild"})

	// EntrySongs counts entry clip cycles by outcome
	EntrySongs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entry_songs_total",
		Help:      "Entry clip cycles by outcome.",
	}, []string{"outcome"})

	// Tenants is the number of guilds with playback state
	Tenants = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tenants",
		Help:      "Guilds with playback state in this process.",
	})

	// StoreWriteFailures counts failed writes of the entry song store
	StoreWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_write_failures_total",
		Help:      "Failed entry song store writes.",
	})

	// StoreReadFailures counts entry song store files that could not be loaded at startup
	StoreReadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_read_failures_total",
		Help:      "Entry song store files that could not be loaded.",
	})
)

// Entry clip outcomes
const (
	OutcomePlayed    = "played"
	OutcomeRestored  = "restored"
	OutcomeStale     = "stale"
	OutcomeAbandoned = "abandoned"
	OutcomeFailed    = "failed"
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		TracksStarted,
		TrackEnds,
		QueueLength,
		EntrySongs,
		Tenants,
		StoreWriteFailures,
		StoreReadFailures,
		collectors.NewGoCollector(),
	)
}

// Handler exposes the metrics endpoint
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
