package playback

import (
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

// Tenant bundles the scheduler and sink of one guild
type Tenant struct {
	ID        snowflake.ID
	Scheduler *Scheduler
	Sink      Sink
}

// Registry lazily creates one Tenant per guild and keeps it for the process lifetime
type Registry struct {
	mu            sync.Mutex
	tenants       map[snowflake.ID]*Tenant
	newSink       SinkFactory
	defaultVolume int
}

// NewRegistry creates an empty registry
func NewRegistry(newSink SinkFactory, defaultVolume int) *Registry {
	return &Registry{
		tenants:       make(map[snowflake.ID]*Tenant),
		newSink:       newSink,
		defaultVolume: defaultVolume,
	}
}

// Get returns the tenant for id, creating it on first use
func (r *Registry) Get(id snowflake.ID) *Tenant {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tenants[id]; ok {
		return t
	}

	var scheduler *Scheduler
	sink := r.newSink(id, func(track *Track, reason EndReason) {
		scheduler.OnTrackEnded(track, reason)
	})
	scheduler = NewScheduler(id, sink, r.defaultVolume)

	t := &Tenant{ID: id, Scheduler: scheduler, Sink: sink}
	r.tenants[id] = t
	return t
}

// Lookup returns the tenant for id without creating it
func (r *Registry) Lookup(id snowflake.ID) (*Tenant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	return t, ok
}

// Len returns the number of tenants created so far
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tenants)
}

// Each calls fn for every tenant
func (r *Registry) Each(fn func(t *Tenant)) {
	r.mu.Lock()
	tenants := make([]*Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		tenants = append(tenants, t)
	}
	r.mu.Unlock()

	for _, t := range tenants {
		fn(t)
	}
}
