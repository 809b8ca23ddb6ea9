package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/disgoorg/snowflake/v2"
)

type fakeSink struct {
	*fakePlayer
	onEnd EndFunc
}

func (s *fakeSink) Connected() bool                             { return true }
func (s *fakeSink) Connect(context.Context, snowflake.ID) error { return nil }
func (s *fakeSink) Disconnect(context.Context)                  {}

func TestRegistryCreatesOneTenantPerGuild(t *testing.T) {
	var created atomic.Int32
	r := NewRegistry(func(id snowflake.ID, onEnd EndFunc) Sink {
		created.Add(1)
		return &fakeSink{fakePlayer: newFakePlayer(), onEnd: onEnd}
	}, DefaultVolume)

	const callers = 32
	results := make([]*Tenant, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.Get(42)
		}()
	}
	wg.Wait()

	if n := created.Load(); n != 1 {
		t.Fatalf("sink factory called %d times, want 1", n)
	}
	for i, tenant := range results {
		if tenant != results[0] {
			t.Fatalf("caller %d got a different tenant", i)
		}
	}

	other := r.Get(43)
	if other == results[0] {
		t.Errorf("different guilds share a tenant")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
	if _, ok := r.Lookup(44); ok {
		t.Errorf("Lookup created or found an unknown tenant")
	}
}

func TestRegistryWiresTrackEnds(t *testing.T) {
	var sink *fakeSink
	r := NewRegistry(func(id snowflake.ID, onEnd EndFunc) Sink {
		sink = &fakeSink{fakePlayer: newFakePlayer(), onEnd: onEnd}
		return sink
	}, 100)

	tenant := r.Get(1)
	a := track("a")
	tenant.Scheduler.EnqueueOrStart(a)
	tenant.Scheduler.EnqueueOrStart(track("b"))

	sink.onEnd(a, FinishedNaturally)

	if got := activeTitle(tenant.Scheduler); got != "b" {
		t.Errorf("active = %q after natural end, want b", got)
	}
	if sink.volume != 100 {
		t.Errorf("sink volume = %d, want 100", sink.volume)
	}
}
