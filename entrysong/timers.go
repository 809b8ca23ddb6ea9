package entrysong

import (
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Timer is a pending callback that can be cancelled
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks; it is replaced in tests
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock is backed by time.AfterFunc
var RealClock Clock = realClock{}

type pendingTimer struct {
	token uint64
	timer Timer
}

// Timers holds at most one pending restoration per tenant on a shared clock
type Timers struct {
	mu      sync.Mutex
	clock   Clock
	pending map[snowflake.ID]*pendingTimer
}

// NewTimers creates an empty timer set
func NewTimers(clock Clock) *Timers {
	return &Timers{
		clock:   clock,
		pending: make(map[snowflake.ID]*pendingTimer),
	}
}

// Schedule runs f after d for the cycle identified by token, replacing the callback pending
// for tenant. A callback of an older cycle never replaces a newer one; Schedule then drops
// f and returns false.
func (t *Timers) Schedule(tenant snowflake.ID, token uint64, d time.Duration, f func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.pending[tenant]; ok {
		if old.token > token {
			return false
		}
		old.timer.Stop()
	}

	p := &pendingTimer{token: token}
	t.pending[tenant] = p
	p.timer = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if t.pending[tenant] == p {
			delete(t.pending, tenant)
		}
		t.mu.Unlock()
		f()
	})
	return true
}

// Cancel drops the callback pending for tenant, if any
func (t *Timers) Cancel(tenant snowflake.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.pending[tenant]; ok {
		p.timer.Stop()
		delete(t.pending, tenant)
	}
}

// StopAll cancels every pending callback
func (t *Timers) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, p := range t.pending {
		p.timer.Stop()
		delete(t.pending, id)
	}
}

// Pending returns the number of scheduled callbacks
func (t *Timers) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
