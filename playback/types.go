package playback

import (
	"context"
	"errors"

	"github.com/disgoorg/snowflake/v2"
)

var (
	// ErrInvalidVolume is returned when a volume level is outside [0, MaxVolume]
	ErrInvalidVolume = errors.New("volume out of range")

	// ErrStaleToken is returned when an interruption was superseded by a newer one
	ErrStaleToken = errors.New("restore token is stale")
)

const (
	// MaxVolume is the upper bound accepted by SetVolume
	MaxVolume = 150
	// DefaultVolume is the mid-point of the volume range
	DefaultVolume = MaxVolume / 2
)

// EndReason describes why a track stopped being the active one
type EndReason int

const (
	FinishedNaturally EndReason = iota
	Skipped
	LoadFailed
	StoppedExplicitly
	Replaced
)

// MayStartNext reports whether the scheduler should advance the queue after an end with this reason
func (r EndReason) MayStartNext() bool {
	switch r {
	case FinishedNaturally, Skipped, LoadFailed:
		return true
	default:
		return false
	}
}

func (r EndReason) String() string {
	switch r {
	case FinishedNaturally:
		return "finished"
	case Skipped:
		return "skipped"
	case LoadFailed:
		return "load_failed"
	case StoppedExplicitly:
		return "stopped"
	case Replaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// EndFunc receives track end notifications from a Player
type EndFunc func(track *Track, reason EndReason)

// Player delivers the audio of one track at a time.
//
// Start replaces whatever is playing. When it fails, the previous playback is left as it was.
// Implementations report FinishedNaturally and LoadFailed ends asynchronously through the
// EndFunc they were built with and must never call it from inside Start or Stop.
type Player interface {
	Start(track *Track) error
	Stop()
	SetVolume(level int)
}

// Sink is the per-tenant audio output: a Player bound to a voice connection
type Sink interface {
	Player

	// Connected reports whether the sink currently has a voice connection
	Connected() bool

	// Connect opens a voice connection to the given channel
	Connect(ctx context.Context, channelID snowflake.ID) error

	// Disconnect closes the voice connection if one is open
	Disconnect(ctx context.Context)
}

// SinkFactory builds the sink of a tenant. onEnd must be wired to the tenant's scheduler.
type SinkFactory func(tenantID snowflake.ID, onEnd EndFunc) Sink
