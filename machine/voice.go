package machine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"entrybeat/assets"
	"entrybeat/ffmpeg"
	"entrybeat/playback"

	"github.com/disgoorg/audio/opus"
	"github.com/disgoorg/audio/pcm"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/voice"
	ffmpegaudio "github.com/disgoorg/ffmpeg-audio"
	"github.com/disgoorg/snowflake/v2"
)

// unityVolume is the level at which samples are passed through unchanged
const unityVolume = 100

// openFunc starts decoding a track from its current position
type openFunc func(track *playback.Track) (ffmpeg.FrameProvider, error)

type stream struct {
	track  *playback.Track
	source ffmpeg.FrameProvider
	frames int
}

// audioPlayer is the playback.Player half of a voice sink. It hands PCM frames of the
// active track to the opus encoder and advances the track position by one frame each time.
type audioPlayer struct {
	mu      sync.Mutex
	open    openFunc
	onEnd   playback.EndFunc
	volume  int
	current *stream
	logger  *slog.Logger
}

func newAudioPlayer(open openFunc, onEnd playback.EndFunc, logger *slog.Logger) *audioPlayer {
	return &audioPlayer{
		open:   open,
		onEnd:  onEnd,
		volume: playback.DefaultVolume,
		logger: logger,
	}
}

func (p *audioPlayer) Start(track *playback.Track) error {
	source, err := p.open(track)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", track.Title, err)
	}

	p.mu.Lock()
	old := p.current
	p.current = &stream{track: track, source: source}
	p.mu.Unlock()

	if old != nil {
		old.source.Close()
	}
	p.logger.Debug("Started track",
		slog.String("title", track.Title),
		slog.Duration("position", track.Position()))
	return nil
}

func (p *audioPlayer) Stop() {
	p.mu.Lock()
	old := p.current
	p.current = nil
	p.mu.Unlock()

	if old != nil {
		old.source.Close()
	}
}

func (p *audioPlayer) SetVolume(level int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = level
}

// Playing reports whether a track is being decoded
func (p *audioPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// ProvidePCMFrame returns the next frame of the active track, or silence while idle
func (p *audioPlayer) ProvidePCMFrame() ([]int16, error) {
	p.mu.Lock()
	cur := p.current
	volume := p.volume
	p.mu.Unlock()

	if cur == nil {
		return silence(), nil
	}

	// read without the lock, Start and Stop must not wait for a slow stream
	frame, err := cur.source.ProvidePCMFrame()

	p.mu.Lock()
	if p.current != cur {
		p.mu.Unlock()
		return silence(), nil
	}
	if err != nil {
		p.current = nil
		p.mu.Unlock()
		cur.source.Close()

		reason := playback.FinishedNaturally
		switch {
		case !errors.Is(err, io.EOF):
			p.logger.Warn("Failed to decode track",
				slog.String("title", cur.track.Title),
				slog.Any("error", err))
			reason = playback.LoadFailed
		case cur.frames == 0:
			p.logger.Warn("Track ended before producing audio", slog.String("title", cur.track.Title))
			reason = playback.LoadFailed
		}
		go p.onEnd(cur.track, reason)
		return silence(), nil
	}
	cur.frames++
	p.mu.Unlock()

	cur.track.Advance(ffmpeg.FrameDuration)
	scale(frame, volume)
	return frame, nil
}

// Close is called by the opus provider when the voice connection goes away
func (p *audioPlayer) Close() {}

func silence() []int16 {
	return make([]int16, ffmpeg.FrameSamples*ffmpeg.Channels)
}

// scale applies a volume level in percent to frame in place
func scale(frame []int16, volume int) {
	if volume == unityVolume {
		return
	}
	for i, s := range frame {
		v := int32(s) * int32(volume) / unityVolume
		frame[i] = int16(max(math.MinInt16, min(math.MaxInt16, v)))
	}
}

// opusGate stays silent while nothing is playing so the encoder is not fed empty frames
type opusGate struct {
	player   *audioPlayer
	provider voice.OpusFrameProvider
}

func (g *opusGate) ProvideOpusFrame() ([]byte, error) {
	if !g.player.Playing() {
		return nil, nil
	}
	return g.provider.ProvideOpusFrame()
}

func (g *opusGate) Close() {
	g.provider.Close()
}

// VoiceSink is a tenant's audio output: an audioPlayer bound to a Discord voice connection
type VoiceSink struct {
	*audioPlayer

	guildID snowflake.ID
	client  func() bot.Client
	logger  *slog.Logger

	connMu sync.Mutex
	conn   voice.Conn
}

// NewVoiceSink creates the sink of one guild. Uploaded clips are read from clips, everything
// else is decoded by ffmpeg.
func NewVoiceSink(ctx context.Context, guildID snowflake.ID, client func() bot.Client, clips *assets.ClipCache, onEnd playback.EndFunc, opts ...ffmpegaudio.ConfigOpt) *VoiceSink {
	logger := slog.With("component", "voice", slog.String("guild", guildID.String()))
	open := func(track *playback.Track) (ffmpeg.FrameProvider, error) {
		if track.Kind == playback.KindFile {
			clip, err := clips.Get(track.StreamURL)
			if err != nil {
				return nil, err
			}
			return clip.Frames(track.Position()), nil
		}
		return ffmpeg.New(ctx, track.StreamURL, track.Position(), opts...)
	}

	return &VoiceSink{
		audioPlayer: newAudioPlayer(open, onEnd, logger),
		guildID:     guildID,
		client:      client,
		logger:      logger,
	}
}

func (s *VoiceSink) Connected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn != nil
}

// Connect joins channelID, leaving the current channel first if there is one
func (s *VoiceSink) Connect(ctx context.Context, channelID snowflake.ID) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil {
		s.conn.Close(ctx)
		s.conn = nil
	}

	conn := s.client().VoiceManager().CreateConn(s.guildID)
	if err := conn.Open(ctx, channelID, false, true); err != nil {
		conn.Close(ctx)
		return fmt.Errorf("failed to open voice connection: %w", err)
	}
	if err := conn.SetSpeaking(ctx, voice.SpeakingFlagMicrophone); err != nil {
		s.logger.Warn("Failed to set speaking flag", slog.Any("error", err))
	}

	encoder, err := opus.NewEncoder(ffmpeg.SampleRate, ffmpeg.Channels, opus.ApplicationAudio)
	if err != nil {
		conn.Close(ctx)
		return fmt.Errorf("failed to create opus encoder: %w", err)
	}
	provider, err := pcm.NewOpusProvider(encoder, s.audioPlayer)
	if err != nil {
		conn.Close(ctx)
		return fmt.Errorf("failed to create opus provider: %w", err)
	}
	conn.SetOpusFrameProvider(&opusGate{player: s.audioPlayer, provider: provider})

	s.conn = conn
	s.logger.Info("Joined voice channel", slog.String("channel", channelID.String()))
	return nil
}

func (s *VoiceSink) Disconnect(ctx context.Context) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return
	}
	s.conn.Close(ctx)
	s.conn = nil
	s.logger.Info("Left voice channel")
}
