package ffmpeg

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	ffmpegaudio "github.com/disgoorg/ffmpeg-audio"
)

const (
	// SampleRate is the PCM rate sent to the opus encoder
	SampleRate = 48000
	// Channels is the PCM channel count sent to the opus encoder
	Channels = 2
	// FrameSamples is the number of samples per channel in one 20ms frame
	FrameSamples = 960
	// FrameDuration is the playback time covered by one frame
	FrameDuration = 20 * time.Millisecond
)

// FrameProvider yields interleaved s16 PCM frames
type FrameProvider interface {
	// ProvidePCMFrame returns the next frame or io.EOF once the input is exhausted.
	ProvidePCMFrame() ([]int16, error)

	// Close releases the decoder.
	Close()
}

var _ FrameProvider = (*AudioProvider)(nil)

// Args builds the ffmpeg command line decoding input from seek to raw PCM on stdout
func Args(input string, seek time.Duration, cfg *ffmpegaudio.Config) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}
	if seek > 0 {
		args = append(args, "-ss", strconv.FormatFloat(seek.Seconds(), 'f', 3, 64))
	}
	return append(args,
		"-i", input,
		"-vn",
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"pipe:1",
	)
}

// New starts ffmpeg decoding input, skipping the first seek of audio
func New(ctx context.Context, input string, seek time.Duration, opts ...ffmpegaudio.ConfigOpt) (*AudioProvider, error) {
	cfg := ffmpegaudio.DefaultConfig()
	cfg.Apply(opts)

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, cfg.Exec, Args(input, seek, cfg)...)
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}

	if err = cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return &AudioProvider{
		cmd:      cmd,
		pipe:     pipe,
		reader:   bufio.NewReaderSize(pipe, cfg.BufferSize),
		channels: cfg.Channels,
		cancel:   cancel,
	}, nil
}

// AudioProvider reads PCM frames from a running ffmpeg process
type AudioProvider struct {
	cmd      *exec.Cmd
	pipe     io.Closer
	reader   *bufio.Reader
	channels int
	cancel   context.CancelFunc
}

func (p *AudioProvider) ProvidePCMFrame() ([]int16, error) {
	buf := make([]byte, FrameSamples*p.channels*2)

	n, err := io.ReadFull(p.reader, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		// last partial frame, padded with silence
		clear(buf[n:])
		err = nil
	}
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("error reading PCM data: %w", err)
	}

	samples := make([]int16, len(buf)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*2 : i*2+2]))
	}
	return samples, nil
}

// Close kills ffmpeg and reaps the process
func (p *AudioProvider) Close() {
	p.cancel()
	_ = p.pipe.Close()
	_ = p.cmd.Wait()
}

// WithExec sets the ffmpeg executable
func WithExec(path string) ffmpegaudio.ConfigOpt {
	return func(cfg *ffmpegaudio.Config) {
		cfg.Exec = path
	}
}
