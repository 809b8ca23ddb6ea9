package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"entrybeat/playback"

	"github.com/lrstanley/go-ytdlp"
	"golang.org/x/time/rate"
)

const printFormat = "%(url)s\t%(title)s\t%(duration)s"

// runFunc executes yt-dlp for target and returns its stdout
type runFunc func(ctx context.Context, target string) (string, error)

// YtDlp resolves URLs and search queries with yt-dlp. Calls are rate limited
// since every resolution spawns a process and hits the remote site.
type YtDlp struct {
	limiter *rate.Limiter
	timeout time.Duration
	run     runFunc
	logger  *slog.Logger
}

// NewYtDlp creates a backend allowing requestsPerMinute resolutions, each bounded by timeout
func NewYtDlp(requestsPerMinute int, timeout time.Duration) *YtDlp {
	return newYtDlp(requestsPerMinute, timeout, runYtDlp)
}

func newYtDlp(requestsPerMinute int, timeout time.Duration, run runFunc) *YtDlp {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
	}
	return &YtDlp{
		limiter: rate.NewLimiter(limit, 1),
		timeout: timeout,
		run:     run,
		logger:  slog.With("component", "ytdlp"),
	}
}

func runYtDlp(ctx context.Context, target string) (string, error) {
	res, err := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		Format("bestaudio/best").
		Print(printFormat).
		Run(ctx, "--no-playlist", "--skip-download", target)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// Target maps a query to the yt-dlp argument: URLs pass through, anything else is a search
func Target(query string) string {
	if playback.IsURL(query) {
		return query
	}
	return "ytsearch1:" + query
}

func (y *YtDlp) Resolve(ctx context.Context, query string) (*playback.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNoMatches
	}

	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	target := Target(query)
	out, err := y.run(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		y.logger.Debug("yt-dlp failed", slog.String("target", target), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	track, err := parse(query, out)
	if err != nil {
		return nil, err
	}
	y.logger.Debug("Resolved track",
		slog.String("query", query),
		slog.String("title", track.Title),
		slog.Duration("duration", track.Duration))
	return track, nil
}

// parse reads the first "url\ttitle\tduration" line printed by yt-dlp
func parse(source, out string) (*playback.Track, error) {
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Split(strings.TrimSpace(line), "\t")
		if len(parts) < 3 || !playback.IsURL(parts[0]) {
			continue
		}

		// live streams print NA
		duration, err := time.ParseDuration(parts[2] + "s")
		if err != nil || duration < 0 {
			duration = 0
		}
		return playback.NewTrack(source, parts[0], parts[1], duration, playback.KindStream), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoMatches, source)
}
