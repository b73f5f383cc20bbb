package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/semaphore"

	"github.com/kestrelwatch/kestrel/internal/conf"
	"github.com/kestrelwatch/kestrel/internal/errors"
	"github.com/kestrelwatch/kestrel/internal/httpclient"
	"github.com/kestrelwatch/kestrel/internal/logging"
)

// Resolver resolves camera source references into playable streams.
// Successful resolutions are cached by source URL with a fixed TTL.
// Thread-safe; cache locking never spans network I/O.
type Resolver struct {
	cache     *gocache.Cache
	client    *httpclient.Client
	extractor Extractor
	prober    Prober
	settings  conf.ResolverSettings
	logger    *slog.Logger
}

// New creates a Resolver. extractor and prober may be nil, in which case
// platform sources fail with ErrExtraction and probes are skipped.
func New(settings conf.ResolverSettings, client *httpclient.Client, extractor Extractor, prober Prober) *Resolver {
	ttl := settings.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Resolver{
		cache:     gocache.New(ttl, 2*ttl),
		client:    client,
		extractor: extractor,
		prober:    prober,
		settings:  settings,
		logger:    logging.ForService("resolver"),
	}
}

// Classify determines the source type of a raw camera reference.
func Classify(sourceURL string) SourceType {
	lower := strings.ToLower(sourceURL)
	switch {
	case strings.HasPrefix(lower, "rtsp://"):
		return SourceRTSP
	case strings.HasPrefix(lower, "rtmp://"), strings.HasPrefix(lower, "rtmps://"):
		return SourceRTMP
	case isPlatformChannel(lower):
		return SourcePlatformChannel
	case isPlatformLive(lower):
		return SourcePlatformLive
	case strings.Contains(lower, ".m3u8"):
		return SourceHLS
	case strings.Contains(lower, "mjpg") || strings.Contains(lower, "mjpeg"):
		return SourceMJPEG
	default:
		return SourceHTTP
	}
}

func isPlatformLive(lower string) bool {
	return strings.Contains(lower, "youtube.com/watch") ||
		strings.Contains(lower, "youtu.be/") ||
		strings.Contains(lower, "youtube.com/live/") ||
		strings.Contains(lower, "twitch.tv/")
}

func isPlatformChannel(lower string) bool {
	return strings.Contains(lower, "youtube.com/channel/") ||
		strings.Contains(lower, "youtube.com/c/") ||
		strings.Contains(lower, "youtube.com/@") ||
		strings.Contains(lower, "youtube.com/user/")
}

// Resolve turns a source reference into a playable stream. Cached entries
// within the TTL are returned without network calls unless forceRefresh.
func (r *Resolver) Resolve(ctx context.Context, sourceURL string, forceRefresh bool) (*ResolvedStream, error) {
	if sourceURL == "" {
		return nil, errors.Newf("empty source url").
			Component("resolver").
			Category(errors.CategoryValidation).
			Build()
	}

	if !forceRefresh {
		if cached, found := r.cache.Get(sourceURL); found {
			if stream, ok := cached.(*ResolvedStream); ok {
				r.logger.Debug("resolution cache hit", "url", sourceURL)
				return stream, nil
			}
		}
	}

	stream, err := r.resolve(ctx, sourceURL)
	if err != nil {
		return nil, err
	}

	r.cache.Set(sourceURL, stream, gocache.DefaultExpiration)
	return stream, nil
}

func (r *Resolver) resolve(ctx context.Context, sourceURL string) (*ResolvedStream, error) {
	sourceType := Classify(sourceURL)
	r.logger.Debug("resolving source", "url", sourceURL, "type", sourceType)

	switch sourceType {
	case SourcePlatformLive:
		return r.resolvePlatformLive(ctx, sourceURL)
	case SourcePlatformChannel:
		return r.resolveChannel(ctx, sourceURL)
	case SourceRTSP, SourceRTMP:
		return r.resolveDirect(ctx, sourceURL, sourceType), nil
	case SourceHLS, SourceMJPEG, SourceHTTP:
		return r.resolveHTTP(ctx, sourceURL, sourceType)
	default:
		return nil, errors.Newf("unsupported source type %q", sourceType).
			Component("resolver").
			Category(errors.CategoryStreamResolve).
			Build()
	}
}

// resolvePlatformLive delegates to the external extractor.
func (r *Resolver) resolvePlatformLive(ctx context.Context, pageURL string) (*ResolvedStream, error) {
	if r.extractor == nil {
		return nil, fmt.Errorf("%w: no extractor configured", ErrExtraction)
	}

	info, err := r.extractor.ExtractLive(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	if !info.IsLive {
		return nil, fmt.Errorf("%w: %s", ErrNotLive, pageURL)
	}

	return &ResolvedStream{
		SourceType: SourcePlatformLive,
		StreamURL:  info.StreamURL,
		Headers:    info.Headers,
		Format:     info.Format,
		Width:      info.Width,
		Height:     info.Height,
		FPS:        info.FPS,
		Title:      info.Title,
		ResolvedAt: time.Now(),
	}, nil
}

// resolveChannel looks up a channel's live entries and recurses into the
// first one found.
func (r *Resolver) resolveChannel(ctx context.Context, channelURL string) (*ResolvedStream, error) {
	if r.extractor == nil {
		return nil, fmt.Errorf("%w: no extractor configured", ErrExtraction)
	}

	liveURLs, err := r.extractor.ChannelLive(ctx, channelURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	if len(liveURLs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoLiveStream, channelURL)
	}

	return r.resolvePlatformLive(ctx, liveURLs[0])
}

// resolveDirect treats rtsp/rtmp URLs as already resolved, with a
// best-effort metadata probe. Probe failure is non-fatal.
func (r *Resolver) resolveDirect(ctx context.Context, streamURL string, sourceType SourceType) *ResolvedStream {
	stream := &ResolvedStream{
		SourceType: sourceType,
		StreamURL:  streamURL,
		Format:     string(sourceType),
		ResolvedAt: time.Now(),
	}

	if r.prober != nil {
		if result, err := r.prober.Probe(ctx, streamURL); err != nil {
			r.logger.Debug("stream probe failed", "url", streamURL, "error", err)
		} else {
			stream.Format = result.Format
			stream.Width = result.Width
			stream.Height = result.Height
			stream.FPS = result.FPS
		}
	}

	return stream
}

// resolveHTTP performs a lightweight HEAD existence check and classifies
// ambiguous endpoints by Content-Type.
func (r *Resolver) resolveHTTP(ctx context.Context, sourceURL string, sourceType SourceType) (*ResolvedStream, error) {
	timeout := r.settings.ProbeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := r.client.Head(probeCtx, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: HEAD %s returned %d", ErrUnreachable, sourceURL, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if sourceType == SourceHTTP {
		sourceType = classifyContentType(contentType, sourceType)
	}

	return &ResolvedStream{
		SourceType: sourceType,
		StreamURL:  sourceURL,
		Format:     contentType,
		ResolvedAt: time.Now(),
	}, nil
}

func classifyContentType(contentType string, fallback SourceType) SourceType {
	lower := strings.ToLower(contentType)
	switch {
	case strings.Contains(lower, "mpegurl"):
		return SourceHLS
	case strings.Contains(lower, "multipart/x-mixed-replace"):
		return SourceMJPEG
	default:
		return fallback
	}
}

// Invalidate removes a source from the cache.
func (r *Resolver) Invalidate(sourceURL string) {
	r.cache.Delete(sourceURL)
}

// PruneExpired removes entries past their TTL. go-cache also runs its own
// background janitor; this provides an on-demand sweep.
func (r *Resolver) PruneExpired() {
	r.cache.DeleteExpired()
}

// CachedCount returns the number of cached resolutions, for status surfaces.
func (r *Resolver) CachedCount() int {
	return r.cache.ItemCount()
}

// BatchResolve resolves many sources concurrently with a bounded worker
// pool. Individual failures are captured per URL and do not abort the batch.
func (r *Resolver) BatchResolve(ctx context.Context, urls []string, maxConcurrency int) []BatchResult {
	if maxConcurrency <= 0 {
		maxConcurrency = r.settings.MaxConcurrency
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	perURLTimeout := r.settings.ResolveTimeout
	if perURLTimeout <= 0 {
		perURLTimeout = 30 * time.Second
	}

	results := make([]BatchResult, len(urls))
	sem := semaphore.NewWeighted(int64(maxConcurrency))
	var wg sync.WaitGroup

	for i, sourceURL := range urls {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = BatchResult{URL: sourceURL, Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, sourceURL string) {
			defer wg.Done()
			defer sem.Release(1)

			resolveCtx, cancel := context.WithTimeout(ctx, perURLTimeout)
			defer cancel()

			stream, err := r.Resolve(resolveCtx, sourceURL, false)
			results[i] = BatchResult{URL: sourceURL, Stream: stream, Err: err}
		}(i, sourceURL)
	}

	wg.Wait()
	return results
}

// Hostname extracts the host of a source URL for logging, empty on parse
// failure.
func Hostname(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
