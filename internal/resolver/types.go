// Package resolver turns heterogeneous camera source references into
// concrete, fetchable stream endpoints, with TTL caching.
package resolver

import (
	"context"
	"errors"
	"time"
)

// SourceType classifies a camera source reference.
type SourceType string

const (
	SourcePlatformLive    SourceType = "platform_live"    // live stream page on a video platform
	SourcePlatformChannel SourceType = "platform_channel" // platform channel, search for a live entry
	SourceRTSP            SourceType = "rtsp"
	SourceRTMP            SourceType = "rtmp"
	SourceHLS             SourceType = "hls"
	SourceMJPEG           SourceType = "mjpeg"
	SourceHTTP            SourceType = "http"
)

// Sentinel errors returned by resolution. All are non-fatal to the caller,
// who should retry later or mark the camera offline.
var (
	ErrNotLive      = errors.New("target is not currently live")
	ErrNoLiveStream = errors.New("channel has no live stream")
	ErrUnreachable  = errors.New("stream endpoint is unreachable")
	ErrExtraction   = errors.New("stream extraction failed")
)

// ResolvedStream is the concrete playable endpoint for a camera source.
// Purely in-memory, cached by the original source URL.
type ResolvedStream struct {
	SourceType SourceType
	StreamURL  string
	Headers    map[string]string
	Format     string // container or stream format if known
	Width      int
	Height     int
	FPS        float64
	Title      string
	ResolvedAt time.Time
}

// LiveInfo is what a platform extractor reports for a live page.
type LiveInfo struct {
	StreamURL string
	Format    string
	Width     int
	Height    int
	FPS       float64
	Title     string
	IsLive    bool
	Headers   map[string]string
}

// Extractor resolves platform pages to playable URLs. Implemented outside
// the core by a stream-extraction tool binding.
type Extractor interface {
	// ExtractLive resolves a live stream page into a playable URL.
	ExtractLive(ctx context.Context, pageURL string) (*LiveInfo, error)
	// ChannelLive returns the URLs of currently-live entries on a channel,
	// in platform order. Empty slice means nothing is live.
	ChannelLive(ctx context.Context, channelURL string) ([]string, error)
}

// ProbeResult is best-effort stream metadata from a media prober.
type ProbeResult struct {
	Format   string
	Width    int
	Height   int
	FPS      float64
	Duration time.Duration
}

// Prober inspects a stream endpoint for metadata. Probe failures are
// non-fatal to resolution.
type Prober interface {
	Probe(ctx context.Context, streamURL string) (*ProbeResult, error)
}

// BatchResult carries the outcome of one URL in a batch resolution.
type BatchResult struct {
	URL    string
	Stream *ResolvedStream
	Err    error
}
