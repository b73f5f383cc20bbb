package resolver

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelwatch/kestrel/internal/conf"
	"github.com/kestrelwatch/kestrel/internal/httpclient"
)

// fakeExtractor serves canned platform extraction results.
type fakeExtractor struct {
	live    map[string]*LiveInfo
	channel map[string][]string
	calls   int
}

func (f *fakeExtractor) ExtractLive(_ context.Context, pageURL string) (*LiveInfo, error) {
	f.calls++
	info, ok := f.live[pageURL]
	if !ok {
		return nil, ErrExtraction
	}
	return info, nil
}

func (f *fakeExtractor) ChannelLive(_ context.Context, channelURL string) ([]string, error) {
	return f.channel[channelURL], nil
}

func testSettings() conf.ResolverSettings {
	return conf.ResolverSettings{
		CacheTTL:       time.Minute,
		ProbeTimeout:   time.Second,
		ResolveTimeout: 5 * time.Second,
		MaxConcurrency: 4,
	}
}

func newTestResolver(t *testing.T, extractor Extractor) *Resolver {
	t.Helper()
	client := httpclient.New(nil)
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return New(testSettings(), client, extractor, nil)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want SourceType
	}{
		{"rtsp://10.0.0.5:554/stream1", SourceRTSP},
		{"rtmp://media.example.com/live", SourceRTMP},
		{"https://www.youtube.com/watch?v=abc123", SourcePlatformLive},
		{"https://youtu.be/abc123", SourcePlatformLive},
		{"https://www.twitch.tv/somestreamer", SourcePlatformLive},
		{"https://www.youtube.com/@citycams/streams", SourcePlatformChannel},
		{"https://www.youtube.com/channel/UCabc", SourcePlatformChannel},
		{"https://cdn.example.com/live/index.m3u8", SourceHLS},
		{"http://cam.example.com/axis-cgi/mjpg/video.cgi", SourceMJPEG},
		{"https://example.com/feed", SourceHTTP},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.url))
		})
	}
}

func TestResolveDirectRTSP(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t, &fakeExtractor{})
	stream, err := r.Resolve(context.Background(), "rtsp://10.0.0.5:554/stream1", false)

	require.NoError(t, err)
	assert.Equal(t, SourceRTSP, stream.SourceType)
	assert.Equal(t, "rtsp://10.0.0.5:554/stream1", stream.StreamURL)
}

func TestResolveHTTPClassifiesByContentType(t *testing.T) {
	r := newTestResolver(t, &fakeExtractor{})

	httpmock.RegisterResponder(http.MethodHead, "http://cam.example.com/feed",
		func(*http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(200, "")
			resp.Header.Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
			return resp, nil
		})

	stream, err := r.Resolve(context.Background(), "http://cam.example.com/feed", false)
	require.NoError(t, err)
	assert.Equal(t, SourceMJPEG, stream.SourceType)
}

func TestResolveHTTPUnreachable(t *testing.T) {
	r := newTestResolver(t, &fakeExtractor{})

	httpmock.RegisterResponder(http.MethodHead, "http://cam.example.com/gone",
		httpmock.NewStringResponder(404, "not found"))

	_, err := r.Resolve(context.Background(), "http://cam.example.com/gone", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestResolveCachesResults(t *testing.T) {
	extractor := &fakeExtractor{live: map[string]*LiveInfo{
		"https://www.youtube.com/watch?v=live1": {
			StreamURL: "https://cdn.example.com/live1.m3u8",
			Format:    "m3u8",
			IsLive:    true,
		},
	}}
	r := newTestResolver(t, extractor)

	const url = "https://www.youtube.com/watch?v=live1"
	first, err := r.Resolve(context.Background(), url, false)
	require.NoError(t, err)

	second, err := r.Resolve(context.Background(), url, false)
	require.NoError(t, err)

	assert.Equal(t, 1, extractor.calls)
	assert.Equal(t, first.StreamURL, second.StreamURL)
	assert.Equal(t, 1, r.CachedCount())
}

func TestPruneExpiredDropsStaleEntries(t *testing.T) {
	extractor := &fakeExtractor{live: map[string]*LiveInfo{
		"https://www.youtube.com/watch?v=live1": {
			StreamURL: "https://cdn.example.com/live1.m3u8",
			IsLive:    true,
		},
	}}
	settings := testSettings()
	settings.CacheTTL = 10 * time.Millisecond
	client := httpclient.New(nil)
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	r := New(settings, client, extractor, nil)

	_, err := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=live1", false)
	require.NoError(t, err)
	require.Equal(t, 1, r.CachedCount())

	time.Sleep(20 * time.Millisecond)
	r.PruneExpired()
	assert.Equal(t, 0, r.CachedCount())
}

func TestResolveForceRefreshBypassesCache(t *testing.T) {
	extractor := &fakeExtractor{live: map[string]*LiveInfo{
		"https://www.youtube.com/watch?v=live1": {
			StreamURL: "https://cdn.example.com/live1.m3u8",
			IsLive:    true,
		},
	}}
	r := newTestResolver(t, extractor)

	const url = "https://www.youtube.com/watch?v=live1"
	_, err := r.Resolve(context.Background(), url, false)
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), url, true)
	require.NoError(t, err)

	assert.Equal(t, 2, extractor.calls)
}

func TestResolveNotLive(t *testing.T) {
	extractor := &fakeExtractor{live: map[string]*LiveInfo{
		"https://www.youtube.com/watch?v=vod": {
			StreamURL: "https://cdn.example.com/vod.mp4",
			IsLive:    false,
		},
	}}
	r := newTestResolver(t, extractor)

	_, err := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=vod", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotLive)
}

func TestResolveChannelPicksFirstLive(t *testing.T) {
	extractor := &fakeExtractor{
		channel: map[string][]string{
			"https://www.youtube.com/@citycams": {
				"https://www.youtube.com/watch?v=live1",
				"https://www.youtube.com/watch?v=live2",
			},
		},
		live: map[string]*LiveInfo{
			"https://www.youtube.com/watch?v=live1": {
				StreamURL: "https://cdn.example.com/live1.m3u8",
				IsLive:    true,
			},
		},
	}
	r := newTestResolver(t, extractor)

	stream, err := r.Resolve(context.Background(), "https://www.youtube.com/@citycams", false)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/live1.m3u8", stream.StreamURL)
}

func TestResolveChannelNothingLive(t *testing.T) {
	extractor := &fakeExtractor{channel: map[string][]string{}}
	r := newTestResolver(t, extractor)

	_, err := r.Resolve(context.Background(), "https://www.youtube.com/@citycams", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoLiveStream)
}

func TestInvalidate(t *testing.T) {
	extractor := &fakeExtractor{live: map[string]*LiveInfo{
		"https://www.youtube.com/watch?v=live1": {
			StreamURL: "https://cdn.example.com/live1.m3u8",
			IsLive:    true,
		},
	}}
	r := newTestResolver(t, extractor)

	const url = "https://www.youtube.com/watch?v=live1"
	_, err := r.Resolve(context.Background(), url, false)
	require.NoError(t, err)
	require.Equal(t, 1, r.CachedCount())

	r.Invalidate(url)
	assert.Equal(t, 0, r.CachedCount())

	_, err = r.Resolve(context.Background(), url, false)
	require.NoError(t, err)
	assert.Equal(t, 2, extractor.calls)
}

func TestBatchResolve(t *testing.T) {
	extractor := &fakeExtractor{live: map[string]*LiveInfo{
		"https://www.youtube.com/watch?v=ok": {
			StreamURL: "https://cdn.example.com/ok.m3u8",
			IsLive:    true,
		},
	}}
	r := newTestResolver(t, extractor)

	urls := []string{
		"rtsp://10.0.0.5:554/a",
		"https://www.youtube.com/watch?v=ok",
		"https://www.youtube.com/watch?v=broken",
	}
	results := r.BatchResolve(context.Background(), urls, 2)
	require.Len(t, results, 3)

	byURL := make(map[string]BatchResult, len(results))
	for _, res := range results {
		byURL[res.URL] = res
	}

	assert.NoError(t, byURL["rtsp://10.0.0.5:554/a"].Err)
	assert.NoError(t, byURL["https://www.youtube.com/watch?v=ok"].Err)
	assert.Error(t, byURL["https://www.youtube.com/watch?v=broken"].Err)
}
