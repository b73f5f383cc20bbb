package surveillance

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kestrelwatch/kestrel/internal/alertmanager"
	"github.com/kestrelwatch/kestrel/internal/conf"
	"github.com/kestrelwatch/kestrel/internal/datastore"
	"github.com/kestrelwatch/kestrel/internal/detection"
	"github.com/kestrelwatch/kestrel/internal/detector"
	"github.com/kestrelwatch/kestrel/internal/httpclient"
	"github.com/kestrelwatch/kestrel/internal/recorder"
	"github.com/kestrelwatch/kestrel/internal/resolver"
	"github.com/kestrelwatch/kestrel/internal/video"
)

func TestMain(m *testing.M) {
	// go-cache janitors run until their cache is finalized.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

// chanSource feeds frames from a channel, standing in for a live stream.
type chanSource struct {
	frames    chan *video.Frame
	closeOnce sync.Once
}

func (s *chanSource) Open(context.Context, string, map[string]string) (video.FrameReader, error) {
	return &chanReader{ch: s.frames}, nil
}

func (s *chanSource) closeFrames() {
	s.closeOnce.Do(func() { close(s.frames) })
}

type chanReader struct {
	ch chan *video.Frame
}

func (r *chanReader) ReadFrame(ctx context.Context) (*video.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case frame, ok := <-r.ch:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	}
}

func (r *chanReader) Close() error { return nil }

// weaponModel reports a weapon on every analyzed frame.
type weaponModel struct{}

func (weaponModel) Detect(context.Context, *video.Frame) ([]detector.RawDetection, error) {
	return []detector.RawDetection{
		{ClassID: 83, Confidence: 0.95, BBox: detection.BBox{X2: 20, Y2: 20}},
	}, nil
}

var (
	jpegFrameOnce sync.Once
	jpegFrameData []byte
)

func jpegFrame() *video.Frame {
	jpegFrameOnce.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, nil); err != nil {
			panic(err)
		}
		jpegFrameData = buf.Bytes()
	})
	return &video.Frame{Data: jpegFrameData, Width: 8, Height: 8, Timestamp: time.Now()}
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	settings := &conf.Settings{}
	settings.Cameras = []conf.CameraSource{{
		ID:     "cam-1",
		Name:   "Gate",
		URL:    "rtsp://127.0.0.1/stream1",
		ZoneID: "zone-7",
	}}
	settings.Detector = conf.DetectorSettings{
		Enabled:   true,
		SourceFPS: 5,
		TargetFPS: 5,
	}
	settings.Recorder = conf.RecorderSettings{
		Enabled:         true,
		Path:            t.TempDir(),
		SegmentSeconds:  300,
		PreAlertSeconds: 1,
		FPS:             5,
		ThumbnailWidth:  64,
	}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "kestrel.db")
	return settings
}

func newTestSystem(t *testing.T) (*System, *chanSource, *alertmanager.AlertManager) {
	t.Helper()
	settings := testSettings(t)

	store := datastore.New(settings)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	source := &chanSource{frames: make(chan *video.Frame, 64)}
	t.Cleanup(source.closeFrames)

	res := resolver.New(conf.ResolverSettings{CacheTTL: time.Minute},
		httpclient.New(nil), nil, nil)
	det := detector.New(settings.Detector, weaponModel{}, nil)
	rec := recorder.New(settings.Recorder, source, store)
	alerts := alertmanager.New(store, nil, nil)

	return New(settings, res, det, rec, alerts, nil, nil), source, alerts
}

// feedFrames pushes frames until stopped; the returned function stops the
// feeder and waits for it to exit.
func feedFrames(source *chanSource) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case source.frames <- jpegFrame():
				time.Sleep(time.Millisecond)
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

func TestPipelineRaisesAlertAndStopsCleanly(t *testing.T) {
	s, source, alerts := newTestSystem(t)

	require.NoError(t, s.Start(context.Background()))
	stopFeed := feedFrames(source)
	defer stopFeed()

	// A weapon on every frame produces exactly one alert inside the
	// cooldown window, with zone and clip attached.
	var got []datastore.Alert
	require.Eventually(t, func() bool {
		var err error
		got, err = alerts.GetAlerts(&datastore.AlertFilter{CameraID: "cam-1"})
		return err == nil && len(got) == 1 && got[0].VideoPath != ""
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, string(detection.AlertWeapon), got[0].AlertType)
	assert.Equal(t, "zone-7", got[0].ZoneID)

	s.Stop()

	statuses := s.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "cam-1", statuses[0].CameraID)
	assert.Equal(t, recorder.StatusStopped, statuses[0].Recording)
}

func TestStartWithoutCamerasFails(t *testing.T) {
	s, _, _ := newTestSystem(t)
	s.settings.Cameras = nil
	assert.Error(t, s.Start(context.Background()))
}

func TestCandidatesIgnoredAfterStop(t *testing.T) {
	s, _, alerts := newTestSystem(t)

	s.Stop()

	// Candidates arriving from a straggling camera worker after shutdown
	// must neither create alerts nor spawn clip goroutines.
	s.handleCandidate(&detection.Candidate{
		Type:       detection.AlertWeapon,
		Severity:   detection.SeverityCritical,
		Confidence: 0.9,
		CameraID:   "cam-1",
		Timestamp:  time.Now(),
	})

	got, err := alerts.GetAlerts(&datastore.AlertFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
