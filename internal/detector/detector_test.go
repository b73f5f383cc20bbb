package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelwatch/kestrel/internal/conf"
	"github.com/kestrelwatch/kestrel/internal/detection"
	"github.com/kestrelwatch/kestrel/internal/video"
)

// fakeModel returns canned detections and counts invocations.
type fakeModel struct {
	calls      int
	detections []RawDetection
	err        error
}

func (f *fakeModel) Detect(_ context.Context, _ *video.Frame) ([]RawDetection, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.detections, nil
}

func testFrame() *video.Frame {
	return &video.Frame{
		Data:      []byte{0xFF, 0xD8, 0xFF, 0xD9},
		Width:     1920,
		Height:    1080,
		Timestamp: time.Now(),
	}
}

func TestGatingInterval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		sourceFPS int
		targetFPS int
		want      int
	}{
		{"30fps gated to 5", 30, 5, 6},
		{"15fps gated to 5", 15, 5, 3},
		{"target above source", 5, 30, 1},
		{"zero target", 30, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := New(conf.DetectorSettings{
				Enabled:   true,
				SourceFPS: tt.sourceFPS,
				TargetFPS: tt.targetFPS,
			}, &fakeModel{}, nil)
			assert.Equal(t, tt.want, d.Interval())
		})
	}
}

func TestDetectFrameGatesToEverySixthFrame(t *testing.T) {
	t.Parallel()

	model := &fakeModel{}
	d := New(conf.DetectorSettings{Enabled: true, SourceFPS: 30, TargetFPS: 5}, model, nil)

	processed := 0
	for i := 0; i < 60; i++ {
		result := d.DetectFrame(context.Background(), testFrame(), "cam-1")
		if result.Processed {
			processed++
		}
	}

	assert.Equal(t, 10, processed)
	assert.Equal(t, 10, model.calls)
}

func TestDetectFrameGatingIsPerCamera(t *testing.T) {
	t.Parallel()

	model := &fakeModel{}
	d := New(conf.DetectorSettings{Enabled: true, SourceFPS: 30, TargetFPS: 5}, model, nil)

	// First frame of each camera lands on its own interval boundary.
	a := d.DetectFrame(context.Background(), testFrame(), "cam-a")
	b := d.DetectFrame(context.Background(), testFrame(), "cam-b")

	assert.True(t, a.Processed)
	assert.True(t, b.Processed)
}

func TestDetectFrameFiltersUnknownClasses(t *testing.T) {
	t.Parallel()

	model := &fakeModel{detections: []RawDetection{
		{ClassID: 0, Confidence: 0.9, BBox: detection.BBox{X2: 10, Y2: 10}},  // person
		{ClassID: 1, Confidence: 0.9, BBox: detection.BBox{X2: 10, Y2: 10}},  // bicycle, not a risk class
		{ClassID: 83, Confidence: 0.9, BBox: detection.BBox{X2: 10, Y2: 10}}, // weapon
		{ClassID: 999, Confidence: 0.9},                                      // unknown id
	}}
	d := New(conf.DetectorSettings{Enabled: true, SourceFPS: 5, TargetFPS: 5}, model, nil)

	result := d.DetectFrame(context.Background(), testFrame(), "cam-1")
	require.True(t, result.Processed)
	require.Len(t, result.Detections, 2)
	assert.Equal(t, "person", result.Detections[0].ClassName)
	assert.Equal(t, "weapon", result.Detections[1].ClassName)
}

func TestDetectFrameDegradesOnModelFailure(t *testing.T) {
	t.Parallel()

	model := &fakeModel{err: errors.New("inference backend down")}
	d := New(conf.DetectorSettings{Enabled: true, SourceFPS: 5, TargetFPS: 5}, model, nil)

	result := d.DetectFrame(context.Background(), testFrame(), "cam-1")

	assert.True(t, result.Processed)
	assert.Empty(t, result.Detections)
	assert.Empty(t, result.Candidates)
}

func TestStatsConcurrentWithDetectFrame(t *testing.T) {
	t.Parallel()

	model := &fakeModel{}
	d := New(conf.DetectorSettings{Enabled: true, SourceFPS: 5, TargetFPS: 5}, model, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			d.DetectFrame(context.Background(), testFrame(), "cam-1")
		}
	}()
	for i := 0; i < 200; i++ {
		d.Stats()
	}
	<-done

	assert.Equal(t, uint64(200), d.Stats()["cam-1"])
}

// panickingTracker simulates corrupted tracker state.
type panickingTracker struct{}

func (panickingTracker) Update([]detection.Detection) []detection.Detection {
	panic("track list out of range")
}

func TestDetectFrameKeepsDetectionsWhenTrackerPanics(t *testing.T) {
	t.Parallel()

	model := &fakeModel{detections: []RawDetection{
		{ClassID: 83, Confidence: 0.95, BBox: detection.BBox{X2: 20, Y2: 20}},
	}}
	d := New(conf.DetectorSettings{
		Enabled:   true,
		SourceFPS: 5,
		TargetFPS: 5,
		Tracking:  true,
	}, model, panickingTracker{})

	result := d.DetectFrame(context.Background(), testFrame(), "cam-1")

	// The frame's detections survive untracked and still drive the rules.
	require.Len(t, result.Detections, 1)
	assert.Equal(t, detection.UntrackedID, result.Detections[0].TrackID)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, detection.AlertWeapon, result.Candidates[0].Type)
}

func TestDetectFrameRecordsCandidateHistory(t *testing.T) {
	t.Parallel()

	model := &fakeModel{detections: []RawDetection{
		{ClassID: 83, Confidence: 0.95, BBox: detection.BBox{X2: 20, Y2: 20}},
	}}
	d := New(conf.DetectorSettings{Enabled: true, SourceFPS: 5, TargetFPS: 5}, model, nil)

	result := d.DetectFrame(context.Background(), testFrame(), "cam-1")
	require.Len(t, result.Candidates, 1)

	history := d.History("cam-1")
	require.Len(t, history, 1)
	assert.Equal(t, detection.AlertWeapon, history[0].Type)

	assert.Empty(t, d.History("cam-other"))

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats["cam-1"])
}

func TestIOUTrackerAssignsStableIDs(t *testing.T) {
	t.Parallel()

	tracker := NewIOUTracker()
	box := detection.BBox{X1: 100, Y1: 100, X2: 200, Y2: 200}
	det := detection.Detection{ClassName: "person", Confidence: 0.9, BBox: box, TrackID: detection.UntrackedID}

	// Below minHits the detection stays untracked.
	out := tracker.Update([]detection.Detection{det})
	assert.Equal(t, detection.UntrackedID, out[0].TrackID)
	out = tracker.Update([]detection.Detection{det})
	assert.Equal(t, detection.UntrackedID, out[0].TrackID)

	out = tracker.Update([]detection.Detection{det})
	require.NotEqual(t, detection.UntrackedID, out[0].TrackID)
	id := out[0].TrackID

	// A slightly moved box keeps the same ID.
	moved := det
	moved.BBox = detection.BBox{X1: 105, Y1: 103, X2: 205, Y2: 203}
	out = tracker.Update([]detection.Detection{moved})
	assert.Equal(t, id, out[0].TrackID)

	// A disjoint box starts a new track.
	far := det
	far.BBox = detection.BBox{X1: 800, Y1: 800, X2: 900, Y2: 900}
	out = tracker.Update([]detection.Detection{far})
	assert.Equal(t, detection.UntrackedID, out[0].TrackID)
}
