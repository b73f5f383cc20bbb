// Package recorder maintains per-camera continuous recording, a rolling
// pre-alert frame buffer, and alert-triggered clip extraction.
package recorder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kestrelwatch/kestrel/internal/conf"
	"github.com/kestrelwatch/kestrel/internal/datastore"
	"github.com/kestrelwatch/kestrel/internal/detection"
	"github.com/kestrelwatch/kestrel/internal/errors"
	"github.com/kestrelwatch/kestrel/internal/logging"
	"github.com/kestrelwatch/kestrel/internal/observability"
	"github.com/kestrelwatch/kestrel/internal/video"
)

// Status is a camera's recording lifecycle state.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRecording Status = "recording"
	StatusStopping  Status = "stopping"
	StatusStopped   Status = "stopped"
	StatusError     Status = "error"
)

// stopJoinTimeout bounds how long StopRecording waits for a worker to exit.
const stopJoinTimeout = 10 * time.Second

// AlertInfo carries the alert fields embedded in a clip's sidecar.
type AlertInfo struct {
	AlertID     string              `json:"alert_id"`
	Type        detection.AlertType `json:"type"`
	Severity    detection.Severity  `json:"severity"`
	Description string              `json:"description"`
	Confidence  float64             `json:"confidence"`
	Timestamp   time.Time           `json:"timestamp"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
}

// ClipMeta is the sidecar written next to an alert clip.
type ClipMeta struct {
	CameraID      string    `json:"camera_id"`
	Alert         AlertInfo `json:"alert"`
	FilePath      string    `json:"file_path"`
	ThumbnailPath string    `json:"thumbnail_path,omitempty"`
	DurationSecs  float64   `json:"duration_seconds"`
	PreFrames     int       `json:"pre_frames"`
	PostFrames    int       `json:"post_frames"`
	FramesTotal   int       `json:"frames_total"`
	CreatedAt     time.Time `json:"created_at"`
}

// FrameSink receives every frame a camera worker acquires, in arrival
// order. It runs on the worker goroutine and must not block.
type FrameSink func(cameraID string, frame *video.Frame)

// cameraRecorder is the per-camera worker state.
type cameraRecorder struct {
	cameraID string
	buffer   *FrameBuffer

	mu        sync.Mutex
	status    Status
	statusErr string
	followers []chan *video.Frame

	stopCh chan struct{}
	done   chan struct{}
}

func (cr *cameraRecorder) setStatus(s Status, errMsg string) {
	cr.mu.Lock()
	cr.status = s
	cr.statusErr = errMsg
	cr.mu.Unlock()
}

func (cr *cameraRecorder) getStatus() (Status, string) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.status, cr.statusErr
}

// addFollower registers a live-frame subscriber for clip extension.
func (cr *cameraRecorder) addFollower(ch chan *video.Frame) {
	cr.mu.Lock()
	cr.followers = append(cr.followers, ch)
	cr.mu.Unlock()
}

func (cr *cameraRecorder) removeFollower(ch chan *video.Frame) {
	cr.mu.Lock()
	for i := range cr.followers {
		if cr.followers[i] == ch {
			cr.followers = append(cr.followers[:i], cr.followers[i+1:]...)
			break
		}
	}
	cr.mu.Unlock()
}

func (cr *cameraRecorder) forward(frame *video.Frame) {
	cr.mu.Lock()
	followers := cr.followers
	cr.mu.Unlock()
	for _, ch := range followers {
		select {
		case ch <- frame:
		default:
			// Follower is behind; dropping beats stalling acquisition.
		}
	}
}

// Recorder owns continuous recording for all cameras. Constructed once and
// shared; thread-safe.
type Recorder struct {
	settings conf.RecorderSettings
	source   video.StreamSource
	store    datastore.Interface // may be nil, segments then go unindexed
	sink     FrameSink
	metrics  *observability.Metrics // may be nil

	mu      sync.Mutex
	cameras map[string]*cameraRecorder

	logger *slog.Logger
}

// New creates a Recorder reading streams from source.
func New(settings conf.RecorderSettings, source video.StreamSource, store datastore.Interface) *Recorder {
	return &Recorder{
		settings: settings,
		source:   source,
		store:    store,
		cameras:  make(map[string]*cameraRecorder),
		logger:   logging.ForService("recorder"),
	}
}

// SetFrameSink registers a callback invoked for every acquired frame.
// Must be called before starting any camera.
func (r *Recorder) SetFrameSink(sink FrameSink) {
	r.sink = sink
}

// SetMetrics attaches pipeline metrics. Must be called before starting any
// camera.
func (r *Recorder) SetMetrics(m *observability.Metrics) {
	r.metrics = m
}

// StartContinuousRecording starts the per-camera acquisition worker. It is
// an error to start a camera that is already recording.
func (r *Recorder) StartContinuousRecording(ctx context.Context, cameraID, streamURL string, headers map[string]string) error {
	capacity := r.settings.PreAlertSeconds * r.settings.FPS
	buffer, err := NewFrameBuffer(capacity)
	if err != nil {
		return errors.New(err).
			Component("recorder").
			Category(errors.CategoryRecording).
			Context("camera", cameraID).
			Build()
	}

	cr := &cameraRecorder{
		cameraID: cameraID,
		buffer:   buffer,
		status:   StatusStarting,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	r.mu.Lock()
	if existing, ok := r.cameras[cameraID]; ok {
		status, _ := existing.getStatus()
		if status == StatusStarting || status == StatusRecording || status == StatusStopping {
			r.mu.Unlock()
			return errors.Newf("camera %s is already recording", cameraID).
				Component("recorder").
				Category(errors.CategoryState).
				Build()
		}
	}
	r.cameras[cameraID] = cr
	r.mu.Unlock()

	go r.runCamera(ctx, cr, streamURL, headers)
	return nil
}

// runCamera is the per-camera worker loop: acquire frames, feed the ring
// buffer, the sink, clip followers and the segment writer.
func (r *Recorder) runCamera(ctx context.Context, cr *cameraRecorder, streamURL string, headers map[string]string) {
	defer close(cr.done)

	reader, err := r.source.Open(ctx, streamURL, headers)
	if err != nil {
		r.logger.Error("failed to open stream",
			"camera", cr.cameraID, "error", err)
		cr.setStatus(StatusError, err.Error())
		return
	}
	defer reader.Close()

	cr.setStatus(StatusRecording, "")
	r.logger.Info("continuous recording started", "camera", cr.cameraID)

	var writer *segmentWriter
	segmentDur := time.Duration(r.settings.SegmentSeconds) * time.Second

	finalize := func() {
		if writer == nil {
			return
		}
		meta, err := writer.finalize(time.Now())
		if err != nil {
			r.logger.Error("failed to finalize segment",
				"camera", cr.cameraID, "error", err)
		} else {
			r.indexSegment(meta)
		}
		writer = nil
	}
	defer finalize()

	for {
		select {
		case <-cr.stopCh:
			cr.setStatus(StatusStopped, "")
			r.logger.Info("continuous recording stopped", "camera", cr.cameraID)
			return
		case <-ctx.Done():
			cr.setStatus(StatusStopped, "")
			return
		default:
		}

		frame, err := reader.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				cr.setStatus(StatusStopped, "")
				return
			}
			r.logger.Error("stream read failed",
				"camera", cr.cameraID, "error", err)
			cr.setStatus(StatusError, err.Error())
			return
		}

		cr.buffer.Append(frame)
		if r.sink != nil {
			r.sink(cr.cameraID, frame)
		}
		cr.forward(frame)

		// Segment rollover on the time boundary.
		if writer != nil && time.Since(writer.startTime) >= segmentDur {
			finalize()
		}
		if writer == nil {
			writer, err = newSegmentWriter(r.settings.Path, cr.cameraID, r.settings.FPS, time.Now())
			if err != nil {
				// Skip this rollover; the next frame retries.
				r.logger.Error("failed to open segment",
					"camera", cr.cameraID, "error", err)
				continue
			}
		}
		if err := writer.writeFrame(frame); err != nil {
			// A failing segment is abandoned; the next rollover starts clean.
			r.logger.Error("segment write failed, abandoning segment",
				"camera", cr.cameraID, "path", writer.path, "error", err)
			writer.file.Close()
			writer = nil
		} else if r.metrics != nil {
			r.metrics.RecordingBytes.WithLabelValues(cr.cameraID).Add(float64(len(frame.Data)))
		}
	}
}

func (r *Recorder) indexSegment(meta *SegmentMeta) {
	if r.store == nil {
		return
	}
	err := r.store.SaveRecordingSegment(&datastore.RecordingSegment{
		CameraID:   meta.CameraID,
		FilePath:   meta.FilePath,
		StartTime:  meta.StartTime,
		FrameCount: meta.FrameCount,
		FPS:        meta.FPS,
		FileSize:   meta.FileSize,
	})
	if err != nil {
		r.logger.Error("failed to index segment",
			"path", meta.FilePath, "error", err)
	}
}

// StopRecording requests a cooperative stop and waits up to the join
// timeout. A timeout is logged, not fatal.
func (r *Recorder) StopRecording(cameraID string) error {
	r.mu.Lock()
	cr, ok := r.cameras[cameraID]
	r.mu.Unlock()
	if !ok {
		return errors.Newf("no recording worker for camera %s", cameraID).
			Component("recorder").
			Category(errors.CategoryNotFound).
			Build()
	}

	cr.mu.Lock()
	switch cr.status {
	case StatusStopped, StatusError:
		cr.mu.Unlock()
		return nil
	case StatusStopping:
		cr.mu.Unlock()
	default:
		cr.status = StatusStopping
		cr.mu.Unlock()
		close(cr.stopCh)
	}

	select {
	case <-cr.done:
	case <-time.After(stopJoinTimeout):
		r.logger.Error("recording worker did not stop within timeout",
			"camera", cameraID, "timeout", stopJoinTimeout)
	}
	return nil
}

// Status returns a camera's recording status, StatusStopped for unknown
// cameras.
func (r *Recorder) Status(cameraID string) (Status, string) {
	r.mu.Lock()
	cr, ok := r.cameras[cameraID]
	r.mu.Unlock()
	if !ok {
		return StatusStopped, ""
	}
	return cr.getStatus()
}

// Statuses returns the status of every known camera.
func (r *Recorder) Statuses() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Status, len(r.cameras))
	for id, cr := range r.cameras {
		status, _ := cr.getStatus()
		out[id] = status
	}
	return out
}

// Buffer returns a camera's frame buffer, nil for unknown cameras. Used by
// tests and status surfaces.
func (r *Recorder) Buffer(cameraID string) *FrameBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	cr, ok := r.cameras[cameraID]
	if !ok {
		return nil
	}
	return cr.buffer
}

// RecordAlertClip materializes a clip around an alert: the buffered
// pre-alert window plus up to postSeconds of live continuation. When the
// camera's worker is not delivering live frames the clip is shortened to
// the frames actually available; frozen-frame padding would fabricate
// footage.
func (r *Recorder) RecordAlertClip(ctx context.Context, cameraID string, alert AlertInfo, postSeconds int) (string, error) {
	r.mu.Lock()
	cr, ok := r.cameras[cameraID]
	r.mu.Unlock()
	if !ok {
		return "", errors.Newf("no frame buffer for camera %s", cameraID).
			Component("recorder").
			Category(errors.CategoryClipExtract).
			Build()
	}
	if postSeconds <= 0 {
		postSeconds = r.settings.PostAlertSeconds
	}

	preFrames := cr.buffer.Snapshot()
	if len(preFrames) == 0 {
		return "", errors.Newf("frame buffer for camera %s is empty", cameraID).
			Component("recorder").
			Category(errors.CategoryClipExtract).
			Build()
	}

	alertDir := filepath.Join(r.settings.Path, cameraID, "alerts")
	if err := os.MkdirAll(alertDir, 0o755); err != nil {
		return "", errors.New(err).
			Component("recorder").
			Category(errors.CategoryFileIO).
			Context("camera", cameraID).
			Build()
	}
	name := fmt.Sprintf("alert_%s_%s_%s.mjpeg", cameraID, alert.Type, alert.Timestamp.Format("20060102_150405"))
	clipPath := filepath.Join(alertDir, name)

	file, err := os.Create(clipPath)
	if err != nil {
		return "", errors.New(err).
			Component("recorder").
			Category(errors.CategoryFileIO).
			Context("path", clipPath).
			Build()
	}

	written := 0
	for _, frame := range preFrames {
		if _, err := file.Write(frame.Data); err != nil {
			file.Close()
			os.Remove(clipPath)
			return "", errors.New(err).
				Component("recorder").
				Category(errors.CategoryClipExtract).
				Context("path", clipPath).
				Build()
		}
		written++
	}

	postWritten := r.extendClip(ctx, cr, file, postSeconds)

	if err := file.Close(); err != nil {
		return "", errors.New(err).
			Component("recorder").
			Category(errors.CategoryFileIO).
			Context("path", clipPath).
			Build()
	}

	thumbPath := clipPath + "_thumb.jpg"
	lastFrame := cr.buffer.Last()
	if err := writeThumbnail(lastFrame, thumbPath, r.settings.ThumbnailWidth); err != nil {
		r.logger.Warn("thumbnail generation failed",
			"camera", cameraID, "error", err)
		thumbPath = ""
	}

	totalFrames := written + postWritten
	meta := &ClipMeta{
		CameraID:      cameraID,
		Alert:         alert,
		FilePath:      clipPath,
		ThumbnailPath: thumbPath,
		DurationSecs:  float64(totalFrames) / float64(r.settings.FPS),
		PreFrames:     written,
		PostFrames:    postWritten,
		FramesTotal:   totalFrames,
		CreatedAt:     time.Now(),
	}
	if err := writeSidecar(clipPath, meta); err != nil {
		r.logger.Warn("clip sidecar write failed", "path", clipPath, "error", err)
	}

	r.logger.Info("alert clip recorded",
		"camera", cameraID,
		"path", clipPath,
		"pre_frames", written,
		"post_frames", postWritten)
	return clipPath, nil
}

// extendClip follows live frames for postSeconds. Returns the number of
// frames appended; zero when the worker is not delivering.
func (r *Recorder) extendClip(ctx context.Context, cr *cameraRecorder, file *os.File, postSeconds int) int {
	status, _ := cr.getStatus()
	if status != StatusRecording {
		return 0
	}

	want := postSeconds * r.settings.FPS
	follower := make(chan *video.Frame, r.settings.FPS)
	cr.addFollower(follower)
	defer cr.removeFollower(follower)

	deadline := time.NewTimer(time.Duration(postSeconds)*time.Second + 2*time.Second)
	defer deadline.Stop()

	written := 0
	for written < want {
		select {
		case frame := <-follower:
			if _, err := file.Write(frame.Data); err != nil {
				r.logger.Error("clip extension write failed",
					"camera", cr.cameraID, "error", err)
				return written
			}
			written++
		case <-deadline.C:
			return written
		case <-cr.stopCh:
			return written
		case <-ctx.Done():
			return written
		}
	}
	return written
}
