// Package surveillance wires the resolver, detector, recorder, alert
// manager and storage cleanup into per-camera processing pipelines.
package surveillance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kestrelwatch/kestrel/internal/alertmanager"
	"github.com/kestrelwatch/kestrel/internal/conf"
	"github.com/kestrelwatch/kestrel/internal/detection"
	"github.com/kestrelwatch/kestrel/internal/detector"
	"github.com/kestrelwatch/kestrel/internal/diskmanager"
	"github.com/kestrelwatch/kestrel/internal/errors"
	"github.com/kestrelwatch/kestrel/internal/logging"
	"github.com/kestrelwatch/kestrel/internal/observability"
	"github.com/kestrelwatch/kestrel/internal/recorder"
	"github.com/kestrelwatch/kestrel/internal/resolver"
	"github.com/kestrelwatch/kestrel/internal/video"
)

const (
	// alertCooldown suppresses repeat alerts of the same type from the
	// same camera while one is still fresh.
	alertCooldown = time.Minute

	// restartBackoff paces camera worker restarts after stream failures.
	restartBackoff = 30 * time.Second
)

// CameraStatus is the externally visible state of one camera pipeline.
type CameraStatus struct {
	CameraID   string          `json:"camera_id"`
	Name       string          `json:"name"`
	SourceURL  string          `json:"source_url"`
	StreamURL  string          `json:"stream_url,omitempty"`
	SourceType string          `json:"source_type,omitempty"`
	Recording  recorder.Status `json:"recording"`
	LastError  string          `json:"last_error,omitempty"`
	ResolvedAt time.Time       `json:"resolved_at,omitzero"`
}

// System owns the full pipeline for every configured camera.
type System struct {
	settings *conf.Settings
	resolver *resolver.Resolver
	detector *detector.RiskDetector
	recorder *recorder.Recorder
	alerts   *alertmanager.AlertManager
	disk     *diskmanager.Manager
	metrics  *observability.Metrics
	logger   *slog.Logger

	cooldown *gocache.Cache

	mu       sync.Mutex
	statuses map[string]*CameraStatus

	quit chan struct{}
	wg   sync.WaitGroup

	// clipWG tracks clip goroutines spawned from camera workers. Add runs
	// under clipMu against the stopping flag: camera workers can outlive
	// the recorder's stop join timeout, so an unguarded Add could race
	// Stop's Wait.
	clipMu   sync.Mutex
	stopping bool
	clipWG   sync.WaitGroup
}

// New assembles a System from already-constructed components.
func New(settings *conf.Settings, res *resolver.Resolver, det *detector.RiskDetector,
	rec *recorder.Recorder, alerts *alertmanager.AlertManager,
	disk *diskmanager.Manager, metrics *observability.Metrics) *System {
	return &System{
		settings: settings,
		resolver: res,
		detector: det,
		recorder: rec,
		alerts:   alerts,
		disk:     disk,
		metrics:  metrics,
		logger:   logging.ForService("surveillance"),
		cooldown: gocache.New(alertCooldown, 2*alertCooldown),
		statuses: make(map[string]*CameraStatus),
		quit:     make(chan struct{}),
	}
}

// Start launches the per-camera workers and the storage cleanup loop.
func (s *System) Start(ctx context.Context) error {
	if len(s.settings.Cameras) == 0 {
		return errors.Newf("no cameras configured").
			Component("surveillance").
			Category(errors.CategoryConfiguration).
			Build()
	}

	s.recorder.SetFrameSink(s.onFrame)

	for i := range s.settings.Cameras {
		cam := s.settings.Cameras[i]
		s.mu.Lock()
		s.statuses[cam.ID] = &CameraStatus{
			CameraID:  cam.ID,
			Name:      cam.Name,
			SourceURL: cam.URL,
			Recording: recorder.StatusStopped,
		}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.superviseCamera(ctx, cam)
	}

	if s.disk != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.disk.Run(ctx, s.quit)
		}()
	}

	s.logger.Info("surveillance started", "cameras", len(s.settings.Cameras))
	return nil
}

// Stop shuts the pipelines down and waits for in-flight dispatches.
func (s *System) Stop() {
	s.clipMu.Lock()
	s.stopping = true
	s.clipMu.Unlock()

	close(s.quit)
	for id := range s.cameraIDs() {
		if err := s.recorder.StopRecording(id); err != nil {
			s.logger.Debug("stop recording", "camera", id, "error", err)
		}
	}
	s.wg.Wait()
	s.clipWG.Wait()
	s.alerts.Wait()
	s.logger.Info("surveillance stopped")
}

func (s *System) cameraIDs() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]struct{}, len(s.statuses))
	for id := range s.statuses {
		ids[id] = struct{}{}
	}
	return ids
}

// superviseCamera keeps one camera's pipeline alive: resolve the source,
// start recording, watch for failure, back off and retry.
func (s *System) superviseCamera(ctx context.Context, cam conf.CameraSource) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		default:
		}

		if err := s.startCamera(ctx, cam); err != nil {
			s.logger.Error("camera start failed",
				"camera", cam.ID, "error", err)
			s.setError(cam.ID, err)
		} else {
			s.waitForFailure(ctx, cam.ID)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case <-time.After(restartBackoff):
			// Force a fresh resolve; expiring stream URLs are the
			// usual failure cause.
			s.resolver.Invalidate(cam.URL)
		}
	}
}

func (s *System) startCamera(ctx context.Context, cam conf.CameraSource) error {
	start := time.Now()
	stream, err := s.resolver.Resolve(ctx, cam.URL, false)
	if s.metrics != nil {
		s.metrics.ResolveDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return err
	}

	headers := stream.Headers
	if len(cam.Headers) > 0 {
		merged := make(map[string]string, len(headers)+len(cam.Headers))
		for k, v := range headers {
			merged[k] = v
		}
		for k, v := range cam.Headers {
			merged[k] = v
		}
		headers = merged
	}

	s.mu.Lock()
	if st, ok := s.statuses[cam.ID]; ok {
		st.StreamURL = stream.StreamURL
		st.SourceType = string(stream.SourceType)
		st.ResolvedAt = stream.ResolvedAt
		st.LastError = ""
	}
	s.mu.Unlock()

	return s.recorder.StartContinuousRecording(ctx, cam.ID, stream.StreamURL, headers)
}

// waitForFailure polls the recorder until the camera worker leaves the
// recording states.
func (s *System) waitForFailure(ctx context.Context, cameraID string) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case <-ticker.C:
			status, errMsg := s.recorder.Status(cameraID)
			s.mu.Lock()
			if st, ok := s.statuses[cameraID]; ok {
				st.Recording = status
				st.LastError = errMsg
			}
			s.mu.Unlock()
			if status == recorder.StatusStopped || status == recorder.StatusError {
				return
			}
		}
	}
}

func (s *System) setError(cameraID string, err error) {
	s.mu.Lock()
	if st, ok := s.statuses[cameraID]; ok {
		st.Recording = recorder.StatusError
		st.LastError = err.Error()
	}
	s.mu.Unlock()
}

// onFrame runs on each camera worker goroutine for every acquired frame.
// Detection, rule evaluation and alert creation all happen here; recording
// continues regardless of what detection finds.
func (s *System) onFrame(cameraID string, frame *video.Frame) {
	if s.metrics != nil {
		s.metrics.FramesReceived.WithLabelValues(cameraID).Inc()
	}
	if !s.settings.Detector.Enabled {
		return
	}

	start := time.Now()
	result := s.detector.DetectFrame(context.Background(), frame, cameraID)
	if !result.Processed {
		if s.metrics != nil {
			s.metrics.FramesSkipped.WithLabelValues(cameraID).Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.FramesProcessed.WithLabelValues(cameraID).Inc()
		s.metrics.DetectDuration.Observe(time.Since(start).Seconds())
		for i := range result.Detections {
			s.metrics.Detections.WithLabelValues(result.Detections[i].ClassName).Inc()
		}
	}

	for i := range result.Candidates {
		s.handleCandidate(&result.Candidates[i])
	}
}

// handleCandidate creates an alert for a candidate unless the same
// camera/type pair alerted within the cooldown window, then records the
// surrounding clip.
func (s *System) handleCandidate(c *detection.Candidate) {
	s.clipMu.Lock()
	stopping := s.stopping
	s.clipMu.Unlock()
	if stopping {
		return
	}

	if s.metrics != nil {
		s.metrics.AlertCandidates.WithLabelValues(string(c.Type)).Inc()
	}

	key := c.CameraID + "|" + string(c.Type)
	if _, onCooldown := s.cooldown.Get(key); onCooldown {
		return
	}
	s.cooldown.Set(key, struct{}{}, gocache.DefaultExpiration)

	var loc *alertmanager.Location
	if cam := s.cameraByID(c.CameraID); cam != nil {
		loc = &alertmanager.Location{
			ZoneID:    cam.ZoneID,
			Latitude:  cam.Latitude,
			Longitude: cam.Longitude,
		}
	}

	alert, err := s.alerts.CreateAlert(context.Background(), c, loc)
	if err != nil {
		s.logger.Error("alert creation failed",
			"camera", c.CameraID, "type", string(c.Type), "error", err)
		return
	}

	s.clipMu.Lock()
	if s.stopping {
		s.clipMu.Unlock()
		return
	}
	s.clipWG.Add(1)
	s.clipMu.Unlock()
	go func() {
		defer s.clipWG.Done()
		s.recordClip(alert.ID, c)
	}()
}

func (s *System) recordClip(alertID string, c *detection.Candidate) {
	info := recorder.AlertInfo{
		AlertID:     alertID,
		Type:        c.Type,
		Severity:    c.Severity,
		Description: c.Description,
		Confidence:  c.Confidence,
		Timestamp:   c.Timestamp,
		Metadata:    c.Metadata,
	}
	clipPath, err := s.recorder.RecordAlertClip(context.Background(), c.CameraID,
		info, s.settings.Recorder.PostAlertSeconds)
	if err != nil {
		s.logger.Error("alert clip recording failed",
			"alert", alertID, "camera", c.CameraID, "error", err)
		return
	}
	thumbPath := clipPath + "_thumb.jpg"
	if err := s.alerts.SetAlertMedia(alertID, clipPath, thumbPath); err != nil {
		s.logger.Error("failed to attach media to alert",
			"alert", alertID, "error", err)
	}
}

func (s *System) cameraByID(id string) *conf.CameraSource {
	for i := range s.settings.Cameras {
		if s.settings.Cameras[i].ID == id {
			return &s.settings.Cameras[i]
		}
	}
	return nil
}

// Statuses returns a snapshot of every camera's pipeline state.
func (s *System) Statuses() []CameraStatus {
	recording := s.recorder.Statuses()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CameraStatus, 0, len(s.statuses))
	for id, st := range s.statuses {
		copied := *st
		if rs, ok := recording[id]; ok {
			copied.Recording = rs
		}
		out = append(out, copied)
	}
	return out
}
