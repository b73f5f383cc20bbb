// Package detector runs object detection on camera frames, correlates
// detections across frames and evaluates rule-based risk conditions.
package detector

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelwatch/kestrel/internal/conf"
	"github.com/kestrelwatch/kestrel/internal/detection"
	"github.com/kestrelwatch/kestrel/internal/logging"
	"github.com/kestrelwatch/kestrel/internal/video"
)

// RawDetection is the external model's output contract for one object.
type RawDetection struct {
	ClassID    int
	Confidence float64
	BBox       detection.BBox
}

// ObjectDetector is the external detection model boundary.
type ObjectDetector interface {
	Detect(ctx context.Context, frame *video.Frame) ([]RawDetection, error)
}

// Tracker correlates detections across consecutive frames. The tracker owns
// its temporal state; it is called once per processed frame with that
// frame's detections only.
type Tracker interface {
	Update(detections []detection.Detection) []detection.Detection
}

// classNames maps model class ids to names. Ids below 80 follow the COCO
// ordering the detection models ship with; domain classes are appended.
var classNames = map[int]string{
	0:  "person",
	1:  "bicycle",
	2:  "car",
	3:  "motorcycle",
	5:  "bus",
	7:  "truck",
	80: "fire",
	81: "smoke",
	82: "explosion",
	83: "weapon",
	84: "crowd",
	85: "military_vehicle",
}

// riskClasses is the allow-list of classes kept after detection.
var riskClasses = map[string]bool{
	"person":           true,
	"car":              true,
	"truck":            true,
	"bus":              true,
	"motorcycle":       true,
	"fire":             true,
	"smoke":            true,
	"explosion":        true,
	"weapon":           true,
	"crowd":            true,
	"military_vehicle": true,
}

// vehicleClasses are the classes counted by the traffic rule.
var vehicleClasses = map[string]bool{
	"car":        true,
	"truck":      true,
	"bus":        true,
	"motorcycle": true,
}

// FrameResult is the outcome of feeding one frame to the detector.
type FrameResult struct {
	Detections []detection.Detection
	Candidates []detection.Candidate
	// Processed is false when the frame was skipped by rate gating.
	Processed bool
}

// cameraState holds per-camera gating and history state. frameCount is
// atomic: the camera worker increments it outside the registry lock while
// Stats reads it from other goroutines.
type cameraState struct {
	frameCount atomic.Uint64
	history    *candidateHistory
}

// RiskDetector consumes decoded frames and emits typed alert candidates.
// Thread-safe across cameras; each camera's frames must arrive from a
// single goroutine, per the camera-worker model.
type RiskDetector struct {
	model    ObjectDetector
	tracker  Tracker
	settings conf.DetectorSettings
	interval int

	mu      sync.RWMutex
	cameras map[string]*cameraState

	logger *slog.Logger
}

// New creates a RiskDetector. tracker may be nil, in which case detections
// are returned untracked.
func New(settings conf.DetectorSettings, model ObjectDetector, tracker Tracker) *RiskDetector {
	interval := 1
	if settings.TargetFPS > 0 && settings.SourceFPS > settings.TargetFPS {
		interval = settings.SourceFPS / settings.TargetFPS
	}
	return &RiskDetector{
		model:    model,
		tracker:  tracker,
		settings: settings,
		interval: interval,
		cameras:  make(map[string]*cameraState),
		logger:   logging.ForService("detector"),
	}
}

// Interval returns the frame-gating divisor: one out of every Interval
// frames is analyzed.
func (d *RiskDetector) Interval() int {
	return d.interval
}

func (d *RiskDetector) state(cameraID string) *cameraState {
	d.mu.RLock()
	state, ok := d.cameras[cameraID]
	d.mu.RUnlock()
	if ok {
		return state
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if state, ok = d.cameras[cameraID]; ok {
		return state
	}
	state = &cameraState{history: newCandidateHistory(historyCapacity)}
	d.cameras[cameraID] = state
	return state
}

// DetectFrame runs gating, detection, tracking and rule evaluation for one
// frame. Detector or tracker failures degrade to an empty result; a single
// bad frame never stops a camera's processing loop.
func (d *RiskDetector) DetectFrame(ctx context.Context, frame *video.Frame, cameraID string) *FrameResult {
	state := d.state(cameraID)

	// Gating happens before any allocation so skipped frames stay cheap.
	count := state.frameCount.Add(1) - 1
	if d.interval > 1 && count%uint64(d.interval) != 0 {
		return &FrameResult{Processed: false}
	}

	raw, err := d.model.Detect(ctx, frame)
	if err != nil {
		d.logger.Warn("detection failed, skipping frame",
			"camera", cameraID, "error", err)
		return &FrameResult{Processed: true}
	}

	detections := d.filterDetections(raw)

	if d.tracker != nil && d.settings.Tracking {
		detections = d.track(cameraID, detections)
	}

	candidates := evaluateRules(detections, frameArea(frame), cameraID, time.Now())
	for i := range candidates {
		state.history.add(candidates[i])
	}

	return &FrameResult{
		Detections: detections,
		Candidates: candidates,
		Processed:  true,
	}
}

// track runs the tracker, recovering detections untracked on failure. The
// named return carries the input through the recover path; a tracker panic
// must never erase the frame's detections.
func (d *RiskDetector) track(cameraID string, detections []detection.Detection) (out []detection.Detection) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("tracker panicked, continuing untracked",
				"camera", cameraID, "panic", r)
			out = detections
		}
	}()
	tracked := d.tracker.Update(detections)
	if tracked == nil {
		return detections
	}
	return tracked
}

// filterDetections maps class ids to names and drops classes outside the
// risk allow-list.
func (d *RiskDetector) filterDetections(raw []RawDetection) []detection.Detection {
	detections := make([]detection.Detection, 0, len(raw))
	for i := range raw {
		name, ok := classNames[raw[i].ClassID]
		if !ok || !riskClasses[name] {
			continue
		}
		bbox := raw[i].BBox
		cx, cy := bbox.Center()
		detections = append(detections, detection.Detection{
			BBox:       bbox,
			Confidence: raw[i].Confidence,
			ClassName:  name,
			Area:       bbox.Area(),
			CenterX:    cx,
			CenterY:    cy,
			TrackID:    detection.UntrackedID,
		})
	}
	return detections
}

func frameArea(frame *video.Frame) float64 {
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 {
		return 0
	}
	return float64(frame.Width) * float64(frame.Height)
}

// History returns a copy of the recent alert candidates for a camera.
func (d *RiskDetector) History(cameraID string) []detection.Candidate {
	d.mu.RLock()
	state, ok := d.cameras[cameraID]
	d.mu.RUnlock()
	if !ok {
		return nil
	}
	return state.history.snapshot()
}

// Stats returns the per-camera frame counters, for status surfaces.
func (d *RiskDetector) Stats() map[string]uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stats := make(map[string]uint64, len(d.cameras))
	for id, state := range d.cameras {
		stats[id] = state.frameCount.Load()
	}
	return stats
}
