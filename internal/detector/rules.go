package detector

import (
	"fmt"
	"math"
	"time"

	"github.com/kestrelwatch/kestrel/internal/detection"
)

// Rule thresholds. Tuned against the detection models in production; they
// are deliberately constants, not configuration.
const (
	crowdMinCount       = 50
	crowdHighCount      = 100
	crowdMinDensity     = 0.15
	weaponMinConfidence = 0.7
	fireMinConfidence   = 0.6
	fireMinAreaRatio    = 0.05
	trafficMinVehicles  = 30
	trafficMinDensity   = 0.3
)

// evaluateRules applies every risk rule to one frame's detections. Rules are
// independent; simultaneous matches each produce their own candidate.
func evaluateRules(detections []detection.Detection, frameArea float64, cameraID string, now time.Time) []detection.Candidate {
	var candidates []detection.Candidate

	if c := evaluateManifestation(detections, frameArea, cameraID, now); c != nil {
		candidates = append(candidates, *c)
	}
	if c := evaluateWeapon(detections, cameraID, now); c != nil {
		candidates = append(candidates, *c)
	}
	if c := evaluateFireSmoke(detections, frameArea, cameraID, now); c != nil {
		candidates = append(candidates, *c)
	}
	if c := evaluateTrafficJam(detections, frameArea, cameraID, now); c != nil {
		candidates = append(candidates, *c)
	}

	return candidates
}

// evaluateManifestation fires when enough people cover enough of the frame.
func evaluateManifestation(detections []detection.Detection, frameArea float64, cameraID string, now time.Time) *detection.Candidate {
	if frameArea <= 0 {
		return nil
	}

	personCount := 0
	personArea := 0.0
	for i := range detections {
		if detections[i].ClassName == "person" {
			personCount++
			personArea += detections[i].Area
		}
	}

	density := personArea / frameArea
	if personCount < crowdMinCount || density < crowdMinDensity {
		return nil
	}

	severity := detection.SeverityMedium
	if personCount > crowdHighCount {
		severity = detection.SeverityHigh
	}

	return &detection.Candidate{
		Type:        detection.AlertManifestation,
		Severity:    severity,
		Description: fmt.Sprintf("Crowd of %d people covering %.0f%% of frame", personCount, density*100),
		Confidence:  math.Min(0.9, density*2),
		Metadata: map[string]any{
			"person_count":  personCount,
			"area_coverage": density,
		},
		CameraID:  cameraID,
		Timestamp: now,
	}
}

// evaluateWeapon fires on any confident weapon detection.
func evaluateWeapon(detections []detection.Detection, cameraID string, now time.Time) *detection.Candidate {
	best := -1
	for i := range detections {
		if detections[i].ClassName != "weapon" || detections[i].Confidence < weaponMinConfidence {
			continue
		}
		if best < 0 || detections[i].Confidence > detections[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return nil
	}

	return &detection.Candidate{
		Type:        detection.AlertWeapon,
		Severity:    detection.SeverityCritical,
		Description: fmt.Sprintf("Weapon detected with %.0f%% confidence", detections[best].Confidence*100),
		Confidence:  detections[best].Confidence,
		Metadata: map[string]any{
			"bbox":     detections[best].BBox,
			"track_id": detections[best].TrackID,
		},
		CameraID:  cameraID,
		Timestamp: now,
	}
}

// evaluateFireSmoke fires on a confident fire or smoke detection that is
// large enough relative to the frame.
func evaluateFireSmoke(detections []detection.Detection, frameArea float64, cameraID string, now time.Time) *detection.Candidate {
	if frameArea <= 0 {
		return nil
	}

	for i := range detections {
		class := detections[i].ClassName
		if class != "fire" && class != "smoke" {
			continue
		}
		if detections[i].Confidence < fireMinConfidence {
			continue
		}
		ratio := detections[i].Area / frameArea
		if ratio < fireMinAreaRatio {
			continue
		}

		return &detection.Candidate{
			Type:        detection.AlertFireSmoke,
			Severity:    detection.SeverityHigh,
			Description: fmt.Sprintf("%s detected covering %.0f%% of frame", class, ratio*100),
			Confidence:  detections[i].Confidence,
			Metadata: map[string]any{
				"class":      class,
				"bbox":       detections[i].BBox,
				"area_ratio": ratio,
			},
			CameraID:  cameraID,
			Timestamp: now,
		}
	}
	return nil
}

// evaluateTrafficJam fires when vehicles congest most of the frame.
func evaluateTrafficJam(detections []detection.Detection, frameArea float64, cameraID string, now time.Time) *detection.Candidate {
	if frameArea <= 0 {
		return nil
	}

	vehicleCount := 0
	vehicleArea := 0.0
	for i := range detections {
		if vehicleClasses[detections[i].ClassName] {
			vehicleCount++
			vehicleArea += detections[i].Area
		}
	}

	density := vehicleArea / frameArea
	if vehicleCount < trafficMinVehicles || density <= trafficMinDensity {
		return nil
	}

	return &detection.Candidate{
		Type:        detection.AlertTrafficJam,
		Severity:    detection.SeverityMedium,
		Description: fmt.Sprintf("Traffic congestion, %d vehicles covering %.0f%% of frame", vehicleCount, density*100),
		Confidence:  math.Min(0.8, density*1.5),
		Metadata: map[string]any{
			"vehicle_count": vehicleCount,
			"area_coverage": density,
		},
		CameraID:  cameraID,
		Timestamp: now,
	}
}
