// Package detection holds the detection and alert types shared between the
// risk detector, the alert manager and the recorder.
package detection

import (
	"time"
)

// BBox is an axis-aligned bounding box in pixel coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Area returns the box area in square pixels.
func (b BBox) Area() float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Center returns the box center point.
func (b BBox) Center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// UntrackedID marks a detection the tracker could not associate.
const UntrackedID = -1

// Detection is one detected object in a frame.
type Detection struct {
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
	ClassName  string  `json:"class_name"`
	Area       float64 `json:"area"`
	CenterX    float64 `json:"center_x"`
	CenterY    float64 `json:"center_y"`
	TrackID    int     `json:"track_id"`
}

// AlertType categorizes a risk alert.
type AlertType string

const (
	AlertManifestation AlertType = "manifestation"
	AlertWeapon        AlertType = "weapon"
	AlertFireSmoke     AlertType = "fire_smoke"
	AlertTrafficJam    AlertType = "traffic_jam"
	AlertIntrusion     AlertType = "intrusion"
	AlertManual        AlertType = "manual"
)

// ValidAlertType reports whether t is a known alert type.
func ValidAlertType(t AlertType) bool {
	switch t {
	case AlertManifestation, AlertWeapon, AlertFireSmoke, AlertTrafficJam, AlertIntrusion, AlertManual:
		return true
	default:
		return false
	}
}

// Severity is the urgency level of an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRanks orders severities for minimum-severity comparisons.
var severityRanks = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s Severity) bool {
	_, ok := severityRanks[s]
	return ok
}

// SeverityRank returns the ordinal of s, -1 for unknown severities.
func SeverityRank(s Severity) int {
	rank, ok := severityRanks[s]
	if !ok {
		return -1
	}
	return rank
}

// Candidate is an unpersisted, rule-triggered risk signal produced for one
// frame. Consumed immediately by the alert manager.
type Candidate struct {
	Type        AlertType      `json:"type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	Metadata    map[string]any `json:"metadata"`
	CameraID    string         `json:"camera_id"`
	Timestamp   time.Time      `json:"timestamp"`
}
