package alertmanager

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/kestrelwatch/kestrel/internal/datastore"
	"github.com/kestrelwatch/kestrel/internal/detection"
	"github.com/kestrelwatch/kestrel/internal/errors"
)

// RuleConditions is the parsed form of a notification rule's condition
// JSON. All present conditions must match; absent ones match everything.
type RuleConditions struct {
	AlertTypes    []string `json:"alert_types,omitempty"`
	MinSeverity   string   `json:"min_severity,omitempty"`
	CameraIDs     []string `json:"camera_ids,omitempty"`
	ZoneIDs       []string `json:"zone_ids,omitempty"`
	MinConfidence float64  `json:"min_confidence,omitempty"`
	StartHour     *int     `json:"start_hour,omitempty"`
	EndHour       *int     `json:"end_hour,omitempty"`
}

// RuleActions names the channels a matched rule routes to.
type RuleActions struct {
	Channels   []string `json:"channels"`
	Recipients []string `json:"recipients,omitempty"`
}

// parsedRule is a NotificationRule with its JSON columns decoded.
type parsedRule struct {
	ID         uint
	Name       string
	Conditions RuleConditions
	Actions    RuleActions
}

func parseRule(row *datastore.NotificationRule) (*parsedRule, error) {
	rule := &parsedRule{ID: row.ID, Name: row.Name}
	if row.Conditions != "" {
		if err := json.Unmarshal([]byte(row.Conditions), &rule.Conditions); err != nil {
			return nil, errors.New(err).
				Component("alertmanager").
				Category(errors.CategoryValidation).
				Context("rule", row.Name).
				Build()
		}
	}
	if row.Actions != "" {
		if err := json.Unmarshal([]byte(row.Actions), &rule.Actions); err != nil {
			return nil, errors.New(err).
				Component("alertmanager").
				Category(errors.CategoryValidation).
				Context("rule", row.Name).
				Build()
		}
	}
	return rule, nil
}

// matches reports whether an alert satisfies every present condition.
func (r *parsedRule) matches(alert *datastore.Alert) bool {
	c := &r.Conditions

	if len(c.AlertTypes) > 0 && !slices.Contains(c.AlertTypes, alert.AlertType) {
		return false
	}
	if c.MinSeverity != "" {
		min := detection.SeverityRank(detection.Severity(c.MinSeverity))
		got := detection.SeverityRank(detection.Severity(alert.Severity))
		if min < 0 || got < min {
			return false
		}
	}
	if len(c.CameraIDs) > 0 && !slices.Contains(c.CameraIDs, alert.CameraID) {
		return false
	}
	// Zone conditions only constrain alerts that carry a zone.
	if len(c.ZoneIDs) > 0 && alert.ZoneID != "" && !slices.Contains(c.ZoneIDs, alert.ZoneID) {
		return false
	}
	if c.MinConfidence > 0 && alert.Confidence < c.MinConfidence {
		return false
	}
	if c.StartHour != nil && c.EndHour != nil {
		if !hourInRange(alert.Timestamp, *c.StartHour, *c.EndHour) {
			return false
		}
	}
	return true
}

// hourInRange checks the alert hour against an inclusive window. Ranges
// crossing midnight (22 to 6) wrap.
func hourInRange(t time.Time, start, end int) bool {
	h := t.Hour()
	if start <= end {
		return h >= start && h <= end
	}
	return h >= start || h <= end
}
