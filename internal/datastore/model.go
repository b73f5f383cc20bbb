// model.go this code defines the data model for the application
package datastore

import "time"

// Alert represents a persisted risk alert raised for a camera.
type Alert struct {
	ID              string `gorm:"primaryKey;type:varchar(36)"`
	CameraID        string `gorm:"index:idx_alerts_camera;index:idx_alerts_camera_time"`
	AlertType       string `gorm:"index:idx_alerts_type"`
	Severity        string `gorm:"index:idx_alerts_severity"`
	Title           string
	Description     string `gorm:"type:text"`
	Confidence      float64
	Metadata        string    `gorm:"type:text"` // free-form JSON bag per alert type
	Timestamp       time.Time `gorm:"index:idx_alerts_time;index:idx_alerts_camera_time"`
	Resolved        bool      `gorm:"index:idx_alerts_resolved"`
	ResolvedAt      *time.Time
	ResolvedBy      string
	ResolutionNotes string `gorm:"type:text"`
	VideoPath       string
	ThumbnailPath   string
	ZoneID          string `gorm:"index:idx_alerts_zone"`
	Latitude        float64
	Longitude       float64
}

// NotificationRecord is one dispatch attempt for an alert. Append-only audit log.
type NotificationRecord struct {
	ID               uint   `gorm:"primaryKey"`
	AlertID          string `gorm:"index:idx_notifications_alert;type:varchar(36)"`
	NotificationType string // channel type: email, webhook, slack, discord, shoutrrr, mqtt
	Recipient        string
	Status           string // pending, sent, failed
	SentAt           *time.Time
	ErrorMessage     string `gorm:"type:text"`
}

// NotificationRule maps alert conditions to delivery actions. Loaded at
// startup, read-only at runtime.
type NotificationRule struct {
	ID         uint   `gorm:"primaryKey"`
	Name       string `gorm:"uniqueIndex"`
	Conditions string `gorm:"type:text"` // JSON, see alertmanager.RuleConditions
	Actions    string `gorm:"type:text"` // JSON, see alertmanager.RuleActions
	Enabled    bool   `gorm:"index"`
}

// RecordingSegment indexes one finalized continuous-recording file.
type RecordingSegment struct {
	ID         uint      `gorm:"primaryKey"`
	CameraID   string    `gorm:"index:idx_segments_camera;index:idx_segments_camera_start"`
	FilePath   string    `gorm:"uniqueIndex"`
	StartTime  time.Time `gorm:"index:idx_segments_camera_start"`
	FrameCount int
	FPS        int
	FileSize   int64
}

// AlertFilter narrows GetAlerts results. Nil pointer fields are not applied.
type AlertFilter struct {
	Resolved *bool
	CameraID string
	Type     string
	Severity string
	Limit    int
	Offset   int
}

// TypeCount is one row of a grouped alert count.
type TypeCount struct {
	Key   string `gorm:"column:key"`
	Count int64  `gorm:"column:count"`
}

// AlertStatistics aggregates alert counts for the statistics surface.
type AlertStatistics struct {
	Total      int64            `json:"total"`
	Unresolved int64            `json:"unresolved"`
	Today      int64            `json:"today"`
	BySeverity map[string]int64 `json:"by_severity"` // unresolved alerts only
	TopTypes   []TypeCount      `json:"top_types"`   // trailing 7 days, top 10
	TopCameras []TypeCount      `json:"top_cameras"` // trailing 7 days, top 10
}
