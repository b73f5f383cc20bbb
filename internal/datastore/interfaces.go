// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"fmt"
	"time"

	"github.com/kestrelwatch/kestrel/internal/conf"
	"gorm.io/gorm"
)

// Interface abstracts the underlying database implementation and defines the
// operations the surveillance core performs against the store.
type Interface interface {
	Open() error
	Close() error

	// alerts
	SaveAlert(alert *Alert) error
	GetAlert(id string) (Alert, error)
	ResolveAlert(id, resolvedBy, notes string, at time.Time) error
	SetAlertMedia(id, videoPath, thumbnailPath string) error
	GetAlerts(filter *AlertFilter) ([]Alert, error)
	AlertStatistics() (*AlertStatistics, error)

	// notification audit
	SaveNotificationRecord(record *NotificationRecord) error
	GetNotificationRecords(alertID string) ([]NotificationRecord, error)

	// notification rules
	GetNotificationRules() ([]NotificationRule, error)
	SaveNotificationRule(rule *NotificationRule) error

	// recordings
	SaveRecordingSegment(segment *RecordingSegment) error
	DeleteRecordingSegment(filePath string) error
	GetRecordings(cameraID string, limit, offset int) ([]RecordingSegment, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// performAutoMigration runs gorm auto-migration for all models.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&Alert{},
		&NotificationRecord{},
		&NotificationRule{},
		&RecordingSegment{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}
	if debug {
		getLogger().Debug("Database schema migrated", "type", dbType, "connection", connectionInfo)
	}
	return nil
}

// SaveAlert inserts a new alert row.
func (ds *DataStore) SaveAlert(alert *Alert) error {
	if ds.DB == nil {
		return fmt.Errorf("database connection is not initialized")
	}
	if err := ds.DB.Create(alert).Error; err != nil {
		return fmt.Errorf("saving alert %s: %w", alert.ID, err)
	}
	return nil
}

// GetAlert retrieves an alert by its ID.
func (ds *DataStore) GetAlert(id string) (Alert, error) {
	var alert Alert
	if err := ds.DB.Where("id = ?", id).First(&alert).Error; err != nil {
		return Alert{}, fmt.Errorf("getting alert %s: %w", id, err)
	}
	return alert, nil
}

// ResolveAlert marks an alert resolved. Already-resolved alerts are left
// untouched so the first resolution timestamp survives repeated calls.
func (ds *DataStore) ResolveAlert(id, resolvedBy, notes string, at time.Time) error {
	result := ds.DB.Model(&Alert{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]any{
			"resolved":         true,
			"resolved_at":      at,
			"resolved_by":      resolvedBy,
			"resolution_notes": notes,
		})
	if result.Error != nil {
		return fmt.Errorf("resolving alert %s: %w", id, result.Error)
	}
	return nil
}

// SetAlertMedia records the clip and thumbnail paths for an alert.
func (ds *DataStore) SetAlertMedia(id, videoPath, thumbnailPath string) error {
	result := ds.DB.Model(&Alert{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"video_path":     videoPath,
			"thumbnail_path": thumbnailPath,
		})
	if result.Error != nil {
		return fmt.Errorf("setting media for alert %s: %w", id, result.Error)
	}
	return nil
}

// GetAlerts returns alerts matching the filter, newest first.
func (ds *DataStore) GetAlerts(filter *AlertFilter) ([]Alert, error) {
	query := ds.DB.Model(&Alert{})
	if filter != nil {
		if filter.Resolved != nil {
			query = query.Where("resolved = ?", *filter.Resolved)
		}
		if filter.CameraID != "" {
			query = query.Where("camera_id = ?", filter.CameraID)
		}
		if filter.Type != "" {
			query = query.Where("alert_type = ?", filter.Type)
		}
		if filter.Severity != "" {
			query = query.Where("severity = ?", filter.Severity)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			query = query.Offset(filter.Offset)
		}
	}

	var alerts []Alert
	if err := query.Order("timestamp DESC").Find(&alerts).Error; err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	return alerts, nil
}

// SaveNotificationRecord appends one dispatch attempt to the audit log.
func (ds *DataStore) SaveNotificationRecord(record *NotificationRecord) error {
	if err := ds.DB.Create(record).Error; err != nil {
		return fmt.Errorf("saving notification record for alert %s: %w", record.AlertID, err)
	}
	return nil
}

// GetNotificationRecords returns the dispatch audit trail for one alert.
func (ds *DataStore) GetNotificationRecords(alertID string) ([]NotificationRecord, error) {
	var records []NotificationRecord
	if err := ds.DB.Where("alert_id = ?", alertID).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("querying notification records for alert %s: %w", alertID, err)
	}
	return records, nil
}

// GetNotificationRules returns all enabled notification rules.
func (ds *DataStore) GetNotificationRules() ([]NotificationRule, error) {
	var rules []NotificationRule
	if err := ds.DB.Where("enabled = ?", true).Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("querying notification rules: %w", err)
	}
	return rules, nil
}

// SaveNotificationRule inserts or updates a rule by primary key.
func (ds *DataStore) SaveNotificationRule(rule *NotificationRule) error {
	if err := ds.DB.Save(rule).Error; err != nil {
		return fmt.Errorf("saving notification rule %q: %w", rule.Name, err)
	}
	return nil
}

// SaveRecordingSegment indexes one finalized segment file.
func (ds *DataStore) SaveRecordingSegment(segment *RecordingSegment) error {
	if err := ds.DB.Create(segment).Error; err != nil {
		return fmt.Errorf("saving recording segment %s: %w", segment.FilePath, err)
	}
	return nil
}

// DeleteRecordingSegment removes the index row for a deleted segment file.
func (ds *DataStore) DeleteRecordingSegment(filePath string) error {
	if err := ds.DB.Where("file_path = ?", filePath).Delete(&RecordingSegment{}).Error; err != nil {
		return fmt.Errorf("deleting recording segment %s: %w", filePath, err)
	}
	return nil
}

// GetRecordings lists segments for a camera, newest first.
func (ds *DataStore) GetRecordings(cameraID string, limit, offset int) ([]RecordingSegment, error) {
	query := ds.DB.Model(&RecordingSegment{})
	if cameraID != "" {
		query = query.Where("camera_id = ?", cameraID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var segments []RecordingSegment
	if err := query.Order("start_time DESC").Find(&segments).Error; err != nil {
		return nil, fmt.Errorf("querying recordings: %w", err)
	}
	return segments, nil
}
