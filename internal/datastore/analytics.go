// analytics.go: aggregation queries for the statistics surface
package datastore

import (
	"fmt"
	"time"
)

const topListLimit = 10

// AlertStatistics computes the alert counters consumed by the statistics
// endpoint: totals, unresolved, created today, unresolved by severity, and
// per-type / per-camera top lists over the trailing seven days.
func (ds *DataStore) AlertStatistics() (*AlertStatistics, error) {
	stats := &AlertStatistics{
		BySeverity: make(map[string]int64),
	}

	if err := ds.DB.Model(&Alert{}).Count(&stats.Total).Error; err != nil {
		return nil, fmt.Errorf("counting alerts: %w", err)
	}

	if err := ds.DB.Model(&Alert{}).
		Where("resolved = ?", false).
		Count(&stats.Unresolved).Error; err != nil {
		return nil, fmt.Errorf("counting unresolved alerts: %w", err)
	}

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := ds.DB.Model(&Alert{}).
		Where("timestamp >= ?", midnight).
		Count(&stats.Today).Error; err != nil {
		return nil, fmt.Errorf("counting today's alerts: %w", err)
	}

	var severityRows []TypeCount
	if err := ds.DB.Model(&Alert{}).
		Select("severity AS key, COUNT(*) AS count").
		Where("resolved = ?", false).
		Group("severity").
		Scan(&severityRows).Error; err != nil {
		return nil, fmt.Errorf("grouping alerts by severity: %w", err)
	}
	for _, row := range severityRows {
		stats.BySeverity[row.Key] = row.Count
	}

	weekAgo := now.AddDate(0, 0, -7)

	if err := ds.DB.Model(&Alert{}).
		Select("alert_type AS key, COUNT(*) AS count").
		Where("timestamp >= ?", weekAgo).
		Group("alert_type").
		Order("count DESC").
		Limit(topListLimit).
		Scan(&stats.TopTypes).Error; err != nil {
		return nil, fmt.Errorf("grouping alerts by type: %w", err)
	}

	if err := ds.DB.Model(&Alert{}).
		Select("camera_id AS key, COUNT(*) AS count").
		Where("timestamp >= ?", weekAgo).
		Group("camera_id").
		Order("count DESC").
		Limit(topListLimit).
		Scan(&stats.TopCameras).Error; err != nil {
		return nil, fmt.Errorf("grouping alerts by camera: %w", err)
	}

	return stats, nil
}
