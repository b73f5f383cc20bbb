// Package diskmanager enforces the recording storage quota by deleting the
// oldest segments until usage falls back under the configured target.
package diskmanager

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/kestrelwatch/kestrel/internal/conf"
	"github.com/kestrelwatch/kestrel/internal/datastore"
	"github.com/kestrelwatch/kestrel/internal/errors"
	"github.com/kestrelwatch/kestrel/internal/logging"
	"github.com/kestrelwatch/kestrel/internal/observability"
)

// mediaExtensions are the file types counted against the quota and
// eligible for deletion. Sidecars and thumbnails ride along with their
// media file rather than being counted separately.
var mediaExtensions = map[string]bool{
	".mjpeg": true,
	".mp4":   true,
	".avi":   true,
}

// mediaFile is one deletable recording on disk.
type mediaFile struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// StorageStats describes recording storage occupancy.
type StorageStats struct {
	RecordingBytes int64   `json:"recording_bytes"`
	QuotaBytes     int64   `json:"quota_bytes"`
	QuotaUsedPct   float64 `json:"quota_used_pct"`
	FileCount      int     `json:"file_count"`
	DiskTotalBytes uint64  `json:"disk_total_bytes"`
	DiskFreeBytes  uint64  `json:"disk_free_bytes"`
	DiskUsedPct    float64 `json:"disk_used_pct"`
}

// CleanupResult summarizes one cleanup pass.
type CleanupResult struct {
	FilesDeleted int
	BytesFreed   int64
	BytesBefore  int64
	BytesAfter   int64
}

// Manager runs periodic quota enforcement over the recording directory.
type Manager struct {
	settings conf.StorageSettings
	root     string
	store    datastore.Interface // may be nil
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// New creates a Manager sweeping root against settings' quota.
func New(settings conf.StorageSettings, root string, store datastore.Interface, metrics *observability.Metrics) *Manager {
	return &Manager{
		settings: settings,
		root:     root,
		store:    store,
		metrics:  metrics,
		logger:   logging.ForService("diskmanager"),
	}
}

// Run executes cleanup passes on the configured interval until ctx is
// cancelled or quit is closed. Intended to run on its own goroutine.
func (m *Manager) Run(ctx context.Context, quit <-chan struct{}) {
	interval := m.settings.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case <-ticker.C:
			if _, err := m.Cleanup(quit); err != nil {
				m.logger.Error("cleanup pass failed", "error", err)
			}
		}
	}
}

// Cleanup deletes the oldest media files until recording usage is at or
// below the usage target fraction of the quota. Individual deletion
// failures are logged and skipped. The quit channel aborts mid-pass.
func (m *Manager) Cleanup(quit <-chan struct{}) (*CleanupResult, error) {
	files, total, err := m.scan()
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{BytesBefore: total, BytesAfter: total}
	if total <= m.settings.QuotaBytes {
		return result, nil
	}

	target := int64(float64(m.settings.QuotaBytes) * m.settings.UsageTarget)
	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.Before(files[j].ModTime)
	})

	m.logger.Info("storage over quota, starting cleanup",
		"used_bytes", total,
		"quota_bytes", m.settings.QuotaBytes,
		"target_bytes", target)

	for _, f := range files {
		if result.BytesAfter <= target {
			break
		}
		select {
		case <-quit:
			m.logger.Info("cleanup interrupted",
				"deleted", result.FilesDeleted, "freed_bytes", result.BytesFreed)
			return result, nil
		default:
		}

		if err := m.deleteMedia(f.Path); err != nil {
			m.logger.Error("failed to delete recording",
				"path", f.Path, "error", err)
			continue
		}
		result.FilesDeleted++
		result.BytesFreed += f.Size
		result.BytesAfter -= f.Size
		if m.metrics != nil {
			m.metrics.CleanupDeletions.Inc()
			m.metrics.CleanupFreedBytes.Add(float64(f.Size))
		}
	}

	m.logger.Info("cleanup finished",
		"deleted", result.FilesDeleted,
		"freed_bytes", result.BytesFreed,
		"used_bytes", result.BytesAfter)
	return result, nil
}

// deleteMedia removes a media file plus its sidecar and thumbnail, and
// drops the segment's index row when a datastore is attached.
func (m *Manager) deleteMedia(path string) error {
	if err := os.Remove(path); err != nil {
		return errors.New(err).
			Component("diskmanager").
			Category(errors.CategoryDiskCleanup).
			Context("path", path).
			Build()
	}
	// Companions are best effort.
	for _, companion := range []string{path + ".json", path + "_thumb.jpg"} {
		if err := os.Remove(companion); err != nil && !os.IsNotExist(err) {
			m.logger.Debug("failed to delete companion file",
				"path", companion, "error", err)
		}
	}
	if m.store != nil {
		if err := m.store.DeleteRecordingSegment(path); err != nil {
			m.logger.Debug("failed to delete segment row",
				"path", path, "error", err)
		}
	}
	return nil
}

// scan walks the recording root collecting media files and their total size.
func (m *Manager) scan() ([]mediaFile, int64, error) {
	var files []mediaFile
	var total int64

	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !mediaExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, mediaFile{Path: path, Size: info.Size(), ModTime: info.ModTime()})
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, errors.New(err).
			Component("diskmanager").
			Category(errors.CategoryDiskUsage).
			Context("root", m.root).
			Build()
	}
	return files, total, nil
}

// Stats reports current recording usage and the backing disk's occupancy.
func (m *Manager) Stats() (*StorageStats, error) {
	files, total, err := m.scan()
	if err != nil {
		return nil, err
	}
	stats := &StorageStats{
		RecordingBytes: total,
		QuotaBytes:     m.settings.QuotaBytes,
		FileCount:      len(files),
	}
	if m.settings.QuotaBytes > 0 {
		stats.QuotaUsedPct = float64(total) / float64(m.settings.QuotaBytes) * 100
	}
	if usage, err := disk.Usage(m.root); err == nil {
		stats.DiskTotalBytes = usage.Total
		stats.DiskFreeBytes = usage.Free
		stats.DiskUsedPct = usage.UsedPercent
	}
	return stats, nil
}
