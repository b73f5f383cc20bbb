package diskmanager

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelwatch/kestrel/internal/conf"
)

// writeSegment drops a fake media file of the given size, with sidecar and
// thumbnail, stamped at the given age.
func writeSegment(t *testing.T, root, name string, size int, age time.Duration) string {
	t.Helper()
	path := filepath.Join(root, "cam-1", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	require.NoError(t, os.WriteFile(path+".json", []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(path+"_thumb.jpg", []byte("j"), 0o644))

	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func newTestManager(root string, quota int64) *Manager {
	return New(conf.StorageSettings{
		QuotaBytes:      quota,
		CleanupInterval: time.Hour,
		UsageTarget:     0.8,
	}, root, nil, nil)
}

func TestCleanupNoopUnderQuota(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeSegment(t, root, "a.mjpeg", 100, time.Hour)

	m := newTestManager(root, 10_000)
	result, err := m.Cleanup(nil)

	require.NoError(t, err)
	assert.Zero(t, result.FilesDeleted)
	assert.Equal(t, int64(100), result.BytesAfter)
}

func TestCleanupDeletesOldestUntilTarget(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	oldest := writeSegment(t, root, "old.mjpeg", 400, 3*time.Hour)
	middle := writeSegment(t, root, "mid.mjpeg", 400, 2*time.Hour)
	newest := writeSegment(t, root, "new.mjpeg", 400, time.Hour)

	// 1200 bytes used against a 1000-byte quota; target is 800.
	m := newTestManager(root, 1000)
	result, err := m.Cleanup(nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesDeleted)
	assert.Equal(t, int64(400), result.BytesFreed)
	assert.LessOrEqual(t, result.BytesAfter, int64(800))

	assert.NoFileExists(t, oldest)
	assert.FileExists(t, middle)
	assert.FileExists(t, newest)
}

func TestCleanupRemovesCompanionFiles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	oldest := writeSegment(t, root, "old.mjpeg", 900, 2*time.Hour)
	writeSegment(t, root, "new.mjpeg", 900, time.Hour)

	m := newTestManager(root, 1000)
	_, err := m.Cleanup(nil)
	require.NoError(t, err)

	assert.NoFileExists(t, oldest)
	assert.NoFileExists(t, oldest+".json")
	assert.NoFileExists(t, oldest+"_thumb.jpg")
}

func TestCleanupIgnoresForeignFiles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	writeSegment(t, root, "a.mjpeg", 500, time.Hour)
	stray := filepath.Join(root, "notes.txt")
	require.NoError(t, os.WriteFile(stray, make([]byte, 5000), 0o644))

	m := newTestManager(root, 1000)
	result, err := m.Cleanup(nil)
	require.NoError(t, err)

	// The text file neither counts toward usage nor gets deleted.
	assert.Zero(t, result.FilesDeleted)
	assert.FileExists(t, stray)
}

func TestCleanupHonorsQuitChannel(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	writeSegment(t, root, "a.mjpeg", 600, 2*time.Hour)
	writeSegment(t, root, "b.mjpeg", 600, time.Hour)

	quit := make(chan struct{})
	close(quit)

	m := newTestManager(root, 1000)
	result, err := m.Cleanup(quit)
	require.NoError(t, err)
	assert.Zero(t, result.FilesDeleted)
}

func TestCleanupMissingRootIsNotAnError(t *testing.T) {
	t.Parallel()
	m := newTestManager(filepath.Join(t.TempDir(), "missing"), 1000)

	result, err := m.Cleanup(nil)
	require.NoError(t, err)
	assert.Zero(t, result.FilesDeleted)
}

func TestStats(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	writeSegment(t, root, "a.mjpeg", 250, time.Hour)
	writeSegment(t, root, "b.mjpeg", 250, time.Hour)

	m := newTestManager(root, 1000)
	stats, err := m.Stats()
	require.NoError(t, err)

	assert.Equal(t, int64(500), stats.RecordingBytes)
	assert.Equal(t, 2, stats.FileCount)
	assert.InDelta(t, 50.0, stats.QuotaUsedPct, 1e-9)
}
