// segment.go writes time-boxed continuous recording files with sidecar
// metadata.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kestrelwatch/kestrel/internal/video"
)

// SegmentMeta is the sidecar metadata written when a segment is finalized.
type SegmentMeta struct {
	CameraID   string    `json:"camera_id"`
	FilePath   string    `json:"file_path"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	FrameCount int       `json:"frame_count"`
	FPS        int       `json:"fps"`
	FileSize   int64     `json:"file_size"`
}

// segmentWriter streams frames into one MJPEG segment file. Frames arrive
// as encoded JPEG, so the container is a plain concatenation.
type segmentWriter struct {
	file       *os.File
	path       string
	cameraID   string
	fps        int
	startTime  time.Time
	frameCount int
	bytes      int64
}

func newSegmentWriter(dir, cameraID string, fps int, now time.Time) (*segmentWriter, error) {
	camDir := filepath.Join(dir, cameraID)
	if err := os.MkdirAll(camDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating segment directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s.mjpeg", cameraID, now.Format("20060102_150405"))
	path := filepath.Join(camDir, name)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating segment file: %w", err)
	}

	return &segmentWriter{
		file:      file,
		path:      path,
		cameraID:  cameraID,
		fps:       fps,
		startTime: now,
	}, nil
}

func (sw *segmentWriter) writeFrame(frame *video.Frame) error {
	n, err := sw.file.Write(frame.Data)
	sw.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("writing frame to segment %s: %w", sw.path, err)
	}
	sw.frameCount++
	return nil
}

// finalize closes the file and writes the sidecar metadata.
func (sw *segmentWriter) finalize(now time.Time) (*SegmentMeta, error) {
	if err := sw.file.Close(); err != nil {
		return nil, fmt.Errorf("closing segment %s: %w", sw.path, err)
	}

	meta := &SegmentMeta{
		CameraID:   sw.cameraID,
		FilePath:   sw.path,
		StartTime:  sw.startTime,
		EndTime:    now,
		FrameCount: sw.frameCount,
		FPS:        sw.fps,
		FileSize:   sw.bytes,
	}

	if err := writeSidecar(sw.path, meta); err != nil {
		return meta, err
	}
	return meta, nil
}

// SidecarPath returns the metadata path paired with a media file.
func SidecarPath(mediaPath string) string {
	return mediaPath + ".json"
}

func writeSidecar(mediaPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling sidecar for %s: %w", mediaPath, err)
	}
	if err := os.WriteFile(SidecarPath(mediaPath), data, 0o644); err != nil {
		return fmt.Errorf("writing sidecar for %s: %w", mediaPath, err)
	}
	return nil
}
