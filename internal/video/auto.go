package video

import (
	"context"
	"strings"
)

// AutoSource picks a decoder per stream URL: native multipart reading for
// MJPEG endpoints, ffmpeg for everything else.
type AutoSource struct {
	mjpeg  *MJPEGSource
	ffmpeg *FFmpegSource
}

func NewAutoSource(ffmpegBinary string, fps int) *AutoSource {
	return &AutoSource{
		mjpeg:  NewMJPEGSource(),
		ffmpeg: NewFFmpegSource(ffmpegBinary, fps),
	}
}

func (s *AutoSource) Open(ctx context.Context, streamURL string, headers map[string]string) (FrameReader, error) {
	lower := strings.ToLower(streamURL)
	if strings.Contains(lower, "mjpg") || strings.Contains(lower, "mjpeg") {
		return s.mjpeg.Open(ctx, streamURL, headers)
	}
	return s.ffmpeg.Open(ctx, streamURL, headers)
}
