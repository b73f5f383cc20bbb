package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/kestrelwatch/kestrel/internal/errors"
	"github.com/kestrelwatch/kestrel/internal/logging"
)

// FFmpegSource decodes arbitrary protocols (rtsp, rtmp, hls) by piping the
// stream through an ffmpeg subprocess that re-emits MJPEG on stdout.
type FFmpegSource struct {
	binary string
	fps    int
}

// NewFFmpegSource creates a source transcoding to the given frame rate.
// binary defaults to "ffmpeg" when empty.
func NewFFmpegSource(binary string, fps int) *FFmpegSource {
	if binary == "" {
		binary = "ffmpeg"
	}
	if fps <= 0 {
		fps = 15
	}
	return &FFmpegSource{binary: binary, fps: fps}
}

func (s *FFmpegSource) Open(ctx context.Context, streamURL string, headers map[string]string) (FrameReader, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
	}
	if strings.HasPrefix(streamURL, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	if len(headers) > 0 {
		var b strings.Builder
		for k, v := range headers {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
		args = append(args, "-headers", b.String())
	}
	args = append(args,
		"-i", streamURL,
		"-an",
		"-vf", fmt.Sprintf("fps=%d", s.fps),
		"-f", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, s.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.New(err).
			Component("video").
			Category(errors.CategoryStreamCapture).
			Build()
	}
	cmd.Stderr = &prefixLogger{url: streamURL}

	if err := cmd.Start(); err != nil {
		return nil, errors.New(err).
			Component("video").
			Category(errors.CategoryStreamCapture).
			Context("url", streamURL).
			Build()
	}

	return &ffmpegReader{
		cmd:    cmd,
		stdout: stdout,
		br:     bufio.NewReaderSize(stdout, 1<<20),
	}, nil
}

// prefixLogger routes ffmpeg stderr lines into the structured log.
type prefixLogger struct {
	url string
}

func (p *prefixLogger) Write(b []byte) (int, error) {
	line := strings.TrimSpace(string(b))
	if line != "" {
		logging.ForService("video").Debug("ffmpeg", "url", p.url, "output", line)
	}
	return len(b), nil
}

type ffmpegReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	br     *bufio.Reader
}

// ReadFrame scans the MJPEG byte stream for the next SOI..EOI JPEG.
func (r *ffmpegReader) ReadFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Seek the start-of-image marker.
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			return nil, io.EOF
		}
		if b != 0xFF {
			continue
		}
		next, err := r.br.ReadByte()
		if err != nil {
			return nil, io.EOF
		}
		if next == 0xD8 {
			break
		}
	}

	data := []byte{0xFF, 0xD8}
	prev := byte(0)
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			return nil, io.EOF
		}
		data = append(data, b)
		if prev == 0xFF && b == 0xD9 {
			break
		}
		prev = b
	}

	frame := &Frame{Data: data, Timestamp: time.Now()}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		frame.Width = cfg.Width
		frame.Height = cfg.Height
	}
	return frame, nil
}

func (r *ffmpegReader) Close() error {
	r.stdout.Close()
	if r.cmd.Process != nil {
		r.cmd.Process.Kill()
	}
	return r.cmd.Wait()
}
