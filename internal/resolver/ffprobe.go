package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/kestrelwatch/kestrel/internal/errors"
)

// FFProbe inspects stream endpoints via the ffprobe binary.
type FFProbe struct {
	binary string
}

// NewFFProbe creates a prober. binary defaults to "ffprobe".
func NewFFProbe(binary string) *FFProbe {
	if binary == "" {
		binary = "ffprobe"
	}
	return &FFProbe{binary: binary}
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

func (p *FFProbe) Probe(ctx context.Context, streamURL string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		streamURL,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return nil, errors.New(err).
			Component("resolver").
			Category(errors.CategoryStreamResolve).
			Context("url", streamURL).
			Build()
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, errors.New(err).
			Component("resolver").
			Category(errors.CategoryStreamResolve).
			Build()
	}

	result := &ProbeResult{Format: out.Format.FormatName}
	if secs, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		result.Duration = time.Duration(secs * float64(time.Second))
	}
	for _, s := range out.Streams {
		if s.CodecType != "video" {
			continue
		}
		result.Width = s.Width
		result.Height = s.Height
		result.FPS = parseFrameRate(s.AvgFrameRate)
		if result.Format == "" {
			result.Format = s.CodecName
		}
		break
	}
	return result, nil
}

// parseFrameRate converts ffprobe's "num/den" rational to a float.
func parseFrameRate(rate string) float64 {
	num, den, ok := strings.Cut(rate, "/")
	if !ok {
		v, _ := strconv.ParseFloat(rate, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
