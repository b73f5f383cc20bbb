package resolver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"github.com/kestrelwatch/kestrel/internal/errors"
)

const extractTimeout = 60 * time.Second

// YtDlpExtractor shells out to yt-dlp for platform live extraction.
type YtDlpExtractor struct {
	binary string
}

// NewYtDlpExtractor creates an extractor. binary defaults to "yt-dlp".
func NewYtDlpExtractor(binary string) *YtDlpExtractor {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YtDlpExtractor{binary: binary}
}

// ytdlpInfo is the subset of yt-dlp's -j output the resolver consumes.
type ytdlpInfo struct {
	URL         string            `json:"url"`
	Ext         string            `json:"ext"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	FPS         float64           `json:"fps"`
	Title       string            `json:"title"`
	IsLive      bool              `json:"is_live"`
	LiveStatus  string            `json:"live_status"`
	WebpageURL  string            `json:"webpage_url"`
	HTTPHeaders map[string]string `json:"http_headers"`
}

func (e *YtDlpExtractor) ExtractLive(ctx context.Context, pageURL string) (*LiveInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	out, err := e.run(ctx, "-j", "--no-warnings", "--no-playlist", pageURL)
	if err != nil {
		return nil, err
	}

	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, errors.New(err).
			Component("resolver").
			Category(errors.CategoryStreamResolve).
			Context("url", pageURL).
			Build()
	}

	return &LiveInfo{
		StreamURL: info.URL,
		Format:    info.Ext,
		Width:     info.Width,
		Height:    info.Height,
		FPS:       info.FPS,
		Title:     info.Title,
		IsLive:    info.IsLive || info.LiveStatus == "is_live",
		Headers:   info.HTTPHeaders,
	}, nil
}

func (e *YtDlpExtractor) ChannelLive(ctx context.Context, channelURL string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	out, err := e.run(ctx, "-j", "--flat-playlist", "--no-warnings", channelURL)
	if err != nil {
		return nil, err
	}

	// Flat playlist output is one JSON object per line.
	var live []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry ytdlpInfo
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.LiveStatus == "is_live" || entry.IsLive {
			url := entry.WebpageURL
			if url == "" {
				url = entry.URL
			}
			if url != "" {
				live = append(live, url)
			}
		}
	}
	return live, nil
}

func (e *YtDlpExtractor) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, errors.Newf("extraction failed: %s", msg).
			Component("resolver").
			Category(errors.CategoryStreamResolve).
			Build()
	}
	return stdout.Bytes(), nil
}
