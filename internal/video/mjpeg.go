package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	_ "image/jpeg" // frame dimension probing

	"github.com/kestrelwatch/kestrel/internal/errors"
)

// MJPEGSource reads multipart/x-mixed-replace MJPEG streams over HTTP.
// It keeps its own http.Client: the pooled client's total-request timeout
// would sever a long-lived stream body.
type MJPEGSource struct {
	client *http.Client
}

func NewMJPEGSource() *MJPEGSource {
	return &MJPEGSource{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ResponseHeaderTimeout: 15 * time.Second,
			},
		},
	}
}

// Open connects and locks onto the multipart boundary. The returned reader
// is tied to ctx; cancelling it aborts the underlying connection.
func (s *MJPEGSource) Open(ctx context.Context, streamURL string, headers map[string]string) (FrameReader, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, http.NoBody)
	if err != nil {
		return nil, errors.New(err).
			Component("video").
			Category(errors.CategoryStreamCapture).
			Context("url", streamURL).
			Build()
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.New(err).
			Component("video").
			Category(errors.CategoryStreamCapture).
			Context("url", streamURL).
			Build()
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Newf("stream returned status %d", resp.StatusCode).
			Component("video").
			Category(errors.CategoryStreamCapture).
			Context("url", streamURL).
			Build()
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		resp.Body.Close()
		return nil, errors.Newf("not an MJPEG stream, content-type %q", resp.Header.Get("Content-Type")).
			Component("video").
			Category(errors.CategoryStreamCapture).
			Context("url", streamURL).
			Build()
	}
	boundary := params["boundary"]
	if boundary == "" {
		resp.Body.Close()
		return nil, errors.Newf("multipart stream missing boundary").
			Component("video").
			Category(errors.CategoryStreamCapture).
			Build()
	}

	return &mjpegReader{
		body:  resp.Body,
		parts: multipart.NewReader(resp.Body, boundary),
	}, nil
}

type mjpegReader struct {
	body  io.ReadCloser
	parts *multipart.Reader
}

func (r *mjpegReader) ReadFrame(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	part, err := r.parts.NextPart()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading multipart frame: %w", err)
	}
	data, err := io.ReadAll(part)
	part.Close()
	if err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}

	frame := &Frame{Data: data, Timestamp: time.Now()}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		frame.Width = cfg.Width
		frame.Height = cfg.Height
	}
	return frame, nil
}

func (r *mjpegReader) Close() error {
	return r.body.Close()
}
