package detector

import (
	"context"
	"encoding/json"
	"io"

	"github.com/kestrelwatch/kestrel/internal/detection"
	"github.com/kestrelwatch/kestrel/internal/errors"
	"github.com/kestrelwatch/kestrel/internal/httpclient"
	"github.com/kestrelwatch/kestrel/internal/video"
)

// RemoteDetector runs inference against an HTTP model server: the frame
// JPEG goes up, detections come back as JSON.
type RemoteDetector struct {
	client   *httpclient.Client
	endpoint string
}

func NewRemoteDetector(endpoint string, client *httpclient.Client) *RemoteDetector {
	if client == nil {
		client = httpclient.New(nil)
	}
	return &RemoteDetector{client: client, endpoint: endpoint}
}

// remoteDetection is the inference server's wire format.
type remoteDetection struct {
	ClassID    int        `json:"class_id"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"` // x1, y1, x2, y2
}

func (r *RemoteDetector) Detect(ctx context.Context, frame *video.Frame) ([]RawDetection, error) {
	resp, err := r.client.Post(ctx, r.endpoint, "image/jpeg", frame.Data)
	if err != nil {
		return nil, errors.New(err).
			Component("detector").
			Category(errors.CategoryDetection).
			Context("endpoint", r.endpoint).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		io.Copy(io.Discard, resp.Body)
		return nil, errors.Newf("inference server returned status %d", resp.StatusCode).
			Component("detector").
			Category(errors.CategoryDetection).
			Context("endpoint", r.endpoint).
			Build()
	}

	var wire []remoteDetection
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, errors.New(err).
			Component("detector").
			Category(errors.CategoryDetection).
			Build()
	}

	out := make([]RawDetection, 0, len(wire))
	for _, d := range wire {
		out = append(out, RawDetection{
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			BBox: detection.BBox{
				X1: d.BBox[0], Y1: d.BBox[1],
				X2: d.BBox[2], Y2: d.BBox[3],
			},
		})
	}
	return out, nil
}
