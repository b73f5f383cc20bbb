// Package video defines the frame contract between stream sources, the
// detector and the recorder. Decoding is delegated to an external provider;
// frames cross this boundary as encoded images with dimensions attached.
package video

import (
	"context"
	"time"
)

// Frame is one decoded-metadata video frame. Data holds the encoded image
// bytes (typically JPEG); Width and Height describe the decoded dimensions.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// Clone returns a deep copy of the frame. Buffered frames must not alias
// the reader's scratch memory.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return &Frame{
		Data:      data,
		Width:     f.Width,
		Height:    f.Height,
		Timestamp: f.Timestamp,
	}
}

// FrameReader yields frames from an open stream in arrival order.
type FrameReader interface {
	// ReadFrame blocks until the next frame is available or the context is
	// done. Returns io.EOF when the stream ends.
	ReadFrame(ctx context.Context) (*Frame, error)
	Close() error
}

// StreamSource opens resolved stream endpoints. Implementations wrap an
// OS/library decoder outside the core.
type StreamSource interface {
	Open(ctx context.Context, streamURL string, headers map[string]string) (FrameReader, error)
}
