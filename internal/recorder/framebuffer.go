// framebuffer.go defines the ring buffer holding each camera's most recent
// frames, used to retroactively build pre-alert clips.
package recorder

import (
	"fmt"
	"sync"

	"github.com/kestrelwatch/kestrel/internal/video"
)

// FrameBuffer is a fixed-capacity circular buffer of frames. The oldest
// frame is evicted first once capacity is reached.
type FrameBuffer struct {
	mu       sync.Mutex
	frames   []*video.Frame
	next     int
	count    int
	capacity int
}

// NewFrameBuffer creates a buffer holding capacity frames. Capacity is
// preAlertSeconds multiplied by the camera frame rate.
func NewFrameBuffer(capacity int) (*FrameBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid frame buffer capacity: %d, must be greater than 0", capacity)
	}
	return &FrameBuffer{
		frames:   make([]*video.Frame, capacity),
		capacity: capacity,
	}, nil
}

// Append adds a frame, evicting the oldest when full. The frame is stored
// as given; callers must not mutate it afterwards.
func (fb *FrameBuffer) Append(frame *video.Frame) {
	if frame == nil {
		return
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.frames[fb.next] = frame
	fb.next = (fb.next + 1) % fb.capacity
	if fb.count < fb.capacity {
		fb.count++
	}
}

// Snapshot returns the buffered frames in append order, oldest first.
// The returned slice is a copy and safe to use while writes continue.
func (fb *FrameBuffer) Snapshot() []*video.Frame {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	out := make([]*video.Frame, 0, fb.count)
	if fb.count < fb.capacity {
		out = append(out, fb.frames[:fb.count]...)
		return out
	}
	out = append(out, fb.frames[fb.next:]...)
	out = append(out, fb.frames[:fb.next]...)
	return out
}

// Last returns the most recently appended frame, nil when empty.
func (fb *FrameBuffer) Last() *video.Frame {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.count == 0 {
		return nil
	}
	idx := (fb.next - 1 + fb.capacity) % fb.capacity
	return fb.frames[idx]
}

// Len returns the number of buffered frames.
func (fb *FrameBuffer) Len() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.count
}

// Capacity returns the fixed buffer capacity.
func (fb *FrameBuffer) Capacity() int {
	return fb.capacity
}
