package recorder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelwatch/kestrel/internal/video"
)

func makeFrame(tag byte) *video.Frame {
	return &video.Frame{
		Data:      []byte{0xFF, 0xD8, tag, 0xFF, 0xD9},
		Timestamp: time.Now(),
	}
}

func TestNewFrameBufferRejectsNonPositiveCapacity(t *testing.T) {
	t.Parallel()

	for _, capacity := range []int{0, -1} {
		_, err := NewFrameBuffer(capacity)
		assert.Error(t, err, "capacity %d", capacity)
	}
}

func TestFrameBufferAppendBelowCapacity(t *testing.T) {
	t.Parallel()

	fb, err := NewFrameBuffer(5)
	require.NoError(t, err)

	for i := byte(0); i < 3; i++ {
		fb.Append(makeFrame(i))
	}

	assert.Equal(t, 3, fb.Len())
	frames := fb.Snapshot()
	require.Len(t, frames, 3)
	for i := byte(0); i < 3; i++ {
		assert.Equal(t, i, frames[i].Data[2])
	}
}

func TestFrameBufferEvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()

	fb, err := NewFrameBuffer(3)
	require.NoError(t, err)

	for i := byte(0); i < 5; i++ {
		fb.Append(makeFrame(i))
	}

	assert.Equal(t, 3, fb.Len())
	frames := fb.Snapshot()
	require.Len(t, frames, 3)

	// Oldest two were evicted, survivors are in arrival order.
	assert.Equal(t, byte(2), frames[0].Data[2])
	assert.Equal(t, byte(3), frames[1].Data[2])
	assert.Equal(t, byte(4), frames[2].Data[2])
}

func TestFrameBufferSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	fb, err := NewFrameBuffer(2)
	require.NoError(t, err)
	fb.Append(makeFrame(1))

	frames := fb.Snapshot()
	require.Len(t, frames, 1)

	fb.Append(makeFrame(2))
	fb.Append(makeFrame(3))

	// The earlier snapshot is unaffected by later appends.
	assert.Len(t, frames, 1)
	assert.Equal(t, byte(1), frames[0].Data[2])
}

func TestFrameBufferLast(t *testing.T) {
	t.Parallel()

	fb, err := NewFrameBuffer(2)
	require.NoError(t, err)

	assert.Nil(t, fb.Last())

	fb.Append(makeFrame(7))
	fb.Append(makeFrame(8))
	fb.Append(makeFrame(9))

	last := fb.Last()
	require.NotNil(t, last)
	assert.Equal(t, byte(9), last.Data[2])
}
