package detector

import (
	"sync"

	"github.com/kestrelwatch/kestrel/internal/detection"
)

// historyCapacity bounds the in-memory candidate history per camera. The
// durable record lives in the datastore; this is for quick inspection.
const historyCapacity = 100

// candidateHistory is a fixed-capacity ring of recent alert candidates.
type candidateHistory struct {
	mu       sync.Mutex
	entries  []detection.Candidate
	next     int
	wrapped  bool
	capacity int
}

func newCandidateHistory(capacity int) *candidateHistory {
	return &candidateHistory{
		entries:  make([]detection.Candidate, capacity),
		capacity: capacity,
	}
}

func (h *candidateHistory) add(c detection.Candidate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = c
	h.next = (h.next + 1) % h.capacity
	if h.next == 0 {
		h.wrapped = true
	}
}

// snapshot returns the retained candidates, oldest first.
func (h *candidateHistory) snapshot() []detection.Candidate {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.wrapped {
		out := make([]detection.Candidate, h.next)
		copy(out, h.entries[:h.next])
		return out
	}
	out := make([]detection.Candidate, 0, h.capacity)
	out = append(out, h.entries[h.next:]...)
	out = append(out, h.entries[:h.next]...)
	return out
}
