package detector

import (
	"math"
	"sync"

	"github.com/kestrelwatch/kestrel/internal/detection"
)

const (
	trackerMaxAge   = 20  // frames a track survives unmatched
	trackerMinHits  = 3   // matches required before an ID is reported
	trackerMatchIOU = 0.3 // minimum overlap to associate
)

// IOUTracker associates detections across frames by bounding-box overlap.
// Tracks younger than minHits stay unreported so one-frame flickers never
// earn an ID.
type IOUTracker struct {
	mu     sync.Mutex
	nextID int
	tracks []*track
}

type track struct {
	id   int
	bbox detection.BBox
	hits int
	age  int
}

func NewIOUTracker() *IOUTracker {
	return &IOUTracker{nextID: 1}
}

func (t *IOUTracker) Update(detections []detection.Detection) []detection.Detection {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tr := range t.tracks {
		tr.age++
	}

	out := make([]detection.Detection, len(detections))
	copy(out, detections)

	matched := make(map[int]bool, len(t.tracks))
	for i := range out {
		best := -1
		bestIOU := trackerMatchIOU
		for j, tr := range t.tracks {
			if matched[j] {
				continue
			}
			if v := iou(out[i].BBox, tr.bbox); v > bestIOU {
				bestIOU = v
				best = j
			}
		}
		if best >= 0 {
			tr := t.tracks[best]
			matched[best] = true
			tr.bbox = out[i].BBox
			tr.hits++
			tr.age = 0
			if tr.hits >= trackerMinHits {
				out[i].TrackID = tr.id
			} else {
				out[i].TrackID = detection.UntrackedID
			}
			continue
		}
		t.tracks = append(t.tracks, &track{
			id:   t.nextID,
			bbox: out[i].BBox,
			hits: 1,
		})
		t.nextID++
		out[i].TrackID = detection.UntrackedID
	}

	alive := t.tracks[:0]
	for _, tr := range t.tracks {
		if tr.age <= trackerMaxAge {
			alive = append(alive, tr)
		}
	}
	t.tracks = alive

	return out
}

// iou computes intersection over union of two boxes.
func iou(a, b detection.BBox) float64 {
	x1 := math.Max(a.X1, b.X1)
	y1 := math.Max(a.Y1, b.Y1)
	x2 := math.Min(a.X2, b.X2)
	y2 := math.Min(a.Y2, b.Y2)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
