package vision

import "sort"

// Detection is a single person detection for one frame.
type Detection struct {
	Box        Box
	Confidence float64 // 0.0 to 1.0
}

// Track is a persistent identity across frames.
type Track struct {
	ID  int
	Box Box // last matched (or last known) position
	Age int // consecutive frames since the last successful match
}

// TrackedPerson is the per-frame view of a live track.
type TrackedPerson struct {
	ID  int
	Box Box
}

// TrackerConfig holds the association parameters.
type TrackerConfig struct {
	IOUThreshold float64 // minimum IOU for a detection to continue a track
	MaxAge       int     // unmatched frames tolerated before a track is dropped
}

// DefaultTrackerConfig returns the stock association parameters.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{IOUThreshold: 0.4, MaxAge: 30}
}

// UpdateSummary describes what the most recent Update did.
type UpdateSummary struct {
	Matched int
	Created int
	Evicted int
}

// Tracker assigns persistent ids to detections with greedy IOU matching.
//
// Tracks are visited in ascending id order and each takes the best remaining
// detection. The result is order dependent and not a globally optimal
// assignment. A Tracker is not safe for concurrent use; call Update once per
// frame from a single goroutine.
type Tracker struct {
	cfg    TrackerConfig
	tracks map[int]*Track
	nextID int
	last   UpdateSummary
}

// NewTracker creates a tracker. Ids start at 1.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{
		cfg:    cfg,
		tracks: make(map[int]*Track),
		nextID: 1,
	}
}

// Update matches detections to existing tracks, ages and evicts unmatched
// tracks, and opens a new track for every unconsumed detection. It returns
// every live track, sorted by id.
func (t *Tracker) Update(detections []Detection) []TrackedPerson {
	summary := UpdateSummary{}
	consumed := make([]bool, len(detections))

	for _, id := range t.sortedIDs() {
		tr := t.tracks[id]

		best, bestIoU := -1, 0.0
		for di, det := range detections {
			if consumed[di] {
				continue
			}
			if v := IOU(tr.Box, det.Box); v > bestIoU {
				best, bestIoU = di, v
			}
		}

		if best >= 0 && bestIoU >= t.cfg.IOUThreshold {
			tr.Box = detections[best].Box
			tr.Age = 0
			consumed[best] = true
			summary.Matched++
			continue
		}

		tr.Age++
		if tr.Age > t.cfg.MaxAge {
			delete(t.tracks, id)
			summary.Evicted++
		}
	}

	for di, det := range detections {
		if consumed[di] {
			continue
		}
		t.tracks[t.nextID] = &Track{ID: t.nextID, Box: det.Box}
		t.nextID++
		summary.Created++
	}

	t.last = summary

	ids := t.sortedIDs()
	out := make([]TrackedPerson, 0, len(ids))
	for _, id := range ids {
		out = append(out, TrackedPerson{ID: id, Box: t.tracks[id].Box})
	}
	return out
}

// TrackCount returns the number of live tracks.
func (t *Tracker) TrackCount() int {
	return len(t.tracks)
}

// NextID returns the id the next new track will receive.
func (t *Tracker) NextID() int {
	return t.nextID
}

// LastUpdate reports the outcome of the most recent Update call.
func (t *Tracker) LastUpdate() UpdateSummary {
	return t.last
}

func (t *Tracker) sortedIDs() []int {
	ids := make([]int, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
