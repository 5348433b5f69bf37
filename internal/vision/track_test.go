package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func det(x1, y1, x2, y2 float64) Detection {
	return Detection{Box: Box{x1, y1, x2, y2}, Confidence: 0.9}
}

func ids(people []TrackedPerson) []int {
	out := make([]int, 0, len(people))
	for _, p := range people {
		out = append(out, p.ID)
	}
	return out
}

func TestTrackerTwoFrameScenario(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())

	first := tr.Update([]Detection{det(10, 10, 50, 50), det(200, 200, 240, 240)})
	require.Equal(t, []int{1, 2}, ids(first))

	second := tr.Update([]Detection{det(12, 12, 52, 52)})
	require.Len(t, second, 2)
	assert.Equal(t, 1, second[0].ID)
	assert.Equal(t, Box{12, 12, 52, 52}, second[0].Box)
	// Unmatched track keeps its last known box.
	assert.Equal(t, 2, second[1].ID)
	assert.Equal(t, Box{200, 200, 240, 240}, second[1].Box)
}

func TestTrackerContinuity(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())

	var out []TrackedPerson
	for step := 0; step < 50; step++ {
		x := float64(step * 4)
		out = tr.Update([]Detection{det(x, 100, x+60, 220)})
		require.Len(t, out, 1)
		require.Equal(t, 1, out[0].ID, "step %d", step)
	}
	assert.Equal(t, 2, tr.NextID())
}

func TestTrackerEviction(t *testing.T) {
	cfg := TrackerConfig{IOUThreshold: 0.4, MaxAge: 2}
	tr := NewTracker(cfg)

	tr.Update([]Detection{det(0, 0, 40, 80)})

	for i := 0; i < cfg.MaxAge; i++ {
		out := tr.Update(nil)
		require.Equal(t, []int{1}, ids(out), "track should survive %d misses", i+1)
	}

	out := tr.Update(nil)
	assert.Empty(t, out)
	assert.Equal(t, 1, tr.LastUpdate().Evicted)
	assert.Equal(t, 0, tr.TrackCount())

	// Reappearing at the same spot gets a fresh id.
	out = tr.Update([]Detection{det(0, 0, 40, 80)})
	assert.Equal(t, []int{2}, ids(out))
}

func TestTrackerMatchResetsAge(t *testing.T) {
	tr := NewTracker(TrackerConfig{IOUThreshold: 0.4, MaxAge: 1})

	tr.Update([]Detection{det(0, 0, 40, 80)})
	tr.Update(nil)
	out := tr.Update([]Detection{det(1, 1, 41, 81)})
	require.Equal(t, []int{1}, ids(out))

	tr.Update(nil)
	out = tr.Update(nil)
	assert.Empty(t, out)
}

func TestTrackerIDsMonotonic(t *testing.T) {
	tr := NewTracker(TrackerConfig{IOUThreshold: 0.4, MaxAge: 0})

	seen := 0
	for frame := 0; frame < 10; frame++ {
		// Disjoint positions every frame force new tracks.
		off := float64(frame * 1000)
		out := tr.Update([]Detection{det(off, 0, off+10, 10), det(off+500, 0, off+510, 10)})
		for _, p := range out {
			if p.ID > seen {
				assert.Equal(t, seen+1, p.ID)
				seen = p.ID
			}
		}
	}
	assert.Equal(t, 20, seen)
	assert.Equal(t, 21, tr.NextID())
}

func TestTrackerGreedyOrderDependence(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())

	tr.Update([]Detection{det(0, 0, 100, 100), det(10, 0, 110, 100)})

	// The single detection overlaps track 2 more, but track 1 is visited
	// first and claims it.
	d := det(20, 0, 120, 100)
	require.Greater(t, IOU(Box{10, 0, 110, 100}, d.Box), IOU(Box{0, 0, 100, 100}, d.Box))

	out := tr.Update([]Detection{d})
	require.Len(t, out, 2)
	assert.Equal(t, d.Box, out[0].Box)
	assert.Equal(t, Box{10, 0, 110, 100}, out[1].Box)
	assert.Equal(t, UpdateSummary{Matched: 1}, tr.LastUpdate())
}

func TestTrackerDetectionMatchesAtMostOneTrack(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	tr.Update([]Detection{det(0, 0, 100, 100), det(0, 0, 100, 100)})

	out := tr.Update([]Detection{det(0, 0, 100, 100)})
	require.Len(t, out, 2)
	summary := tr.LastUpdate()
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, 0, summary.Created)
}

func TestTrackerBelowThresholdSpawnsNewTrack(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	tr.Update([]Detection{det(0, 0, 100, 100)})

	// IOU 0.25 is under the 0.4 threshold.
	out := tr.Update([]Detection{det(50, 0, 150, 100)})
	assert.Equal(t, []int{1, 2}, ids(out))
	assert.Equal(t, UpdateSummary{Created: 1}, tr.LastUpdate())
}

func TestTrackerToleratesMalformedBoxes(t *testing.T) {
	tr := NewTracker(DefaultTrackerConfig())
	tr.Update([]Detection{det(50, 50, 10, 10)})
	out := tr.Update([]Detection{det(50, 50, 10, 10)})
	// Zero IOU never matches, so the malformed detection opens a second track.
	assert.Equal(t, []int{1, 2}, ids(out))
}
