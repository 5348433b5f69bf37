// Package heatmap accumulates per-camera dwell statistics and a decaying
// spatial intensity field from tracked people.
package heatmap

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/your-org/retailedge/internal/timeutil"
	"github.com/your-org/retailedge/internal/vision"
)

// ErrEmptyFrame is returned by New when the first frame has no pixels.
var ErrEmptyFrame = errors.New("heatmap: empty frame")

const (
	// stationaryPx is the centroid displacement below which a person is
	// considered to be standing still.
	stationaryPx = 10.0

	decayFactor = 0.98

	visitRadius = 20
	visitWeight = 1.0
	hotRadius   = 30
	hotWeight   = 2.0
)

// Config holds per-camera aggregation parameters.
type Config struct {
	CameraID       string
	DwellThreshold time.Duration
	HotThreshold   time.Duration
	CellSize       int
	OutDir         string
	Clock          timeutil.Clock
	Logger         *slog.Logger
}

// DefaultConfig returns the stock thresholds for a camera.
func DefaultConfig(cameraID string) Config {
	return Config{
		CameraID:       cameraID,
		DwellThreshold: 5 * time.Second,
		HotThreshold:   10 * time.Second,
		CellSize:       50,
		OutDir:         "heatmap_reports",
	}
}

// Cell is one coarse grid zone, keyed by integer grid coordinates.
type Cell struct {
	X, Y int
}

// CellStats is the visit summary of one zone.
type CellStats struct {
	Visits      int
	HotSpots    int
	AvgDwell    float64 // seconds
	VisitWeight int
}

// Event describes a newly counted visit or hot spot.
type Event struct {
	TrackID int
	Cell    Cell
	Dwell   time.Duration
}

// Events is what a single Update counted.
type Events struct {
	Stationary int
	Visits     []Event
	HotSpots   []Event
}

type cellAcc struct {
	visits   int
	hotSpots int
	weight   int
	dwellSum float64
}

// trackState is the dwell bookkeeping for one track id.
type trackState struct {
	x, y      float64
	stayStart time.Time
	staying   bool

	// visit is set once the current stationary period has been counted.
	visit     *Cell
	lastDwell float64
	hot       bool
}

// Heatmap is the per-camera accumulator. It is sized once from the first
// frame and is not safe for concurrent use.
type Heatmap struct {
	cfg    Config
	clock  timeutil.Clock
	logger *slog.Logger

	width, height int
	field         []float64 // row-major, width*height

	tracks map[int]*trackState
	cells  map[Cell]*cellAcc
}

// New creates a heatmap for a width x height frame.
func New(width, height int, cfg Config) (*Heatmap, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyFrame, width, height)
	}
	if cfg.CellSize <= 0 {
		cfg.CellSize = 50
	}
	if cfg.HotThreshold < cfg.DwellThreshold {
		cfg.HotThreshold = cfg.DwellThreshold
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Heatmap{
		cfg:    cfg,
		clock:  timeutil.OrReal(cfg.Clock),
		logger: logger.With("camera", cfg.CameraID),
		width:  width,
		height: height,
		field:  make([]float64, width*height),
		tracks: make(map[int]*trackState),
		cells:  make(map[Cell]*cellAcc),
	}, nil
}

// Update folds one frame of tracked people into the statistics and then
// decays the intensity field.
//
// A stationary period is counted as one visit when its dwell first exceeds
// the dwell threshold and as one hot spot when it first exceeds the hot
// threshold, both in the cell where the visit was counted. While the period
// lasts, that visit's contribution to the cell's mean dwell follows the
// current dwell and bumps are added on every frame.
func (h *Heatmap) Update(tracked []vision.TrackedPerson) Events {
	now := h.clock.Now()
	var ev Events

	seen := make(map[int]struct{}, len(tracked))
	for _, p := range tracked {
		seen[p.ID] = struct{}{}
		cx, cy := p.Box.Center()

		st, ok := h.tracks[p.ID]
		if !ok {
			st = &trackState{x: cx, y: cy}
			h.tracks[p.ID] = st
		}
		dist := math.Hypot(cx-st.x, cy-st.y)
		st.x, st.y = cx, cy

		if dist >= stationaryPx {
			st.reset()
			continue
		}

		ev.Stationary++
		if !st.staying {
			st.staying = true
			st.stayStart = now
		}
		dwell := now.Sub(st.stayStart)
		if dwell <= h.cfg.DwellThreshold {
			continue
		}

		h.splat(cx, cy, visitRadius, visitWeight)
		secs := dwell.Seconds()

		if st.visit == nil {
			cell := h.cellOf(cx, cy)
			acc := h.acc(cell)
			acc.visits++
			acc.weight++
			acc.dwellSum += secs
			st.visit = &cell
			st.lastDwell = secs
			ev.Visits = append(ev.Visits, Event{TrackID: p.ID, Cell: cell, Dwell: dwell})
		} else {
			acc := h.acc(*st.visit)
			acc.dwellSum += secs - st.lastDwell
			st.lastDwell = secs
		}

		if dwell > h.cfg.HotThreshold {
			h.splat(cx, cy, hotRadius, hotWeight)
			if !st.hot {
				st.hot = true
				h.acc(*st.visit).hotSpots++
				ev.HotSpots = append(ev.HotSpots, Event{TrackID: p.ID, Cell: *st.visit, Dwell: dwell})
			}
		}
	}

	for id := range h.tracks {
		if _, ok := seen[id]; !ok {
			delete(h.tracks, id)
		}
	}

	floats.Scale(decayFactor, h.field)

	if len(ev.Visits) > 0 || len(ev.HotSpots) > 0 {
		h.logger.Debug("dwell events", "visits", len(ev.Visits), "hot_spots", len(ev.HotSpots))
	}
	return ev
}

func (st *trackState) reset() {
	st.staying = false
	st.stayStart = time.Time{}
	st.visit = nil
	st.lastDwell = 0
	st.hot = false
}

func (h *Heatmap) acc(c Cell) *cellAcc {
	a, ok := h.cells[c]
	if !ok {
		a = &cellAcc{}
		h.cells[c] = a
	}
	return a
}

func (h *Heatmap) cellOf(x, y float64) Cell {
	cs := float64(h.cfg.CellSize)
	return Cell{X: int(math.Floor(x / cs)), Y: int(math.Floor(y / cs))}
}

// splat adds a soft disc centred on (cx, cy): weight at the centre falling
// quadratically to zero at the radius. Pixels outside the frame are skipped.
func (h *Heatmap) splat(cx, cy float64, radius int, weight float64) {
	px, py := int(math.Round(cx)), int(math.Round(cy))
	r2 := float64(radius * radius)

	for y := max(py-radius, 0); y <= min(py+radius, h.height-1); y++ {
		dy := float64(y - py)
		row := y * h.width
		for x := max(px-radius, 0); x <= min(px+radius, h.width-1); x++ {
			dx := float64(x - px)
			d2 := dx*dx + dy*dy
			if d2 >= r2 {
				continue
			}
			h.field[row+x] += weight * (1 - d2/r2)
		}
	}
}

// Size returns the frame dimensions the heatmap was created with.
func (h *Heatmap) Size() (int, int) {
	return h.width, h.height
}

// CameraID returns the camera this heatmap belongs to.
func (h *Heatmap) CameraID() string {
	return h.cfg.CameraID
}

// Intensity returns the field value at pixel (x, y), or 0 outside the frame.
func (h *Heatmap) Intensity(x, y int) float64 {
	if x < 0 || y < 0 || x >= h.width || y >= h.height {
		return 0
	}
	return h.field[y*h.width+x]
}

// MaxIntensity returns the largest value in the field.
func (h *Heatmap) MaxIntensity() float64 {
	return floats.Max(h.field)
}

// Stats returns a snapshot of every zone seen so far.
func (h *Heatmap) Stats() map[Cell]CellStats {
	out := make(map[Cell]CellStats, len(h.cells))
	for c, a := range h.cells {
		out[c] = a.stats()
	}
	return out
}

// CellStats returns the summary of a single zone.
func (h *Heatmap) CellStats(c Cell) (CellStats, bool) {
	a, ok := h.cells[c]
	if !ok {
		return CellStats{}, false
	}
	return a.stats(), true
}

// ActiveTracks returns the number of ids currently being followed.
func (h *Heatmap) ActiveTracks() int {
	return len(h.tracks)
}

func (a *cellAcc) stats() CellStats {
	s := CellStats{Visits: a.visits, HotSpots: a.hotSpots, VisitWeight: a.weight}
	if a.weight > 0 {
		s.AvgDwell = a.dwellSum / float64(a.weight)
	}
	return s
}
