package heatmap

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/your-org/retailedge/internal/vision"
)

const (
	frameAlpha = 0.7
	heatAlpha  = 0.3
)

// heatLUT maps a normalised intensity byte to a blue-to-red colour.
var heatLUT = sync.OnceValue(func() [256]color.RGBA {
	cmap := moreland.SmoothBlueRed()
	cmap.SetMax(255)
	cmap.SetMin(0)

	var lut [256]color.RGBA
	for i := range lut {
		c, err := cmap.At(float64(i))
		if err != nil {
			continue
		}
		r, g, b, _ := c.RGBA()
		lut[i] = color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 255}
	}
	return lut
})

// normalised returns the field scaled to [0, 255] with min-max
// normalisation. A flat field maps to all zeros.
func (h *Heatmap) normalised() []uint8 {
	out := make([]uint8, len(h.field))
	lo, hi := floats.Min(h.field), floats.Max(h.field)
	if hi <= lo {
		return out
	}
	scale := 255 / (hi - lo)
	for i, v := range h.field {
		out[i] = uint8((v-lo)*scale + 0.5)
	}
	return out
}

// Render blends the colourised intensity field over frame, 70% frame and
// 30% heat. The heatmap state is not modified. A frame whose size differs
// from the heatmap is sampled nearest-neighbour.
func (h *Heatmap) Render(frame image.Image) *image.RGBA {
	src := vision.ToRGBA(frame)
	b := src.Bounds()
	fw, fh := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, fw, fh))
	if fw == 0 || fh == 0 {
		return dst
	}

	norm := h.normalised()
	lut := heatLUT()

	for y := 0; y < fh; y++ {
		hy := y * h.height / fh
		for x := 0; x < fw; x++ {
			hx := x * h.width / fw
			heat := lut[norm[hy*h.width+hx]]

			so := src.PixOffset(b.Min.X+x, b.Min.Y+y)
			do := dst.PixOffset(x, y)
			dst.Pix[do+0] = blend(src.Pix[so+0], heat.R)
			dst.Pix[do+1] = blend(src.Pix[so+1], heat.G)
			dst.Pix[do+2] = blend(src.Pix[so+2], heat.B)
			dst.Pix[do+3] = 255
		}
	}
	return dst
}

func blend(frame, heat uint8) uint8 {
	return uint8(frameAlpha*float64(frame) + heatAlpha*float64(heat) + 0.5)
}

// HeatImage returns the colourised intensity field on its own.
func (h *Heatmap) HeatImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, h.width, h.height))
	norm := h.normalised()
	lut := heatLUT()
	for i, v := range norm {
		c := lut[v]
		img.Pix[i*4+0] = c.R
		img.Pix[i*4+1] = c.G
		img.Pix[i*4+2] = c.B
		img.Pix[i*4+3] = 255
	}
	return img
}

// SaveSnapshot writes the colourised field as <camera>_heatmap.png in the
// output directory and returns the path.
func (h *Heatmap) SaveSnapshot() (string, error) {
	if err := os.MkdirAll(h.cfg.OutDir, 0o755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}
	path := filepath.Join(h.cfg.OutDir, safeName(h.cfg.CameraID)+"_heatmap.png")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}
	if err := png.Encode(f, h.HeatImage()); err != nil {
		f.Close()
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close snapshot: %w", err)
	}
	return path, nil
}

// zoneGrid adapts report zones to plotter.GridXYZ. Cells without a zone
// have zero visits.
type zoneGrid struct {
	minX, minY int
	cols, rows int
	visits     map[Cell]float64
}

func newZoneGrid(zones []Zone) (*zoneGrid, error) {
	g := &zoneGrid{visits: make(map[Cell]float64)}
	first := true
	var maxX, maxY int
	for _, z := range zones {
		c, err := ParseZoneKey(z.Zone)
		if err != nil {
			continue
		}
		g.visits[c] += float64(z.Visits)
		if first {
			g.minX, maxX, g.minY, maxY = c.X, c.X, c.Y, c.Y
			first = false
			continue
		}
		g.minX, maxX = min(g.minX, c.X), max(maxX, c.X)
		g.minY, maxY = min(g.minY, c.Y), max(maxY, c.Y)
	}
	if first {
		return nil, errors.New("no zones to plot")
	}
	g.cols = maxX - g.minX + 1
	g.rows = maxY - g.minY + 1
	return g, nil
}

func (g *zoneGrid) Dims() (int, int)   { return g.cols, g.rows }
func (g *zoneGrid) X(c int) float64    { return float64(g.minX + c) }
func (g *zoneGrid) Y(r int) float64    { return float64(g.minY + r) }
func (g *zoneGrid) Z(c, r int) float64 { return g.visits[Cell{X: g.minX + c, Y: g.minY + r}] }

// ZonePlotPath returns where the zone plot of this camera is written.
func (h *Heatmap) ZonePlotPath() string {
	return filepath.Join(h.cfg.OutDir, safeName(h.cfg.CameraID)+"_zones.png")
}

// OverlayFileName returns the file name of the live overlay frame for a
// camera id, sanitised like the report name.
func OverlayFileName(cameraID string) string {
	return safeName(cameraID) + "_overlay.jpg"
}

// PlotZones renders the zone visit counts of a report as a PNG grid.
func PlotZones(r Report, path string) error {
	grid, err := newZoneGrid(r.Zones)
	if err != nil {
		return fmt.Errorf("plot zones: %w", err)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Zone visits: %s", r.Camera)
	p.X.Label.Text = "grid x"
	p.Y.Label.Text = "grid y"

	cmap := moreland.SmoothBlueRed()
	cmap.SetMax(1)
	cmap.SetMin(0)
	hm := plotter.NewHeatMap(grid, cmap.Palette(64))
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	if err := p.Save(6*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save zone plot: %w", err)
	}
	return nil
}
