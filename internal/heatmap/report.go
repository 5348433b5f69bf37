package heatmap

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ReportSuffix is appended to the camera id to name a per-camera report.
const ReportSuffix = "_heatmap.json"

// Zone is one entry of a heatmap report.
type Zone struct {
	Zone     string  `json:"zone"`
	Visits   int     `json:"visits"`
	HotSpots int     `json:"hot_spots"`
	AvgDwell float64 `json:"avg_dwell"`
}

// Report is the persisted per-camera summary.
type Report struct {
	Camera      string `json:"camera"`
	GeneratedAt string `json:"generated_at"`
	CellSizePx  int    `json:"cell_size_px"`
	Zones       []Zone `json:"zones"`
}

// Key formats the cell as a zone key, e.g. "(3,7)".
func (c Cell) Key() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

func (c Cell) String() string { return c.Key() }

// ParseZoneKey parses a "(gx,gy)" zone key.
func ParseZoneKey(key string) (Cell, error) {
	s := strings.TrimSpace(key)
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return Cell{}, fmt.Errorf("parse zone key %q: missing parentheses", key)
	}
	parts := strings.Split(s[1:len(s)-1], ",")
	if len(parts) != 2 {
		return Cell{}, fmt.Errorf("parse zone key %q: want two coordinates", key)
	}
	x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Cell{}, fmt.Errorf("parse zone key %q: %w", key, err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Cell{}, fmt.Errorf("parse zone key %q: %w", key, err)
	}
	return Cell{X: x, Y: y}, nil
}

// LessZoneKey orders zone keys by grid coordinates. Keys that do not parse
// sort after those that do, by string.
func LessZoneKey(a, b string) bool {
	ca, errA := ParseZoneKey(a)
	cb, errB := ParseZoneKey(b)
	switch {
	case errA == nil && errB == nil:
		if ca.X != cb.X {
			return ca.X < cb.X
		}
		if ca.Y != cb.Y {
			return ca.Y < cb.Y
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}

// SortZones sorts zones in place by zone key.
func SortZones(zones []Zone) {
	sort.SliceStable(zones, func(i, j int) bool {
		return LessZoneKey(zones[i].Zone, zones[j].Zone)
	})
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// BuildReport snapshots the current statistics as a Report.
func (h *Heatmap) BuildReport() Report {
	cells := make([]Cell, 0, len(h.cells))
	for c := range h.cells {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].X != cells[j].X {
			return cells[i].X < cells[j].X
		}
		return cells[i].Y < cells[j].Y
	})

	zones := make([]Zone, 0, len(cells))
	for _, c := range cells {
		s := h.cells[c].stats()
		zones = append(zones, Zone{
			Zone:     c.Key(),
			Visits:   s.Visits,
			HotSpots: s.HotSpots,
			AvgDwell: Round2(s.AvgDwell),
		})
	}

	return Report{
		Camera:      h.cfg.CameraID,
		GeneratedAt: h.clock.Now().Format(time.RFC3339),
		CellSizePx:  h.cfg.CellSize,
		Zones:       zones,
	}
}

// ReportPath returns where SaveReport writes this camera's report.
func (h *Heatmap) ReportPath() string {
	return filepath.Join(h.cfg.OutDir, ReportFileName(h.cfg.CameraID))
}

// ReportFileName returns the report file name for a camera id.
func ReportFileName(cameraID string) string {
	return safeName(cameraID) + ReportSuffix
}

// SaveReport writes the report as indented JSON, creating the output
// directory when needed, and returns the file path.
func (h *Heatmap) SaveReport() (string, error) {
	path := h.ReportPath()
	if err := WriteJSON(path, h.BuildReport()); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	h.logger.Info("heatmap report saved", "path", path, "zones", len(h.cells))
	return path, nil
}

// LoadReport reads a per-camera report from disk.
func LoadReport(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("decode report %s: %w", path, err)
	}
	return r, nil
}

// WriteJSON marshals v with two-space indentation into path. The parent
// directory is created if missing and the file is replaced atomically.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// safeName keeps camera ids usable as file names.
func safeName(id string) string {
	if id == "" {
		return "camera"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, id)
}
