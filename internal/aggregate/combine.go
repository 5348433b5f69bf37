// Package aggregate merges per-camera heatmap reports into a master report.
package aggregate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tidwall/gjson"

	"github.com/your-org/retailedge/internal/heatmap"
	"github.com/your-org/retailedge/internal/observability"
	"github.com/your-org/retailedge/internal/timeutil"
)

// MasterFileName is the default master report name inside the report dir.
const MasterFileName = "master_heatmap.json"

// Aggregate is the merged zone table across cameras. CellSizePx is the
// smallest cell size among the inputs, or nil when none declared one.
type Aggregate struct {
	CellSizePx *int           `json:"cell_size_px"`
	Zones      []heatmap.Zone `json:"zones"`
}

// Master is the persisted cross-camera report. Cameras holds the input
// reports as they were read.
type Master struct {
	GeneratedAt string            `json:"generated_at"`
	Cameras     []json.RawMessage `json:"cameras"`
	Aggregate   Aggregate         `json:"aggregate"`
}

// Skipped records a report file that could not be used.
type Skipped struct {
	Path   string
	Reason string
}

// Result describes one Combine run.
type Result struct {
	Path    string
	Cameras []string
	Skipped []Skipped
	Master  Master
}

// Combiner discovers and merges report files.
type Combiner struct {
	clock  timeutil.Clock
	logger *slog.Logger
}

// NewCombiner creates a combiner. Nil arguments select the real clock and
// the default logger.
func NewCombiner(clock timeutil.Clock, logger *slog.Logger) *Combiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Combiner{clock: timeutil.OrReal(clock), logger: logger}
}

// CombineReports merges every report in dir into masterPath and returns the
// path written. An empty masterPath means dir/master_heatmap.json.
func CombineReports(dir, masterPath string) (string, error) {
	res, err := NewCombiner(nil, nil).Combine(dir, masterPath)
	if err != nil {
		return "", err
	}
	return res.Path, nil
}

// Combine reads every *_heatmap.json file in dir, skips the ones that are
// unreadable or carry no zone list, and writes the merged master report.
func (c *Combiner) Combine(dir, masterPath string) (Result, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create report dir: %w", err)
	}
	if masterPath == "" {
		masterPath = filepath.Join(dir, MasterFileName)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*"+heatmap.ReportSuffix))
	if err != nil {
		return Result{}, fmt.Errorf("list reports: %w", err)
	}
	sort.Strings(files)

	res := Result{Path: masterPath}
	var raws []json.RawMessage
	var reports []heatmap.Report

	for _, fp := range files {
		if samePath(fp, masterPath) {
			continue
		}
		raw, rep, err := readReport(fp)
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{Path: fp, Reason: err.Error()})
			observability.ReportsSkipped.Inc()
			c.logger.Warn("skipping report", "path", fp, "error", err)
			continue
		}
		raws = append(raws, raw)
		reports = append(reports, rep)
		res.Cameras = append(res.Cameras, rep.Camera)
	}

	if raws == nil {
		raws = []json.RawMessage{}
	}
	res.Master = Master{
		GeneratedAt: c.clock.Now().Format(time.RFC3339),
		Cameras:     raws,
		Aggregate:   Merge(reports),
	}

	if err := heatmap.WriteJSON(masterPath, res.Master); err != nil {
		return Result{}, fmt.Errorf("write master report: %w", err)
	}
	observability.ReportsCombined.Add(float64(len(reports)))

	c.logger.Info("master heatmap saved",
		"path", masterPath,
		"cameras", len(reports),
		"skipped", len(res.Skipped),
		"zones", len(res.Master.Aggregate.Zones),
	)
	return res, nil
}

// LoadMaster reads a master report written by Combine.
func LoadMaster(path string) (Master, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Master{}, fmt.Errorf("read master report: %w", err)
	}
	var m Master
	if err := json.Unmarshal(data, &m); err != nil {
		return Master{}, fmt.Errorf("decode master report %s: %w", path, err)
	}
	return m, nil
}

// readReport loads a report file leniently: it must be a JSON object with a
// zones array; missing numeric fields read as zero.
func readReport(path string) (json.RawMessage, heatmap.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, heatmap.Report{}, fmt.Errorf("read: %w", err)
	}
	raw, rep, err := ParseReport(data)
	if err != nil {
		return nil, heatmap.Report{}, err
	}
	return raw, rep, nil
}

// ParseReport validates and decodes one per-camera report.
func ParseReport(data []byte) (json.RawMessage, heatmap.Report, error) {
	if !gjson.ValidBytes(data) {
		return nil, heatmap.Report{}, fmt.Errorf("invalid json")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, heatmap.Report{}, fmt.Errorf("report is not an object")
	}
	zones := doc.Get("zones")
	if !zones.IsArray() {
		return nil, heatmap.Report{}, fmt.Errorf("missing zones array")
	}

	rep := heatmap.Report{
		Camera:      doc.Get("camera").String(),
		GeneratedAt: doc.Get("generated_at").String(),
	}
	if cell := doc.Get("cell_size_px"); cell.Type == gjson.Number && cell.Num == math.Trunc(cell.Num) {
		rep.CellSizePx = int(cell.Int())
	}

	zones.ForEach(func(_, z gjson.Result) bool {
		key := z.Get("zone")
		if key.Type != gjson.String {
			return true
		}
		rep.Zones = append(rep.Zones, heatmap.Zone{
			Zone:     key.String(),
			Visits:   int(z.Get("visits").Int()),
			HotSpots: int(z.Get("hot_spots").Int()),
			AvgDwell: z.Get("avg_dwell").Float(),
		})
		return true
	})

	return json.RawMessage(doc.Raw), rep, nil
}

type zoneAcc struct {
	visits   int
	hotSpots int
	dwellSum float64
	weight   int
}

// Merge sums visits and hot spots per zone and averages dwell weighted by
// each input's visit count, with a minimum weight of 1. The result does
// not depend on the order of reports.
func Merge(reports []heatmap.Report) Aggregate {
	ordered := make([]heatmap.Report, len(reports))
	copy(ordered, reports)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Camera < ordered[j].Camera
	})

	acc := make(map[string]*zoneAcc)
	var cellMin *int

	for _, r := range ordered {
		if r.CellSizePx > 0 && (cellMin == nil || r.CellSizePx < *cellMin) {
			cs := r.CellSizePx
			cellMin = &cs
		}
		for _, z := range r.Zones {
			a, ok := acc[z.Zone]
			if !ok {
				a = &zoneAcc{}
				acc[z.Zone] = a
			}
			w := max(z.Visits, 1)
			a.visits += z.Visits
			a.hotSpots += z.HotSpots
			a.dwellSum += z.AvgDwell * float64(w)
			a.weight += w
		}
	}

	zones := make([]heatmap.Zone, 0, len(acc))
	for key, a := range acc {
		zones = append(zones, heatmap.Zone{
			Zone:     key,
			Visits:   a.visits,
			HotSpots: a.hotSpots,
			AvgDwell: heatmap.Round2(a.dwellSum / float64(max(a.weight, 1))),
		})
	}
	heatmap.SortZones(zones)

	return Aggregate{CellSizePx: cellMin, Zones: zones}
}

func samePath(a, b string) bool {
	aa, errA := filepath.Abs(a)
	bb, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == bb
}
