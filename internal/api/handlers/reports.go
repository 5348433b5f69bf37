package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/your-org/retailedge/internal/aggregate"
	"github.com/your-org/retailedge/internal/heatmap"
	"github.com/your-org/retailedge/pkg/dto"
)

// ReportHandler serves per-camera reports and the master report from the
// report directory.
type ReportHandler struct {
	dir        string
	masterPath string
	combiner   *aggregate.Combiner
}

func NewReportHandler(dir, masterPath string, combiner *aggregate.Combiner) *ReportHandler {
	if masterPath == "" {
		masterPath = filepath.Join(dir, aggregate.MasterFileName)
	}
	if combiner == nil {
		combiner = aggregate.NewCombiner(nil, nil)
	}
	return &ReportHandler{dir: dir, masterPath: masterPath, combiner: combiner}
}

func (h *ReportHandler) List(c *gin.Context) {
	files, err := filepath.Glob(filepath.Join(h.dir, "*"+heatmap.ReportSuffix))
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	sort.Strings(files)

	items := make([]dto.ReportSummary, 0, len(files))
	for _, fp := range files {
		if filepath.Clean(fp) == filepath.Clean(h.masterPath) {
			continue
		}
		data, err := os.ReadFile(fp)
		if err != nil {
			continue
		}
		_, rep, err := aggregate.ParseReport(data)
		if err != nil {
			continue
		}
		items = append(items, summarize(filepath.Base(fp), rep))
	}

	c.JSON(http.StatusOK, dto.ReportListResponse{Reports: items, Total: len(items)})
}

func (h *ReportHandler) Get(c *gin.Context) {
	path := filepath.Join(h.dir, heatmap.ReportFileName(c.Param("camera")))
	h.serveFile(c, path, "report not found")
}

func (h *ReportHandler) Master(c *gin.Context) {
	h.serveFile(c, h.masterPath, "master report not found")
}

// Rebuild re-combines every camera report into the master report.
func (h *ReportHandler) Rebuild(c *gin.Context) {
	res, err := h.combiner.Combine(h.dir, h.masterPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	resp := dto.RebuildResponse{
		Path:    res.Path,
		Cameras: res.Cameras,
		Skipped: make([]dto.SkippedFile, 0, len(res.Skipped)),
		Zones:   len(res.Master.Aggregate.Zones),
	}
	if resp.Cameras == nil {
		resp.Cameras = []string{}
	}
	for _, s := range res.Skipped {
		resp.Skipped = append(resp.Skipped, dto.SkippedFile{File: filepath.Base(s.Path), Reason: s.Reason})
	}
	c.JSON(http.StatusOK, resp)
}

// Chart renders the master aggregate as an HTML chart.
func (h *ReportHandler) Chart(c *gin.Context) {
	master, err := aggregate.LoadMaster(h.masterPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "master report not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := aggregate.RenderChart(master.Aggregate, c.Writer); err != nil {
		_ = c.Error(err)
	}
}

func (h *ReportHandler) serveFile(c *gin.Context, path, notFound string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: notFound})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func summarize(file string, r heatmap.Report) dto.ReportSummary {
	s := dto.ReportSummary{
		Camera:      r.Camera,
		File:        file,
		GeneratedAt: r.GeneratedAt,
		CellSizePx:  r.CellSizePx,
		Zones:       len(r.Zones),
	}
	for _, z := range r.Zones {
		s.Visits += z.Visits
		s.HotSpots += z.HotSpots
	}
	return s
}
