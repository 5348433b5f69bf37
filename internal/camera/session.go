// Package camera runs the per-frame analytics of a single camera:
// detect → track → heatmap → faces → fuse → ad choice → publish.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/retailedge/internal/ads"
	"github.com/your-org/retailedge/internal/heatmap"
	"github.com/your-org/retailedge/internal/models"
	"github.com/your-org/retailedge/internal/observability"
	"github.com/your-org/retailedge/internal/storage"
	"github.com/your-org/retailedge/internal/timeutil"
	"github.com/your-org/retailedge/internal/vision"
)

// Detector finds people in a frame.
type Detector interface {
	Infer(img image.Image) ([]vision.Detection, error)
}

// Analyzer returns one FaceInfo per person box.
type Analyzer interface {
	Analyze(img image.Image, boxes []vision.Box) ([]vision.FaceInfo, error)
}

// Selector picks the ad to show for a scene.
type Selector interface {
	Choose(ctx ads.Context) (adID, reason string)
	Forget(live map[int]struct{})
}

// Publisher sends frame events and report notices to the bus.
type Publisher interface {
	PublishFrameEvent(ctx context.Context, ev *models.FrameEvent) error
	PublishReport(ctx context.Context, n *models.ReportNotice) error
}

// ZoneStore mirrors a finished report into the database.
type ZoneStore interface {
	SaveZoneStats(ctx context.Context, r heatmap.Report) error
}

// ObjectStore uploads finished output files.
type ObjectStore interface {
	UploadFile(ctx context.Context, key, filePath string) error
}

// Config holds the per-camera processing settings.
type Config struct {
	CameraID string
	// FrameSkip drops this many frames between two processed ones.
	FrameSkip int
	// RenderEvery produces an overlay every N processed frames; 0 disables it.
	RenderEvery   int
	MinPersonConf float64
	Tracker       vision.TrackerConfig
	Heatmap       heatmap.Config
	Snapshot      bool
	ZonePlot      bool
}

// Deps are the collaborators of a Session. Only Detector is required.
type Deps struct {
	Detector  Detector
	Analyzer  Analyzer
	Selector  Selector
	Publisher Publisher
	Zones     ZoneStore
	Objects   ObjectStore
	Clock     timeutil.Clock
	Logger    *slog.Logger
}

// FrameResult is what ProcessFrame did with one input frame.
type FrameResult struct {
	Processed bool
	Frame     int64
	Tracked   []vision.TrackedPerson
	Persons   []ads.Person
	Events    heatmap.Events
	AdID      string
	AdReason  string
	// Overlay is set on frames where the heatmap overlay was rendered.
	Overlay *image.RGBA
}

// Outputs lists the files written by Finish.
type Outputs struct {
	Report     string
	Snapshot   string
	ZonePlot   string
	ObjectKeys []string
}

// Session owns the tracker and heatmap of one camera. It is not safe for
// concurrent use; feed frames from a single goroutine.
type Session struct {
	cfg    Config
	deps   Deps
	clock  timeutil.Clock
	logger *slog.Logger

	tracker   *vision.Tracker
	heat      *heatmap.Heatmap
	degraded  bool
	seen      int64
	processed int64
}

// NewSession creates a session; the heatmap is built lazily from the first frame.
func NewSession(cfg Config, deps Deps) (*Session, error) {
	if deps.Detector == nil {
		return nil, errors.New("camera session needs a detector")
	}
	if cfg.CameraID == "" {
		cfg.CameraID = "camera"
	}
	clock := timeutil.OrReal(deps.Clock)
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("camera_id", cfg.CameraID)

	cfg.Heatmap.CameraID = cfg.CameraID
	cfg.Heatmap.Clock = clock
	cfg.Heatmap.Logger = logger

	return &Session{
		cfg:     cfg,
		deps:    deps,
		clock:   clock,
		logger:  logger,
		tracker: vision.NewTracker(cfg.Tracker),
	}, nil
}

// ProcessFrame runs one frame through the pipeline. Skipped frames return a
// result with Processed false.
func (s *Session) ProcessFrame(ctx context.Context, img image.Image) (FrameResult, error) {
	s.seen++
	if s.cfg.FrameSkip > 0 && (s.seen-1)%int64(s.cfg.FrameSkip+1) != 0 {
		return FrameResult{Frame: s.seen}, nil
	}
	s.processed++
	res := FrameResult{Processed: true, Frame: s.seen}
	cam := s.cfg.CameraID
	valid := img != nil && !img.Bounds().Empty()

	// 1. Detect people
	var detections []vision.Detection
	if valid {
		start := time.Now()
		dets, err := s.deps.Detector.Infer(img)
		if err != nil {
			return res, fmt.Errorf("detect: %w", err)
		}
		observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
		detections = filterConfidence(dets, s.cfg.MinPersonConf)
	}
	observability.PersonsDetected.WithLabelValues(cam).Add(float64(len(detections)))

	// 2. Track
	res.Tracked = s.tracker.Update(detections)
	summary := s.tracker.LastUpdate()
	observability.TracksCreated.WithLabelValues(cam).Add(float64(summary.Created))
	observability.ActiveTracks.WithLabelValues(cam).Set(float64(s.tracker.TrackCount()))

	// 3. Heatmap, sized from the first frame
	s.ensureHeatmap(img)
	if s.heat != nil {
		res.Events = s.heat.Update(res.Tracked)
		observability.DwellVisits.WithLabelValues(cam).Add(float64(len(res.Events.Visits)))
		observability.HotSpots.WithLabelValues(cam).Add(float64(len(res.Events.HotSpots)))
	}

	// 4. Faces, aligned 1:1 with tracked people
	var faces []vision.FaceInfo
	if s.deps.Analyzer != nil && valid && len(res.Tracked) > 0 {
		boxes := make([]vision.Box, len(res.Tracked))
		for i, t := range res.Tracked {
			boxes[i] = t.Box
		}
		start := time.Now()
		infos, err := s.deps.Analyzer.Analyze(img, boxes)
		if err != nil {
			s.logger.Warn("face analysis failed", "error", err)
		}
		observability.InferenceDuration.WithLabelValues("faces").Observe(time.Since(start).Seconds())
		faces = infos
	}
	faces = vision.AlignFaceInfos(faces, len(res.Tracked))

	// 5. Fuse and choose an ad
	var frame image.Image
	if valid {
		frame = img
	}
	adCtx, persons := ads.Fuse(frame, res.Tracked, faces, s.clock.Now())
	res.Persons = persons
	if s.deps.Selector != nil {
		res.AdID, res.AdReason = s.deps.Selector.Choose(adCtx)
		live := make(map[int]struct{}, len(res.Tracked))
		for _, t := range res.Tracked {
			live[t.ID] = struct{}{}
		}
		s.deps.Selector.Forget(live)
		if res.AdID != "" {
			observability.AdsSelected.WithLabelValues(cam, res.AdID).Inc()
		}
	}

	// 6. Publish
	if s.deps.Publisher != nil {
		ev := s.frameEvent(res, img)
		if err := s.deps.Publisher.PublishFrameEvent(ctx, ev); err != nil {
			s.logger.Warn("publish frame event", "frame", res.Frame, "error", err)
		}
	}

	// 7. Overlay
	if s.heat != nil && valid && s.cfg.RenderEvery > 0 && s.processed%int64(s.cfg.RenderEvery) == 0 {
		start := time.Now()
		res.Overlay = s.heat.Render(img)
		observability.InferenceDuration.WithLabelValues("render").Observe(time.Since(start).Seconds())
	}

	observability.FramesProcessed.WithLabelValues(cam).Inc()
	return res, nil
}

// ensureHeatmap creates the heatmap on the first processed frame. A missing
// or empty first frame disables heatmap tracking for the rest of the session.
func (s *Session) ensureHeatmap(img image.Image) {
	if s.heat != nil || s.degraded {
		return
	}
	w, h := 0, 0
	if img != nil {
		w, h = img.Bounds().Dx(), img.Bounds().Dy()
	}
	heat, err := heatmap.New(w, h, s.cfg.Heatmap)
	if err != nil {
		s.degraded = true
		s.logger.Error("heatmap disabled for this camera", "error", err)
		return
	}
	s.heat = heat
	s.logger.Info("heatmap initialised", "width", w, "height", h)
}

func (s *Session) frameEvent(res FrameResult, img image.Image) *models.FrameEvent {
	ev := &models.FrameEvent{
		ID:        uuid.New(),
		CameraID:  s.cfg.CameraID,
		Frame:     res.Frame,
		Timestamp: s.clock.Now(),
		Persons:   make([]models.PersonEvent, 0, len(res.Persons)),
		Visits:    zoneEvents(res.Events.Visits),
		HotSpots:  zoneEvents(res.Events.HotSpots),
		AdID:      res.AdID,
		AdReason:  res.AdReason,
	}
	if img != nil {
		ev.Width, ev.Height = img.Bounds().Dx(), img.Bounds().Dy()
	}
	for _, p := range res.Persons {
		ev.Persons = append(ev.Persons, models.PersonEvent{
			TrackID:       p.ID,
			BBox:          p.Box.Array(),
			Age:           p.Age,
			Gender:        p.Gender,
			Expression:    p.Expression,
			ClothingStyle: p.ClothingStyle,
			IsChild:       p.IsChild,
		})
	}
	return ev
}

func zoneEvents(events []heatmap.Event) []models.ZoneEvent {
	if len(events) == 0 {
		return nil
	}
	out := make([]models.ZoneEvent, len(events))
	for i, e := range events {
		out[i] = models.ZoneEvent{TrackID: e.TrackID, Zone: e.Cell.Key(), Dwell: e.Dwell.Seconds()}
	}
	return out
}

func filterConfidence(dets []vision.Detection, minConf float64) []vision.Detection {
	out := dets[:0:0]
	for _, d := range dets {
		if d.Confidence >= minConf {
			out = append(out, d)
		}
	}
	return out
}

// Heatmap returns the session heatmap, or nil before the first frame and in
// degraded mode.
func (s *Session) Heatmap() *heatmap.Heatmap { return s.heat }

// Degraded reports whether heatmap tracking was disabled.
func (s *Session) Degraded() bool { return s.degraded }

// TrackCount returns the number of live tracks.
func (s *Session) TrackCount() int { return s.tracker.TrackCount() }

// Finish persists the heatmap outputs, mirrors them to the configured stores
// and announces the report. Mirror failures are logged, not returned.
func (s *Session) Finish(ctx context.Context) (Outputs, error) {
	var out Outputs
	if s.heat == nil {
		s.logger.Warn("no heatmap to save", "degraded", s.degraded)
		return out, nil
	}

	path, err := s.heat.SaveReport()
	if err != nil {
		return out, err
	}
	out.Report = path

	report, err := heatmap.LoadReport(path)
	if err != nil {
		return out, err
	}

	if s.cfg.Snapshot {
		if out.Snapshot, err = s.heat.SaveSnapshot(); err != nil {
			s.logger.Warn("save snapshot", "error", err)
		}
	}
	if s.cfg.ZonePlot && len(report.Zones) > 0 {
		plotPath := s.heat.ZonePlotPath()
		if err := heatmap.PlotZones(report, plotPath); err != nil {
			s.logger.Warn("plot zones", "error", err)
		} else {
			out.ZonePlot = plotPath
		}
	}

	if s.deps.Zones != nil {
		if err := s.deps.Zones.SaveZoneStats(ctx, report); err != nil {
			s.logger.Warn("mirror zone stats", "error", err)
		}
	}

	var reportKey string
	if s.deps.Objects != nil {
		for _, f := range []string{out.Report, out.Snapshot, out.ZonePlot} {
			if f == "" {
				continue
			}
			key := storage.ObjectKey(s.cfg.CameraID, f)
			if err := s.deps.Objects.UploadFile(ctx, key, f); err != nil {
				s.logger.Warn("upload output", "file", f, "error", err)
				continue
			}
			if f == out.Report {
				reportKey = key
			}
			out.ObjectKeys = append(out.ObjectKeys, key)
		}
	}

	if s.deps.Publisher != nil {
		notice := &models.ReportNotice{
			ID:          uuid.New(),
			CameraID:    s.cfg.CameraID,
			Path:        out.Report,
			ObjectKey:   reportKey,
			Zones:       len(report.Zones),
			GeneratedAt: s.clock.Now(),
		}
		if err := s.deps.Publisher.PublishReport(ctx, notice); err != nil {
			s.logger.Warn("publish report notice", "error", err)
		}
	}

	s.logger.Info("camera session finished",
		"frames", s.seen,
		"processed", s.processed,
		"zones", len(report.Zones),
	)
	return out, nil
}
