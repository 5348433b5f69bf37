package camera

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/retailedge/internal/ads"
	"github.com/your-org/retailedge/internal/heatmap"
	"github.com/your-org/retailedge/internal/models"
	"github.com/your-org/retailedge/internal/timeutil"
	"github.com/your-org/retailedge/internal/vision"
)

// scriptedDetector returns one scripted batch per call, then nothing.
type scriptedDetector struct {
	frames [][]vision.Detection
	calls  int
	err    error
}

func (d *scriptedDetector) Infer(image.Image) ([]vision.Detection, error) {
	if d.err != nil {
		return nil, d.err
	}
	i := d.calls
	d.calls++
	if i < len(d.frames) {
		return d.frames[i], nil
	}
	return nil, nil
}

// fixedDetector always reports the same detections.
type fixedDetector []vision.Detection

func (d fixedDetector) Infer(image.Image) ([]vision.Detection, error) { return d, nil }

type fakeAnalyzer struct {
	infos []vision.FaceInfo
	err   error
}

func (a *fakeAnalyzer) Analyze(image.Image, []vision.Box) ([]vision.FaceInfo, error) {
	return a.infos, a.err
}

type recordingPublisher struct {
	frames  []*models.FrameEvent
	reports []*models.ReportNotice
}

func (p *recordingPublisher) PublishFrameEvent(_ context.Context, ev *models.FrameEvent) error {
	p.frames = append(p.frames, ev)
	return nil
}

func (p *recordingPublisher) PublishReport(_ context.Context, n *models.ReportNotice) error {
	p.reports = append(p.reports, n)
	return nil
}

type recordingZones struct{ reports []heatmap.Report }

func (z *recordingZones) SaveZoneStats(_ context.Context, r heatmap.Report) error {
	z.reports = append(z.reports, r)
	return nil
}

type recordingObjects struct{ keys map[string]string }

func (o *recordingObjects) UploadFile(_ context.Context, key, filePath string) error {
	if o.keys == nil {
		o.keys = make(map[string]string)
	}
	o.keys[key] = filePath
	return nil
}

func det(x1, y1, x2, y2, conf float64) vision.Detection {
	return vision.Detection{Box: vision.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}, Confidence: conf}
}

func frame(w, h int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func testConfig(t *testing.T) Config {
	hm := heatmap.DefaultConfig("cam1")
	hm.OutDir = t.TempDir()
	return Config{
		CameraID:      "cam1",
		MinPersonConf: 0.5,
		Tracker:       vision.DefaultTrackerConfig(),
		Heatmap:       hm,
	}
}

func TestNewSessionNeedsDetector(t *testing.T) {
	_, err := NewSession(testConfig(t), Deps{})
	assert.Error(t, err)
}

func TestTwoFrameScenarioKeepsFirstID(t *testing.T) {
	d := &scriptedDetector{frames: [][]vision.Detection{
		{det(10, 10, 50, 50, 0.9), det(200, 200, 240, 240, 0.9)},
		{det(12, 12, 52, 52, 0.9)},
	}}
	s, err := NewSession(testConfig(t), Deps{Detector: d})
	require.NoError(t, err)

	first, err := s.ProcessFrame(context.Background(), frame(320, 240))
	require.NoError(t, err)
	require.Len(t, first.Tracked, 2)
	idA := first.Tracked[0].ID

	second, err := s.ProcessFrame(context.Background(), frame(320, 240))
	require.NoError(t, err)
	assert.Equal(t, 2, s.TrackCount())
	require.Len(t, second.Tracked, 2)
	assert.Equal(t, idA, second.Tracked[0].ID)
	assert.Equal(t, vision.Box{X1: 12, Y1: 12, X2: 52, Y2: 52}, second.Tracked[0].Box)
}

func TestLowConfidenceDetectionsAreDropped(t *testing.T) {
	d := fixedDetector{det(10, 10, 50, 50, 0.3), det(100, 100, 140, 140, 0.8)}
	s, err := NewSession(testConfig(t), Deps{Detector: d})
	require.NoError(t, err)

	res, err := s.ProcessFrame(context.Background(), frame(320, 240))
	require.NoError(t, err)
	require.Len(t, res.Tracked, 1)
	assert.Equal(t, 100.0, res.Tracked[0].Box.X1)
}

func TestFrameSkip(t *testing.T) {
	cfg := testConfig(t)
	cfg.FrameSkip = 2
	d := &scriptedDetector{}
	s, err := NewSession(cfg, Deps{Detector: d})
	require.NoError(t, err)

	var processed []int64
	for i := 0; i < 7; i++ {
		res, err := s.ProcessFrame(context.Background(), frame(64, 48))
		require.NoError(t, err)
		if res.Processed {
			processed = append(processed, res.Frame)
		}
	}
	assert.Equal(t, []int64{1, 4, 7}, processed)
	assert.Equal(t, 3, d.calls)
}

func TestDetectorErrorIsReturned(t *testing.T) {
	s, err := NewSession(testConfig(t), Deps{Detector: &scriptedDetector{err: errors.New("onnx")}})
	require.NoError(t, err)
	_, err = s.ProcessFrame(context.Background(), frame(64, 48))
	assert.ErrorContains(t, err, "onnx")
}

func TestEmptyFirstFrameDegrades(t *testing.T) {
	d := fixedDetector{det(10, 10, 50, 50, 0.9)}
	s, err := NewSession(testConfig(t), Deps{Detector: d})
	require.NoError(t, err)

	_, err = s.ProcessFrame(context.Background(), frame(0, 0))
	require.NoError(t, err)
	assert.True(t, s.Degraded())
	assert.Nil(t, s.Heatmap())

	// Tracking goes on without the heatmap.
	res, err := s.ProcessFrame(context.Background(), frame(320, 240))
	require.NoError(t, err)
	assert.Len(t, res.Tracked, 1)
	assert.Nil(t, s.Heatmap())

	out, err := s.Finish(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out.Report)
}

func TestNilFrameDegrades(t *testing.T) {
	s, err := NewSession(testConfig(t), Deps{Detector: fixedDetector{}})
	require.NoError(t, err)
	_, err = s.ProcessFrame(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, s.Degraded())
}

func TestDwellVisitIsPublished(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	pub := &recordingPublisher{}
	d := fixedDetector{det(10, 10, 50, 50, 0.9)}
	s, err := NewSession(testConfig(t), Deps{Detector: d, Publisher: pub, Clock: clock})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := s.ProcessFrame(context.Background(), frame(320, 240))
		require.NoError(t, err)
		clock.Advance(2 * time.Second)
	}

	require.Len(t, pub.frames, 4)
	var visits []models.ZoneEvent
	for _, ev := range pub.frames {
		assert.Equal(t, "cam1", ev.CameraID)
		assert.Equal(t, 320, ev.Width)
		visits = append(visits, ev.Visits...)
	}
	require.Len(t, visits, 1)
	assert.Equal(t, "(0,0)", visits[0].Zone)
	assert.InDelta(t, 6.0, visits[0].Dwell, 1e-9)

	stats, ok := s.Heatmap().CellStats(heatmap.Cell{X: 0, Y: 0})
	require.True(t, ok)
	assert.Equal(t, 1, stats.Visits)
}

func TestFacesAreAlignedToTracks(t *testing.T) {
	age := 30
	an := &fakeAnalyzer{infos: []vision.FaceInfo{{HasFace: true, Age: &age, Gender: "female"}}}
	d := fixedDetector{det(10, 10, 50, 90, 0.9), det(100, 10, 140, 90, 0.9)}
	s, err := NewSession(testConfig(t), Deps{Detector: d, Analyzer: an})
	require.NoError(t, err)

	res, err := s.ProcessFrame(context.Background(), frame(320, 240))
	require.NoError(t, err)
	require.Len(t, res.Persons, 2)
	assert.Equal(t, "female", res.Persons[0].Gender)
	assert.Equal(t, 30, *res.Persons[0].Age)
	assert.Nil(t, res.Persons[1].Age)
	assert.Equal(t, "neutral", res.Persons[1].Expression)
}

func TestAnalyzerErrorStillFuses(t *testing.T) {
	an := &fakeAnalyzer{err: errors.New("faces down")}
	s, err := NewSession(testConfig(t), Deps{Detector: fixedDetector{det(10, 10, 50, 90, 0.9)}, Analyzer: an})
	require.NoError(t, err)

	res, err := s.ProcessFrame(context.Background(), frame(320, 240))
	require.NoError(t, err)
	assert.Len(t, res.Persons, 1)
}

func TestAdSelection(t *testing.T) {
	rules, err := ads.ParseRules([]byte(`
rules:
  - name: anyone
    when:
      people_count: ">=1"
    show: ad_people
`))
	require.NoError(t, err)
	clock := timeutil.NewMockClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	engine := ads.NewEngineWithRules(rules, clock, nil)

	s, err := NewSession(testConfig(t), Deps{
		Detector: fixedDetector{det(10, 10, 50, 90, 0.9)},
		Selector: engine,
		Clock:    clock,
	})
	require.NoError(t, err)

	res, err := s.ProcessFrame(context.Background(), frame(320, 240))
	require.NoError(t, err)
	assert.Equal(t, "ad_people", res.AdID)
	assert.Equal(t, "Matched rule 'anyone'", res.AdReason)

	// Same person within the cooldown.
	res, err = s.ProcessFrame(context.Background(), frame(320, 240))
	require.NoError(t, err)
	assert.Empty(t, res.AdID)
	assert.Equal(t, ads.ReasonNoMatch, res.AdReason)
}

func TestOverlayRenderedEveryN(t *testing.T) {
	cfg := testConfig(t)
	cfg.RenderEvery = 2
	s, err := NewSession(cfg, Deps{Detector: fixedDetector{}})
	require.NoError(t, err)

	var rendered []int64
	for i := 0; i < 5; i++ {
		res, err := s.ProcessFrame(context.Background(), frame(64, 48))
		require.NoError(t, err)
		if res.Overlay != nil {
			assert.Equal(t, image.Rect(0, 0, 64, 48), res.Overlay.Bounds())
			rendered = append(rendered, res.Frame)
		}
	}
	assert.Equal(t, []int64{2, 4}, rendered)
}

func TestFinishWritesAndMirrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Snapshot = true
	cfg.ZonePlot = true
	clock := timeutil.NewMockClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	pub := &recordingPublisher{}
	zones := &recordingZones{}
	objects := &recordingObjects{}

	s, err := NewSession(cfg, Deps{
		Detector:  fixedDetector{det(10, 10, 50, 50, 0.9)},
		Publisher: pub,
		Zones:     zones,
		Objects:   objects,
		Clock:     clock,
	})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := s.ProcessFrame(context.Background(), frame(320, 240))
		require.NoError(t, err)
		clock.Advance(2 * time.Second)
	}

	out, err := s.Finish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Heatmap.OutDir, "cam1_heatmap.json"), out.Report)
	for _, f := range []string{out.Report, out.Snapshot, out.ZonePlot} {
		_, err := os.Stat(f)
		assert.NoError(t, err, f)
	}

	require.Len(t, zones.reports, 1)
	assert.Equal(t, "cam1", zones.reports[0].Camera)
	require.Len(t, zones.reports[0].Zones, 1)
	assert.Equal(t, 1, zones.reports[0].Zones[0].Visits)

	assert.Len(t, out.ObjectKeys, 3)
	assert.Equal(t, out.Report, objects.keys["reports/cam1/cam1_heatmap.json"])

	require.Len(t, pub.reports, 1)
	assert.Equal(t, "reports/cam1/cam1_heatmap.json", pub.reports[0].ObjectKey)
	assert.Equal(t, 1, pub.reports[0].Zones)
}
