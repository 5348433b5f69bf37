package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/retailedge/internal/heatmap"
)

func TestZoneRows(t *testing.T) {
	r := heatmap.Report{
		Camera:      "cam1",
		GeneratedAt: "2024-03-01T10:00:00Z",
		CellSizePx:  50,
		Zones: []heatmap.Zone{
			{Zone: "(0,0)", Visits: 3, HotSpots: 1, AvgDwell: 4.5},
			{Zone: "(2,1)", Visits: 1, AvgDwell: 2},
		},
	}

	rows, err := ZoneRows(r)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "cam1", rows[0].Camera)
	assert.Equal(t, "(0,0)", rows[0].Zone)
	assert.Equal(t, 3, rows[0].Visits)
	assert.Equal(t, 1, rows[0].HotSpots)
	assert.InDelta(t, 4.5, rows[0].AvgDwell, 1e-9)
	assert.True(t, rows[1].GeneratedAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
}

func TestZoneRowsErrors(t *testing.T) {
	_, err := ZoneRows(heatmap.Report{})
	assert.Error(t, err)

	_, err = ZoneRows(heatmap.Report{Camera: "cam1", GeneratedAt: "yesterday"})
	assert.Error(t, err)

	rows, err := ZoneRows(heatmap.Report{Camera: "cam1"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReportKeys(t *testing.T) {
	keys := []string{
		"reports/cam1/cam1_heatmap.json",
		"reports/cam1/cam1_heatmap.png",
		"reports/cam2/cam2_heatmap.json",
		"reports/_heatmap.json",
		"reports/master_heatmap.json",
	}
	assert.Equal(t, []string{
		"reports/cam1/cam1_heatmap.json",
		"reports/cam2/cam2_heatmap.json",
	}, ReportKeys(keys))
	assert.Empty(t, ReportKeys(nil))
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "reports/cam1/cam1_heatmap.json", ObjectKey("cam1", "/out/heatmaps/cam1_heatmap.json"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", ContentType("a.json"))
	assert.Equal(t, "image/png", ContentType("a.PNG"))
	assert.Equal(t, "text/html", ContentType("chart.html"))
	assert.Equal(t, "application/octet-stream", ContentType("a.bin"))
}
