package aggregate

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/your-org/retailedge/internal/heatmap"
)

// RenderChart writes an HTML scatter of the aggregate zones: one point per
// zone at its grid coordinates, coloured by visits.
func RenderChart(agg Aggregate, w io.Writer) error {
	data := make([]opts.ScatterData, 0, len(agg.Zones))
	maxVisits := 1
	for _, z := range agg.Zones {
		c, err := heatmap.ParseZoneKey(z.Zone)
		if err != nil {
			continue
		}
		maxVisits = max(maxVisits, z.Visits)
		data = append(data, opts.ScatterData{
			Name:  z.Zone,
			Value: []interface{}{c.X, c.Y, z.Visits, z.HotSpots, z.AvgDwell},
		})
	}

	subtitle := fmt.Sprintf("zones=%d", len(data))
	if agg.CellSizePx != nil {
		subtitle += fmt.Sprintf(" cell=%dpx", *agg.CellSizePx)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Store heatmap", Width: "900px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: "Aggregate zone visits", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "grid x", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "grid y", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxVisits),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#3b4cc0", "#7396f5", "#b0cbfc", "#f6bfa6", "#ea7b60", "#b40426"}},
		}),
	)
	scatter.AddSeries("visits", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}))

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
