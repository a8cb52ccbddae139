// Package plot renders demand history, forecasts and anomalies as html line charts.
package plot

import (
	"io"
	"math"
	"sort"
	"time"

	"github.com/fuelcast/go-demandcast/confidence"
	"github.com/fuelcast/go-demandcast/models"
	"github.com/fuelcast/go-demandcast/timedataset"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// LineTSeries generates an echart multi-line chart for some arbitrary time/value combination.
// Every series in y must have the same length as t. NaN values are drawn as gaps.
func LineTSeries(title string, seriesName []string, t []time.Time, y [][]float64) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(
			opts.Title{
				Title: title,
			},
		),
	)

	line = line.SetXAxis(t)
	for i, series := range seriesName {
		line = line.AddSeries(series, lineData(y[i]))
	}
	return line
}

// LineForecast plots the history followed by the forecast and, when present, its bounds
func LineForecast(title string, history []timedataset.HistoricalPoint, predictions []confidence.Prediction) *charts.Line {
	t := axis(history, predictions)
	idx := make(map[int64]int, len(t))
	for i, tPnt := range t {
		idx[tPnt.UnixNano()] = i
	}

	actual := nans(len(t))
	for _, p := range history {
		actual[idx[p.Timestamp.UnixNano()]] = p.Value
	}
	forecast, upper, lower := nans(len(t)), nans(len(t)), nans(len(t))
	var bounded bool
	for _, p := range predictions {
		i := idx[p.Timestamp.UnixNano()]
		forecast[i] = p.Value
		if p.UpperBound != nil && p.LowerBound != nil {
			upper[i] = *p.UpperBound
			lower[i] = *p.LowerBound
			bounded = true
		}
	}

	names := []string{"Actual", "Forecast"}
	series := [][]float64{actual, forecast}
	if bounded {
		names = append(names, "Upper", "Lower")
		series = append(series, upper, lower)
	}
	return LineTSeries(title, names, t, series)
}

// LineAnomalies plots a series with its anomalous observations and their scores
func LineAnomalies(title string, points []timedataset.HistoricalPoint, records []models.AnomalyRecord) *charts.Line {
	t := axis(points, nil)
	idx := make(map[int64]int, len(t))
	for i, tPnt := range t {
		idx[tPnt.UnixNano()] = i
	}

	actual := nans(len(t))
	for _, p := range points {
		actual[idx[p.Timestamp.UnixNano()]] = p.Value
	}
	flagged, critical := nans(len(t)), nans(len(t))
	for _, r := range records {
		i, exists := idx[r.Timestamp.UnixNano()]
		if !exists {
			continue
		}
		if r.Severity == models.SeverityCritical {
			critical[i] = r.Value
		} else {
			flagged[i] = r.Value
		}
	}
	return LineTSeries(title, []string{"Actual", "Flagged", "Critical"}, t, [][]float64{actual, flagged, critical})
}

// Render writes the charts as a single html page
func Render(w io.Writer, cs ...components.Charter) error {
	page := components.NewPage()
	page.AddCharts(cs...)
	return page.Render(w)
}

// lineData maps NaN to an empty value so that echarts leaves a gap
func lineData(y []float64) []opts.LineData {
	res := make([]opts.LineData, len(y))
	for i, v := range y {
		if math.IsNaN(v) {
			continue
		}
		res[i] = opts.LineData{Value: v}
	}
	return res
}

// axis returns the sorted distinct timestamps of the history and the predictions
func axis(history []timedataset.HistoricalPoint, predictions []confidence.Prediction) []time.Time {
	seen := make(map[int64]bool, len(history)+len(predictions))
	res := make([]time.Time, 0, len(history)+len(predictions))
	add := func(t time.Time) {
		if !seen[t.UnixNano()] {
			seen[t.UnixNano()] = true
			res = append(res, t)
		}
	}
	for _, p := range history {
		add(p.Timestamp)
	}
	for _, p := range predictions {
		add(p.Timestamp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Before(res[j]) })
	return res
}

func nans(n int) []float64 {
	res := make([]float64, n)
	for i := range res {
		res[i] = math.NaN()
	}
	return res
}
