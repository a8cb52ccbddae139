package history

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fuelcast/go-demandcast/crossproduct"
	"github.com/fuelcast/go-demandcast/timedataset"
	"github.com/shopspring/decimal"
)

var ErrInvalidCSV = errors.New("invalid csv history")

// csv columns, price is optional
var csvHeader = []string{"timestamp", "station_id", "product_type", "value", "price"}

// LoadCSV reads sales rows into a memory source. Every row contributes its value to the
// series of its station and to the network aggregate at each granularity, and rows with a
// price are also kept as sales records. Empty values are explicit no data markers.
func LoadCSV(r io.Reader, granularities ...timedataset.Granularity) (*MemorySource, error) {
	if len(granularities) == 0 {
		granularities = []timedataset.Granularity{timedataset.Daily}
	}
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("unable to read header, %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range csvHeader[:4] {
		if _, exists := col[name]; !exists {
			return nil, fmt.Errorf("missing column %q, %w", name, ErrInvalidCSV)
		}
	}

	type bucket struct {
		sum   float64
		valid bool
	}
	sums := make(map[SeriesKey]map[time.Time]*bucket)
	add := func(key SeriesKey, t time.Time, v float64) {
		t = key.Granularity.Truncate(t)
		if sums[key] == nil {
			sums[key] = make(map[time.Time]*bucket)
		}
		b := sums[key][t]
		if b == nil {
			b = &bucket{}
			sums[key][t] = b
		}
		if !math.IsNaN(v) {
			b.sum += v
			b.valid = true
		}
	}

	src := NewMemorySource()
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unable to read line %d, %w", line, err)
		}
		field := func(name string) string {
			i, exists := col[name]
			if !exists || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		t, err := time.Parse(time.RFC3339, field("timestamp"))
		if err != nil {
			if t, err = time.Parse(time.DateOnly, field("timestamp")); err != nil {
				return nil, fmt.Errorf("line %d timestamp %q, %w", line, field("timestamp"), ErrInvalidCSV)
			}
		}
		product := field("product_type")
		if product == "" {
			return nil, fmt.Errorf("line %d missing product type, %w", line, ErrInvalidCSV)
		}
		value := math.NaN()
		if s := field("value"); s != "" {
			if value, err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("line %d value %q, %w", line, s, ErrInvalidCSV)
			}
		}
		station := field("station_id")

		for _, g := range granularities {
			add(SeriesKey{StationID: station, ProductType: product, Granularity: g}, t, value)
			if station != "" {
				add(SeriesKey{ProductType: product, Granularity: g}, t, value)
			}
		}

		if s := field("price"); s != "" && !math.IsNaN(value) {
			price, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("line %d price %q, %w", line, s, ErrInvalidCSV)
			}
			src.AddSales(station, crossproduct.SalesRecord{Timestamp: t, Product: product, Quantity: value, Price: price})
		}
	}

	for key, buckets := range sums {
		points := make([]timedataset.HistoricalPoint, 0, len(buckets))
		for t, b := range buckets {
			v := math.NaN()
			if b.valid {
				v = b.sum
			}
			points = append(points, timedataset.HistoricalPoint{Timestamp: t, Value: v})
		}
		src.Append(key, points...)
	}
	return src, nil
}

// LoadCSVFile reads the csv history at path
func LoadCSVFile(path string, granularities ...timedataset.Granularity) (*MemorySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open history, %w", err)
	}
	defer f.Close()
	return LoadCSV(f, granularities...)
}
