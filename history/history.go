// Package history fetches historical demand series and multi product sales from the stores of
// the surrounding system.
package history

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/fuelcast/go-demandcast/crossproduct"
	"github.com/fuelcast/go-demandcast/timedataset"
)

var (
	ErrSeriesNotFound = errors.New("series not found")
	ErrInvalidKey     = errors.New("invalid series key")
)

// NetworkStation names the network wide aggregate in keys
const NetworkStation = "network"

// SeriesKey identifies a demand series. An empty StationID is the network wide aggregate.
type SeriesKey struct {
	StationID   string                  `json:"station_id,omitempty"`
	ProductType string                  `json:"product_type"`
	Granularity timedataset.Granularity `json:"granularity"`
}

func (k SeriesKey) Validate() error {
	if k.ProductType == "" {
		return fmt.Errorf("missing product type, %w", ErrInvalidKey)
	}
	if err := k.Granularity.Validate(); err != nil {
		return fmt.Errorf("%w, %w", err, ErrInvalidKey)
	}
	return nil
}

func (k SeriesKey) String() string {
	station := k.StationID
	if station == "" {
		station = NetworkStation
	}
	return station + "/" + k.ProductType + "/" + string(k.Granularity)
}

// Source is the historical data store
type Source interface {
	// Fetch returns the series of key ordered by timestamp
	Fetch(ctx context.Context, key SeriesKey) ([]timedataset.HistoricalPoint, error)

	// Sales returns the sales of products at a station ordered by timestamp
	Sales(ctx context.Context, stationID string, products []string) ([]crossproduct.SalesRecord, error)
}

// MemorySource is an in memory Source safe for concurrent use
type MemorySource struct {
	mu     sync.RWMutex
	series map[SeriesKey][]timedataset.HistoricalPoint
	sales  map[string][]crossproduct.SalesRecord
}

func NewMemorySource() *MemorySource {
	return &MemorySource{
		series: make(map[SeriesKey][]timedataset.HistoricalPoint),
		sales:  make(map[string][]crossproduct.SalesRecord),
	}
}

// Append adds points to the series of key, replacing points with the same timestamp
func (m *MemorySource) Append(key SeriesKey, points ...timedataset.HistoricalPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := append(slices.Clone(m.series[key]), points...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	res := merged[:0]
	for _, p := range merged {
		if n := len(res); n > 0 && res[n-1].Timestamp.Equal(p.Timestamp) {
			res[n-1] = p
			continue
		}
		res = append(res, p)
	}
	m.series[key] = res
}

// AddSales records sales at a station
func (m *MemorySource) AddSales(stationID string, records ...crossproduct.SalesRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales[stationID] = append(m.sales[stationID], records...)
}

func (m *MemorySource) Keys() []SeriesKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]SeriesKey, 0, len(m.series))
	for k := range m.series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func (m *MemorySource) Fetch(ctx context.Context, key SeriesKey) ([]timedataset.HistoricalPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	points, exists := m.series[key]
	if !exists {
		return nil, fmt.Errorf("%s, %w", key, ErrSeriesNotFound)
	}
	return slices.Clone(points), nil
}

func (m *MemorySource) Sales(ctx context.Context, stationID string, products []string) ([]crossproduct.SalesRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var res []crossproduct.SalesRecord
	for _, r := range m.sales[stationID] {
		if slices.Contains(products, r.Product) {
			res = append(res, r)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Timestamp.Before(res[j].Timestamp)
	})
	return res, nil
}
