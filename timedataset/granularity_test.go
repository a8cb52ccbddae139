package timedataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGranularity(t *testing.T) {
	testData := map[string]struct {
		in       string
		expected Granularity
		err      error
	}{
		"daily":      {in: "daily", expected: Daily},
		"mixed case": {in: " Weekly ", expected: Weekly},
		"unknown":    {in: "fortnightly", err: ErrUnknownGranularity},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			g, err := ParseGranularity(td.in)
			if td.err != nil {
				require.ErrorIs(t, err, td.err)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, td.expected, g)
		})
	}
}

func TestGranularityStep(t *testing.T) {
	start := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	testData := map[string]struct {
		g        Granularity
		expected time.Time
		period   int
	}{
		"hourly":  {Hourly, time.Date(2024, 1, 31, 2, 0, 0, 0, time.UTC), 24},
		"daily":   {Daily, time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC), 7},
		"weekly":  {Weekly, time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC), 52},
		"monthly": {Monthly, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), 12},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, td.expected, td.g.Step(start, 2))
			assert.Equal(t, td.period, td.g.DefaultPeriod())
		})
	}
}

func TestGranularityFutureAndSteps(t *testing.T) {
	last := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	future := Daily.Future(last, 3)
	require.Len(t, future, 3)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), future[0])
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), future[2])

	assert.Equal(t, 3, Daily.Steps(last, future[2]))
	assert.Equal(t, 5, Monthly.Steps(time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))
}

func TestGranularityTruncate(t *testing.T) {
	// 2024-02-07 is a wednesday
	ts := time.Date(2024, 2, 7, 15, 30, 0, 0, time.UTC)
	testData := map[string]struct {
		g        Granularity
		in       time.Time
		expected time.Time
	}{
		"hourly":          {Hourly, ts, time.Date(2024, 2, 7, 15, 0, 0, 0, time.UTC)},
		"daily":           {Daily, ts, time.Date(2024, 2, 7, 0, 0, 0, 0, time.UTC)},
		"weekly":          {Weekly, ts, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)},
		"weekly monday":   {Weekly, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)},
		"weekly sunday":   {Weekly, time.Date(2024, 2, 11, 23, 0, 0, 0, time.UTC), time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)},
		"weekly new year": {Weekly, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC)},
		"monthly":         {Monthly, ts, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, td.expected, td.g.Truncate(td.in))
		})
	}
}
