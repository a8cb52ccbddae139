package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	demandcast "github.com/fuelcast/go-demandcast"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var weekly = []float64{-1.5, -0.5, 0, 0.5, 1, 1.5, -1}

func writeHistory(t *testing.T, days int) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("timestamp,station_id,product_type,value,price\n")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i).Format(time.DateOnly)
		diesel := 200 + 0.2*float64(i) + 10*weekly[i%7]
		sb.WriteString(fmt.Sprintf("%s,st-1,diesel,%.3f,1.65\n", day, diesel))
	}
	path := filepath.Join(t.TempDir(), "history.csv")
	require.Nil(t, os.WriteFile(path, []byte(sb.String()), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	err := cmd.Execute()
	return stdout.String(), err
}

func TestForecastCommand(t *testing.T) {
	history := writeHistory(t, 120)
	cfg := filepath.Join(t.TempDir(), "demandcast.yaml")
	models := filepath.Join(t.TempDir(), "models")
	require.Nil(t, os.WriteFile(cfg, []byte("storage:\n  type: file\n  dir: "+models+"\n"), 0o600))

	out, err := execute(t, "train", "--config", cfg, "--history", history, "--station", "st-1", "--product", "diesel")
	require.Nil(t, err)
	var trained demandcast.TrainResult
	require.Nil(t, json.Unmarshal([]byte(out), &trained))
	assert.True(t, trained.Persisted)
	assert.Equal(t, 120, trained.TrainingDataPoints)

	out, err = execute(t, "forecast", "--config", cfg, "--history", history, "--station", "st-1", "--product", "diesel", "--horizon", "5")
	require.Nil(t, err)
	var res demandcast.ForecastResult
	require.Nil(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Predictions, 5)
	for _, p := range res.Predictions {
		require.NotNil(t, p.LowerBound)
		assert.LessOrEqual(t, *p.LowerBound, p.Value)
	}
	assert.Equal(t, "st-1", res.Key.StationID)
}

func TestCommandErrors(t *testing.T) {
	history := writeHistory(t, 120)
	testData := map[string]struct {
		args []string
	}{
		"no history": {
			args: []string{"forecast", "--product", "diesel"},
		},
		"unknown granularity": {
			args: []string{"forecast", "--history", history, "--product", "diesel", "--granularity", "fortnightly"},
		},
		"unknown profile": {
			args: []string{"forecast", "--history", history, "--product", "diesel", "--profile", "block"},
		},
		"unknown series": {
			args: []string{"anomalies", "--history", history, "--product", "lpg"},
		},
		"missing products": {
			args: []string{"cannibalization", "--history", history, "--station", "st-1"},
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			_, err := execute(t, td.args...)
			assert.NotNil(t, err)
		})
	}
}

func TestPlotCommand(t *testing.T) {
	history := writeHistory(t, 120)
	out := filepath.Join(t.TempDir(), "forecast.html")

	_, err := execute(t, "plot", "--history", history, "--product", "diesel", "--out", out)
	require.Nil(t, err)

	b, err := os.ReadFile(out)
	require.Nil(t, err)
	assert.Contains(t, string(b), "Forecast")
	assert.Contains(t, string(b), "Upper")
}

func TestReadFactors(t *testing.T) {
	testData := map[string]struct {
		content  string
		expected map[string][]float64
		err      error
	}{
		"two factors out of order": {
			content: "timestamp,factor,value\n" +
				"2024-01-02,price,1.7\n" +
				"2024-01-01,price,1.6\n" +
				"2024-01-01T00:00:00Z,temperature,12\n",
			expected: map[string][]float64{"price": {1.6, 1.7}, "temperature": {12}},
		},
		"bad header": {
			content: "time,name,value\n",
			err:     errInvalidFactors,
		},
		"bad value": {
			content: "timestamp,factor,value\n2024-01-01,price,cheap\n",
			err:     errInvalidFactors,
		},
		"missing factor": {
			content: "timestamp,factor,value\n2024-01-01,,1\n",
			err:     errInvalidFactors,
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			res, err := readFactors(strings.NewReader(td.content))
			if td.err != nil {
				assert.ErrorIs(t, err, td.err)
				return
			}
			require.Nil(t, err)
			require.Len(t, res, len(td.expected))
			for name, expected := range td.expected {
				values := make([]float64, len(res[name]))
				for i, p := range res[name] {
					values[i] = p.Value
				}
				assert.Equal(t, expected, values, name)
			}
		})
	}

	res, err := loadFactors("")
	require.Nil(t, err)
	assert.Nil(t, res)
}
