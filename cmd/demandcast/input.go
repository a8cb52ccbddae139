package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	demandcast "github.com/fuelcast/go-demandcast"
	"github.com/fuelcast/go-demandcast/timedataset"
	"github.com/goccy/go-json"
)

var errInvalidFactors = errors.New("invalid factors csv")

// loadFactors reads external factors from a csv with a timestamp,factor,value header. An empty
// path means no factors.
func loadFactors(path string) (map[string][]timedataset.HistoricalPoint, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open factors, %w", err)
	}
	defer f.Close()
	return readFactors(f)
}

func readFactors(r io.Reader) (map[string][]timedataset.HistoricalPoint, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("unable to read header, %w", err)
	}
	if len(header) != 3 || strings.ToLower(header[0]) != "timestamp" ||
		strings.ToLower(header[1]) != "factor" || strings.ToLower(header[2]) != "value" {
		return nil, fmt.Errorf("header %v, %w", header, errInvalidFactors)
	}

	res := make(map[string][]timedataset.HistoricalPoint)
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("unable to read line %d, %w", line, err)
		}
		t, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			if t, err = time.Parse(time.DateOnly, row[0]); err != nil {
				return nil, fmt.Errorf("line %d timestamp %q, %w", line, row[0], errInvalidFactors)
			}
		}
		if row[1] == "" {
			return nil, fmt.Errorf("line %d missing factor, %w", line, errInvalidFactors)
		}
		v, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d value %q, %w", line, row[2], errInvalidFactors)
		}
		res[row[1]] = append(res[row[1]], timedataset.HistoricalPoint{Timestamp: t, Value: v})
	}

	for _, points := range res {
		sort.Slice(points, func(i, j int) bool {
			return points[i].Timestamp.Before(points[j].Timestamp)
		})
	}
	return res, nil
}

func loadScenarios(path string) ([]demandcast.Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read scenarios, %w", err)
	}
	var scenarios []demandcast.Scenario
	if err := json.Unmarshal(b, &scenarios); err != nil {
		return nil, fmt.Errorf("unable to decode scenarios, %w", err)
	}
	return scenarios, nil
}
