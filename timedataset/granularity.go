package timedataset

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownGranularity = errors.New("unknown granularity")

// Granularity is the time step size of a demand series
type Granularity string

const (
	Hourly  Granularity = "hourly"
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

// ParseGranularity converts a case insensitive string into a granularity
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	if err := g.Validate(); err != nil {
		return "", err
	}
	return g, nil
}

func (g Granularity) Validate() error {
	switch g {
	case Hourly, Daily, Weekly, Monthly:
		return nil
	}
	return fmt.Errorf("%q, %w", string(g), ErrUnknownGranularity)
}

// Step advances t by n steps of the granularity. Monthly steps are calendar aware.
func (g Granularity) Step(t time.Time, n int) time.Time {
	switch g {
	case Hourly:
		return t.Add(time.Duration(n) * time.Hour)
	case Weekly:
		return t.AddDate(0, 0, 7*n)
	case Monthly:
		return t.AddDate(0, n, 0)
	default:
		return t.AddDate(0, 0, n)
	}
}

// Truncate aligns t to the start of its granularity bucket
func (g Granularity) Truncate(t time.Time) time.Time {
	switch g {
	case Hourly:
		return t.Truncate(time.Hour)
	case Weekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		// weeks start on monday
		return day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	case Monthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
}

// DefaultPeriod is the dominant seasonal cycle length in steps
func (g Granularity) DefaultPeriod() int {
	switch g {
	case Hourly:
		return 24
	case Weekly:
		return 52
	case Monthly:
		return 12
	default:
		return 7
	}
}

// Future returns the horizon timestamps that follow last
func (g Granularity) Future(last time.Time, horizon int) []time.Time {
	t := make([]time.Time, horizon)
	for i := 0; i < horizon; i++ {
		t[i] = g.Step(last, i+1)
	}
	return t
}

// Steps counts the granularity steps between from and to. The result is only exact when
// to lies on the grid anchored at from.
func (g Granularity) Steps(from, to time.Time) int {
	switch g {
	case Hourly:
		return int(to.Sub(from) / time.Hour)
	case Weekly:
		return int(to.Sub(from).Round(time.Hour) / (7 * 24 * time.Hour))
	case Monthly:
		return (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	default:
		return int(to.Sub(from).Round(time.Hour) / (24 * time.Hour))
	}
}
