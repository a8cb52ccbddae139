package feature

import (
	"fmt"
	"strings"
)

// Calendar is a deterministic function of the timestamp such as day of week
type Calendar struct {
	Name string `json:"name"`
}

func NewCalendar(name string) *Calendar {
	return &Calendar{name}
}

func (c Calendar) String() string {
	return fmt.Sprintf("cal_%s", c.Name)
}

func (c Calendar) Get(label string) (string, bool) {
	switch strings.ToLower(label) {
	case "name":
		return c.Name, true
	}
	return "", false
}

func (c Calendar) Type() FeatureType {
	return FeatureTypeCalendar
}

func (c Calendar) Decode() map[string]string {
	return map[string]string{"name": c.Name}
}

// Holiday indicates an observed public holiday
type Holiday struct {
	Name string `json:"name"`
}

func NewHoliday(name string) *Holiday {
	return &Holiday{name}
}

func (h Holiday) String() string {
	return fmt.Sprintf("holiday_%s", h.Name)
}

func (h Holiday) Get(label string) (string, bool) {
	switch strings.ToLower(label) {
	case "name":
		return h.Name, true
	}
	return "", false
}

func (h Holiday) Type() FeatureType {
	return FeatureTypeHoliday
}

func (h Holiday) Decode() map[string]string {
	return map[string]string{"name": h.Name}
}

// Factor is a caller supplied regressor such as price or temperature
type Factor struct {
	Name string `json:"name"`
}

func NewFactor(name string) *Factor {
	return &Factor{name}
}

func (e Factor) String() string {
	return fmt.Sprintf("ext_%s", e.Name)
}

func (e Factor) Get(label string) (string, bool) {
	switch strings.ToLower(label) {
	case "name":
		return e.Name, true
	}
	return "", false
}

func (e Factor) Type() FeatureType {
	return FeatureTypeExternal
}

func (e Factor) Decode() map[string]string {
	return map[string]string{"name": e.Name}
}

const (
	TrendIntercept = "intercept"
	TrendLinear    = "linear"
)

// Trend is a growth term of the time index
type Trend struct {
	Name string `json:"name"`
}

func NewTrend(name string) *Trend {
	return &Trend{name}
}

func (g Trend) String() string {
	return fmt.Sprintf("trend_%s", g.Name)
}

func (g Trend) Get(label string) (string, bool) {
	switch strings.ToLower(label) {
	case "name":
		return g.Name, true
	}
	return "", false
}

func (g Trend) Type() FeatureType {
	return FeatureTypeTrend
}

func (g Trend) Decode() map[string]string {
	return map[string]string{"name": g.Name}
}
