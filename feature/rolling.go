package feature

import (
	"fmt"
	"strconv"
	"strings"
)

type RollingStat string

const (
	RollingMean RollingStat = "mean"
	RollingStd  RollingStat = "std"
)

// Rolling is a statistic over the window of values strictly before the current step
type Rolling struct {
	Window int         `json:"window"`
	Stat   RollingStat `json:"stat"`
}

func NewRolling(window int, stat RollingStat) *Rolling {
	return &Rolling{window, stat}
}

func (r Rolling) String() string {
	return fmt.Sprintf("rolling_%04d_%s", r.Window, r.Stat)
}

func (r Rolling) Get(label string) (string, bool) {
	switch strings.ToLower(label) {
	case "window":
		return strconv.Itoa(r.Window), true
	case "stat":
		return string(r.Stat), true
	}
	return "", false
}

func (r Rolling) Type() FeatureType {
	return FeatureTypeRolling
}

func (r Rolling) Decode() map[string]string {
	return map[string]string{
		"window": strconv.Itoa(r.Window),
		"stat":   string(r.Stat),
	}
}
