package feature

import (
	"fmt"
	"strconv"
	"strings"
)

// Lag is the target value k steps in the past
type Lag struct {
	K int `json:"k"`
}

func NewLag(k int) *Lag {
	return &Lag{k}
}

func (l Lag) String() string {
	return fmt.Sprintf("lag_%04d", l.K)
}

func (l Lag) Get(label string) (string, bool) {
	switch strings.ToLower(label) {
	case "k":
		return strconv.Itoa(l.K), true
	}
	return "", false
}

func (l Lag) Type() FeatureType {
	return FeatureTypeLag
}

func (l Lag) Decode() map[string]string {
	return map[string]string{"k": strconv.Itoa(l.K)}
}
