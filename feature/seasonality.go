package feature

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type FourierComp string

const (
	FourierCompSin FourierComp = "sin"
	FourierCompCos FourierComp = "cos"
)

const (
	Daily  = 24 * time.Hour
	Weekly = 7 * Daily
	Yearly = time.Duration(365.25 * float64(Daily))
)

// Seasonality is one fourier component of a periodic pattern
type Seasonality struct {
	Name        string      `json:"name"`
	FourierComp FourierComp `json:"fourier_component"`
	Order       int         `json:"order"`
}

func NewSeasonality(name string, fcomp FourierComp, order int) *Seasonality {
	return &Seasonality{name, fcomp, order}
}

func (s Seasonality) String() string {
	return fmt.Sprintf("seas_%s_%02d_%s", s.Name, s.Order, s.FourierComp)
}

func (s Seasonality) Get(label string) (string, bool) {
	switch strings.ToLower(label) {
	case "name":
		return s.Name, true
	case "fourier_component":
		return string(s.FourierComp), true
	case "order":
		return strconv.Itoa(s.Order), true
	}
	return "", false
}

func (s Seasonality) Type() FeatureType {
	return FeatureTypeSeasonality
}

func (s Seasonality) Decode() map[string]string {
	res := make(map[string]string)
	res["name"] = s.Name
	res["fourier_component"] = string(s.FourierComp)
	res["order"] = strconv.Itoa(s.Order)
	return res
}

// AddFourier sets sine and cosine columns for orders 1 through orders of a cycle of the given
// period, measured from the unix epoch.
func AddFourier(s *Set, name string, t []time.Time, period time.Duration, orders int) *Set {
	phase := make([]float64, len(t))
	periodSec := period.Seconds()
	for i, tPnt := range t {
		phase[i] = math.Mod(float64(tPnt.Unix()), periodSec)
	}
	for order := 1; order <= orders; order++ {
		sinFeat, cosFeat := fourierComponent(phase, order, periodSec)
		s.Set(NewSeasonality(name, FourierCompSin, order), sinFeat)
		s.Set(NewSeasonality(name, FourierCompCos, order), cosFeat)
	}
	return s
}

func fourierComponent(phase []float64, order int, period float64) ([]float64, []float64) {
	omega := 2.0 * math.Pi * float64(order) / period
	sinFeat := make([]float64, len(phase))
	cosFeat := make([]float64, len(phase))
	for i, p := range phase {
		rad := omega * p
		sinFeat[i] = math.Sin(rad)
		cosFeat[i] = math.Cos(rad)
	}
	return sinFeat, cosFeat
}
