package feature

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Set is a collection of equal length feature columns keyed by the string representation of
// the feature.
type Set struct {
	m      int
	set    map[string][]float64
	labels []Feature
}

func NewSet() *Set {
	return &Set{
		set: make(map[string][]float64),
	}
}

// Len returns the number of observations of each column
func (s *Set) Len() int {
	return s.m
}

// Set stores data for the feature. Columns are zero padded so every column has the length of
// the longest one.
func (s *Set) Set(f Feature, data []float64) *Set {
	key := f.String()
	if _, exists := s.set[key]; !exists {
		s.labels = append(s.labels, f)
	}

	col := make([]float64, len(data))
	copy(col, data)
	if len(col) > s.m {
		s.m = len(col)
		for k, other := range s.set {
			if len(other) < s.m {
				s.set[k] = append(other, make([]float64, s.m-len(other))...)
			}
		}
	}
	if len(col) < s.m {
		col = append(col, make([]float64, s.m-len(col))...)
	}
	s.set[key] = col
	return s
}

func (s *Set) Get(f Feature) ([]float64, bool) {
	col, exists := s.set[f.String()]
	return col, exists
}

// Labels returns the tracked features sorted by their string representation
func (s *Set) Labels() *Labels {
	if s == nil {
		return nil
	}
	labels := make([]Feature, len(s.labels))
	copy(labels, s.labels)
	sort.Slice(
		labels,
		func(i, j int) bool {
			return labels[i].String() < labels[j].String()
		},
	)
	return NewLabels(labels)
}

// Matrix returns the set as an m x n matrix with one row per observation and one column per
// feature in label order. The intercept adds a leading column of ones.
func (s *Set) Matrix(intercept bool) *mat.Dense {
	if s == nil {
		return nil
	}
	featureLabels := s.Labels()
	if featureLabels.Len() == 0 || s.m == 0 {
		return nil
	}

	m := s.m
	n := featureLabels.Len()
	if intercept {
		n += 1
	}
	obs := make([]float64, m*n)

	featNum := 0
	if intercept {
		for i := 0; i < m; i++ {
			obs[n*i] = 1.0
		}
		featNum += 1
	}
	for _, label := range featureLabels.Labels() {
		col := s.set[label.String()]
		for i := 0; i < m; i++ {
			obs[n*i+featNum] = col[i]
		}
		featNum += 1
	}
	return mat.NewDense(m, n, obs)
}

// MatrixSlice returns one slice per feature in label order, led by a column of ones when
// intercept is set.
func (s *Set) MatrixSlice(intercept bool) [][]float64 {
	if s == nil {
		return nil
	}
	featureLabels := s.Labels()
	if featureLabels.Len() == 0 {
		return nil
	}

	var obs [][]float64
	if intercept {
		ones := make([]float64, s.m)
		floats.AddConst(1.0, ones)
		obs = append(obs, ones)
	}
	for _, label := range featureLabels.Labels() {
		obs = append(obs, s.set[label.String()])
	}
	return obs
}
