package models

import (
	"math"
	"math/rand/v2"
)

const eulerGamma = 0.5772156649

// IsolationOptions configures the isolation forest used for anomaly scoring
type IsolationOptions struct {
	Trees      int `json:"trees" mapstructure:"trees"`
	SampleSize int `json:"sample_size" mapstructure:"sample_size"`

	// Window is the length of the centered rolling median the deviations are taken from
	Window int `json:"window" mapstructure:"window"`
}

func NewDefaultIsolationOptions() *IsolationOptions {
	return &IsolationOptions{
		Trees:      100,
		SampleSize: 256,
		Window:     7,
	}
}

type isoNode struct {
	feature   int
	threshold float64
	left      *isoNode
	right     *isoNode

	// leaf only
	size int
	min  []float64
	max  []float64
}

// IsolationForest scores points by how few random axis aligned cuts isolate them
type IsolationForest struct {
	roots      []*isoNode
	sampleSize int
}

// NewIsolationForest grows trees on random subsamples of x
func NewIsolationForest(x [][]float64, trees, sampleSize int, rng *rand.Rand) *IsolationForest {
	n := len(x)
	if sampleSize <= 0 || sampleSize > n {
		sampleSize = n
	}
	f := &IsolationForest{sampleSize: sampleSize}
	if n == 0 {
		return f
	}
	heightLimit := int(math.Ceil(math.Log2(float64(max(sampleSize, 2)))))

	for i := 0; i < trees; i++ {
		perm := rng.Perm(n)[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range perm {
			sample[j] = x[idx]
		}
		f.roots = append(f.roots, growIsoTree(sample, 0, heightLimit, rng))
	}
	return f
}

func growIsoTree(sample [][]float64, depth, limit int, rng *rand.Rand) *isoNode {
	dims := len(sample[0])
	lo := make([]float64, dims)
	hi := make([]float64, dims)
	copy(lo, sample[0])
	copy(hi, sample[0])
	for _, row := range sample[1:] {
		for d, v := range row {
			lo[d] = math.Min(lo[d], v)
			hi[d] = math.Max(hi[d], v)
		}
	}

	var splittable []int
	for d := 0; d < dims; d++ {
		if hi[d] > lo[d] {
			splittable = append(splittable, d)
		}
	}
	if len(sample) <= 1 || depth >= limit || len(splittable) == 0 {
		return &isoNode{size: len(sample), min: lo, max: hi}
	}

	d := splittable[rng.IntN(len(splittable))]
	threshold := lo[d] + rng.Float64()*(hi[d]-lo[d])
	var left, right [][]float64
	for _, row := range sample {
		if row[d] < threshold {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{size: len(sample), min: lo, max: hi}
	}
	return &isoNode{
		feature:   d,
		threshold: threshold,
		left:      growIsoTree(left, depth+1, limit, rng),
		right:     growIsoTree(right, depth+1, limit, rng),
	}
}

func (n *isoNode) pathLength(x []float64, depth int) float64 {
	if n.left == nil {
		if n.size > 1 && outside(x, n.min, n.max) {
			// a value beyond every training point of the leaf is separated by the next cut
			return float64(depth + 1)
		}
		return float64(depth) + averagePath(n.size)
	}
	if x[n.feature] < n.threshold {
		return n.left.pathLength(x, depth+1)
	}
	return n.right.pathLength(x, depth+1)
}

func outside(x, lo, hi []float64) bool {
	for d, v := range x {
		if v < lo[d] || v > hi[d] {
			return true
		}
	}
	return false
}

// averagePath is the expected path length of an unsuccessful search in a binary search tree
// of n points
func averagePath(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}

// Score returns 2^(-E[h(x)]/c(n)) in (0, 1). Values near 1 are anomalous and values at or
// below 0.5 are ordinary.
func (f *IsolationForest) Score(x []float64) float64 {
	if len(f.roots) == 0 {
		return 0
	}
	var total float64
	for _, root := range f.roots {
		total += root.pathLength(x, 0)
	}
	avg := total / float64(len(f.roots))
	c := averagePath(f.sampleSize)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -avg/c)
}
