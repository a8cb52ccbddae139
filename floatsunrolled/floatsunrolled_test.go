package floatsunrolled

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/floats"
)

func checkPanic(t *testing.T, err error) {
	r := recover()
	if r == nil {
		return
	}
	if err != nil {
		rErr, ok := r.(error)
		assert.True(t, ok)
		assert.EqualError(t, rErr, err.Error())
		return
	}

	assert.Nil(t, r)
}

func TestDot(t *testing.T) {
	testData := map[string]struct {
		a        []float64
		b        []float64
		err      error
		expected float64
	}{
		"dot length mismatch": {
			a:   []float64{1, 2, 3},
			b:   []float64{1, 2},
			err: ErrSliceLengthMismatch,
		},
		"dot empty": {
			a:        []float64{},
			b:        []float64{},
			expected: 0,
		},
		"dot tail only": {
			a:        []float64{1, 2, 3},
			b:        []float64{1, 2, 3},
			expected: 14,
		},
		"dot batch": {
			a:        []float64{1, 2, 3, 4},
			b:        []float64{4, 3, 2, 1},
			expected: 20,
		},
		"dot batch and tail": {
			a:        []float64{1, 2, 3, 4, 5, 6},
			b:        []float64{4, 3, 2, 1, 1, 2},
			expected: 37,
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			defer checkPanic(t, td.err)
			res := Dot(td.a, td.b)
			assert.Equal(t, td.expected, res)
		})
	}
}

func TestAddScaled(t *testing.T) {
	testData := map[string]struct {
		dst      []float64
		c        float64
		s        []float64
		err      error
		expected []float64
	}{
		"add scaled length mismatch": {
			dst: []float64{1, 2, 3},
			s:   []float64{1, 2},
			err: ErrSliceLengthMismatch,
		},
		"add scaled tail only": {
			dst:      []float64{1, 2, 3},
			c:        2,
			s:        []float64{1, 1, 1},
			expected: []float64{3, 4, 5},
		},
		"add scaled batch and tail": {
			dst:      []float64{1, 2, 3, 4, 5},
			c:        -1,
			s:        []float64{1, 2, 3, 4, 5},
			expected: []float64{0, 0, 0, 0, 0},
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			defer checkPanic(t, td.err)
			res := AddScaled(td.dst, td.c, td.s)
			assert.Equal(t, td.expected, res)
		})
	}
}

func TestMatchesNaive(t *testing.T) {
	for _, size := range []int{1, 7, 28, 1001} {
		a := generateRandomSlice(size)
		b := generateRandomSlice(size)
		assert.InDelta(t, floats.Dot(a, b), Dot(a, b), 1e-9)

		expected := append([]float64(nil), a...)
		floats.AddScaled(expected, 0.3, b)
		res := AddScaled(append([]float64(nil), a...), 0.3, b)
		assert.InDeltaSlice(t, expected, res, 1e-12)
	}
}

func generateRandomSlice(size int) []float64 {
	a := make([]float64, size)
	for i := 0; i < len(a); i++ {
		a[i] = rand.NormFloat64()
	}
	return a
}

func BenchmarkDot(b *testing.B) {
	a := generateRandomSlice(1000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Dot(a, a)
	}
}

func BenchmarkNaiveDot(b *testing.B) {
	a := generateRandomSlice(1000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		floats.Dot(a, a)
	}
}

func BenchmarkAddScaled(b *testing.B) {
	a := generateRandomSlice(1000)
	s := generateRandomSlice(1000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		AddScaled(a, 1e-9, s)
	}
}

func BenchmarkNaiveAddScaled(b *testing.B) {
	a := generateRandomSlice(1000)
	s := generateRandomSlice(1000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		floats.AddScaled(a, 1e-9, s)
	}
}
