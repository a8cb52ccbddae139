package ensemble

import (
	"math"
)

// minError keeps the inverse of a perfect score finite
const minError = 1e-6

// NextWeights moves the current weights a step of size rate toward targets inversely
// proportional to the observed errors and renormalizes them to sum to 1.
//
// Members without an error keep their weight before renormalization. The targets of the
// measured members share the mass those members currently hold, so an update never moves
// weight to or from members that were not measured. A rate of 1 jumps straight to the
// targets and a rate of 0 only renormalizes.
func NextWeights(current, errors map[string]float64, rate float64) map[string]float64 {
	res := make(map[string]float64, len(current))
	if len(current) == 0 {
		return res
	}
	rate = math.Max(0, math.Min(1, rate))

	var total float64
	for name, w := range current {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			w = 0
		}
		res[name] = w
		total += w
	}
	if total == 0 {
		for name := range res {
			res[name] = 1 / float64(len(res))
		}
		total = 1
	}
	for name := range res {
		res[name] /= total
	}

	var measuredMass, inverseSum float64
	inverse := make(map[string]float64)
	for name, e := range errors {
		if _, exists := res[name]; !exists || math.IsNaN(e) || math.IsInf(e, 0) || e < 0 {
			continue
		}
		inverse[name] = 1 / math.Max(e, minError)
		inverseSum += inverse[name]
		measuredMass += res[name]
	}
	if len(inverse) > 0 {
		if measuredMass == 0 {
			// measured members that lost all weight can still earn some back
			measuredMass = float64(len(inverse)) / float64(len(res))
		}
		for name, inv := range inverse {
			target := measuredMass * inv / inverseSum
			res[name] = (1-rate)*res[name] + rate*target
		}
	}

	total = 0
	for _, w := range res {
		total += w
	}
	for name := range res {
		res[name] /= total
	}
	return res
}
