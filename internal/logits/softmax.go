package logits

import "math"

// MaskedSoftmax normalises logits over the positions where support is true.
// Positions outside the support get exactly 0. The computation subtracts the
// largest supported logit before exponentiating and accumulates in float64,
// so very large or very negative logits do not overflow.
//
// If no position is supported, or every supported exponent underflows, the
// result is all zeros and ok is false.
func MaskedSoftmax(logits []float32, support []bool) (prob []float64, ok bool) {
	prob = make([]float64, len(logits))
	if len(support) != len(logits) {
		return prob, false
	}

	maxv := math.Inf(-1)
	for i, l := range logits {
		if !support[i] {
			continue
		}
		if v := float64(l); v > maxv {
			maxv = v
		}
	}
	if math.IsInf(maxv, -1) {
		return prob, false
	}

	var sum float64
	for i, l := range logits {
		if !support[i] {
			continue
		}
		e := math.Exp(float64(l) - maxv)
		prob[i] = e
		sum += e
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		clear(prob)
		return prob, false
	}
	invSum := 1.0 / sum
	for i := range prob {
		prob[i] *= invSum
	}
	return prob, true
}
