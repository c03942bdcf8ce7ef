package embedders

import "math"

// L2Normalize scales v to unit length in place and returns it. Zero vectors
// are returned unchanged.
func L2Normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i, f := range v {
		v[i] = float32(float64(f) / norm)
	}
	return v
}
