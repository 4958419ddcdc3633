package vectorindex

import "math"

// NormalizeL2 returns a unit-length copy of v. ok is false when v is empty,
// has zero norm or holds a non-finite component.
func NormalizeL2(v []float32) (out []float32, ok bool) {
	if len(v) == 0 {
		return nil, false
	}
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		sum += f * f
	}
	n := math.Sqrt(sum)
	if n == 0 {
		return nil, false
	}
	out = make([]float32, len(v))
	inv := 1.0 / n
	for i := range v {
		out[i] = float32(float64(v[i]) * inv)
	}
	return out, true
}

// Dot computes the inner product of two equal-length vectors.
func Dot(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// Cosine computes cosine similarity between two raw vectors.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	na, okA := NormalizeL2(a)
	nb, okB := NormalizeL2(b)
	if !okA || !okB {
		return 0, nil
	}
	return clampSimilarity(Dot(na, nb)), nil
}

// clampSimilarity trims float32 rounding so unit vectors never score above 1.
func clampSimilarity(s float64) float64 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
