package mathx

import "math"

// FloorToInt32 floors a world-space value to a signed lattice index.
func FloorToInt32(v float32) int32 {
	return int32(math.Floor(float64(v)))
}

func Clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func Clamp01(v float32) float32 { return Clamp(v, 0, 1) }

// Lerp rounds the product before the add so targets that fuse
// multiply-add still produce identical bits.
func Lerp(a, b, t float32) float32 {
	return a + float32(t*(b-a))
}

func Abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func Sqrt32(v float32) float32 { return float32(math.Sqrt(float64(v))) }
