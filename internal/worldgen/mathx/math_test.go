package mathx

import "testing"

func TestFloorToInt32Negative(t *testing.T) {
	if got := FloorToInt32(-0.5); got != -1 {
		t.Fatalf("FloorToInt32(-0.5)=%d want=-1", got)
	}
	if got := FloorToInt32(1599.9); got != 1599 {
		t.Fatalf("FloorToInt32(1599.9)=%d want=1599", got)
	}
}

func TestRandDeterministic(t *testing.T) {
	a := NewRand(42)
	b := NewRand(42)
	for i := 0; i < 100; i++ {
		x, y := a.Uint64(), b.Uint64()
		if x != y {
			t.Fatalf("step %d: %d != %d", i, x, y)
		}
	}
}

func TestRandFloatRange(t *testing.T) {
	r := NewRand(7)
	for i := 0; i < 10000; i++ {
		f := r.Float32()
		if f < 0 || f >= 1 {
			t.Fatalf("Float32 out of range: %v", f)
		}
		v := r.Range(-800, 800)
		if v < -800 || v > 800 {
			t.Fatalf("Range out of range: %v", v)
		}
	}
}
