package chunk

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestFromWorldFloorsNegative(t *testing.T) {
	const size = 1600
	cases := []struct {
		pos  mgl32.Vec3
		want Coord
	}{
		{mgl32.Vec3{0, 0, 0}, Coord{}},
		{mgl32.Vec3{1599, 0, 0}, Coord{}},
		{mgl32.Vec3{1600, 0, 0}, Coord{X: 1}},
		{mgl32.Vec3{-1, -1600, -1601}, Coord{X: -1, Y: -1, Z: -2}},
	}
	for _, c := range cases {
		if got := FromWorld(c.pos, size); got != c.want {
			t.Fatalf("FromWorld(%v)=%v want=%v", c.pos, got, c.want)
		}
	}
}

func TestKeyRoundTrip(t *testing.T) {
	c := Coord{X: -3, Y: 12, Z: 0}
	got, err := ParseKey(c.Key())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != c {
		t.Fatalf("got=%v want=%v", got, c)
	}
	if _, err := ParseKey("nope"); err == nil {
		t.Fatalf("expected error for malformed key")
	}
}

func TestDistanceAndContains(t *testing.T) {
	if d := (Coord{}).Distance(Coord{X: 3, Y: 4}); d != 5 {
		t.Fatalf("distance=%v want=5", d)
	}
	c := Coord{X: 1}
	if !c.Contains(1600, 10, 1600) || c.Contains(3200, 10, 1600) {
		t.Fatalf("contains mismatch")
	}
	if got := c.Center(1600); got.X() != 2400 || got.Y() != 800 {
		t.Fatalf("center=%v", got)
	}
}
