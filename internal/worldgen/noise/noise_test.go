package noise

import (
	"math"
	"testing"

	"vibeheim.ai/internal/worldgen/chunk"
)

func TestPerlinDeterministic(t *testing.T) {
	a := New(1337)
	b := New(1337)
	for i := 0; i < 200; i++ {
		x := float32(i)*37.5 - 3000
		y := float32(i)*-11.25 + 77
		va := a.Perlin(x, y, 0.0025, BiomeMeadows, chunk.Coord{})
		vb := b.Perlin(x, y, 0.0025, BiomeMeadows, chunk.Coord{})
		if math.Float32bits(va) != math.Float32bits(vb) {
			t.Fatalf("perlin(%v,%v) differs: %v vs %v", x, y, va, vb)
		}
	}
}

func TestPerlinRange(t *testing.T) {
	g := New(42)
	const eps = 1e-5
	for i := 0; i < 5000; i++ {
		x := float32(i%97)*13.7 - 600
		y := float32(i/97)*29.3 - 900
		v := g.Perlin(x, y, 0.01, Terrain, chunk.Coord{})
		if v < -eps || v > 1+eps || math.IsNaN(float64(v)) {
			t.Fatalf("perlin out of range at (%v,%v): %v", x, y, v)
		}
	}
}

func TestPerlinLatticePointIsHalf(t *testing.T) {
	// Gradient dot products vanish on lattice points.
	g := New(9)
	if v := g.Perlin(4, -8, 0.5, Terrain, chunk.Coord{}); v != 0.5 {
		t.Fatalf("lattice value=%v want=0.5", v)
	}
}

func TestFeatureTagsDecorrelate(t *testing.T) {
	g := New(1337)
	same := 0
	for i := 0; i < 100; i++ {
		x := float32(i)*53.1 + 0.5
		if g.Perlin(x, 17.3, 0.01, BiomeMeadows, chunk.Coord{}) == g.Perlin(x, 17.3, 0.01, BiomeSwamp, chunk.Coord{}) {
			same++
		}
	}
	if same > 5 {
		t.Fatalf("tags produced %d identical samples out of 100", same)
	}
}

func TestChunkHintChangesSeed(t *testing.T) {
	g := New(1337)
	if g.MixedSeed(Terrain, chunk.Coord{}) == g.MixedSeed(Terrain, chunk.Coord{X: 1}) {
		t.Fatalf("chunk hint did not change mixed seed")
	}
}

func TestHashChunkCoordZeroIsZero(t *testing.T) {
	if h := HashChunkCoord(chunk.Coord{}); h != 0 {
		t.Fatalf("HashChunkCoord(0)=%d want=0", h)
	}
}

func TestOctaveZeroOctaves(t *testing.T) {
	g := New(1)
	if v := g.Octave(10, 10, 0.01, 0, 0.5, 2, Terrain, chunk.Coord{}); v != 0 {
		t.Fatalf("octave with 0 octaves=%v want=0", v)
	}
	if v := g.Octave(10, 10, 0.01, 1, 0.5, 2, Terrain, chunk.Coord{}); v != g.Perlin(10, 10, 0.01, Terrain, chunk.Coord{}) {
		t.Fatalf("single octave should equal perlin")
	}
}

func TestRidgedShape(t *testing.T) {
	if r := ridge(0.5); r != 1 {
		t.Fatalf("ridge(0.5)=%v want=1", r)
	}
	if r := ridge(0); r != 0 {
		t.Fatalf("ridge(0)=%v want=0", r)
	}
	if r := ridge(1); r != 0 {
		t.Fatalf("ridge(1)=%v want=0", r)
	}
}

func TestTerrainHeightClampedAndStable(t *testing.T) {
	g := New(1337)
	p := DefaultTerrainParams()
	for i := 0; i < 300; i++ {
		x := float32(i)*211 - 30000
		y := float32(i)*-97 + 1200
		a := g.TerrainHeight(x, y, p, chunk.Coord{})
		b := g.TerrainHeight(x, y, p, chunk.Coord{})
		if a < 0 || a > 1 {
			t.Fatalf("terrain height out of range: %v", a)
		}
		if math.Float32bits(a) != math.Float32bits(b) {
			t.Fatalf("terrain height not deterministic at (%v,%v)", x, y)
		}
	}
}

func TestFlowAccumulationThreshold(t *testing.T) {
	g := New(5)
	for i := 0; i < 100; i++ {
		v := g.FlowAccumulation(float32(i)*150, 40, 0.002, 8, 0.3, chunk.Coord{})
		if v != 0 && v < 0.3 {
			t.Fatalf("flow %v below threshold was not zeroed", v)
		}
		if v > 1 {
			t.Fatalf("flow %v above 1", v)
		}
	}
	if v := g.FlowAccumulation(0, 0, 0.002, 0, 0.3, chunk.Coord{}); v != 0 {
		t.Fatalf("zero steps flow=%v want=0", v)
	}
}

func TestRandomIntBounds(t *testing.T) {
	g := New(77)
	for i := int32(0); i < 500; i++ {
		v := g.RandomInt(i, -i, -3, 4, POI, chunk.Coord{})
		if v < -3 || v > 4 {
			t.Fatalf("RandomInt=%d out of [-3,4]", v)
		}
		f := g.RandomFloat(i, i*7, POI, chunk.Coord{})
		if f < 0 || f > 1 {
			t.Fatalf("RandomFloat=%v out of [0,1]", f)
		}
	}
}
